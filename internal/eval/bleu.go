package eval

import (
	"context"
	"math"
	"strings"
	"unicode"
)

const bleuOrder = 4

// BLEU is sentence-level BLEU-4 of the answer against the reference, with
// exponential smoothing of zero n-gram matches, scaled to [0, 1]. An answer
// sharing no n-gram of any order with the reference scores 0.
type BLEU struct{}

func (BLEU) Name() string { return MetricBLEU }

func (BLEU) Score(_ context.Context, s Sample) (float64, error) {
	return SentenceBLEU(s.Answer, s.Reference), nil
}

func SentenceBLEU(hypothesis, reference string) float64 {
	hyp := bleuTokens(hypothesis)
	ref := bleuTokens(reference)
	if len(hyp) == 0 || len(ref) == 0 {
		return 0
	}

	var logSum float64
	smooth := 1.0
	matched := false
	for n := 1; n <= bleuOrder; n++ {
		total := len(hyp) - n + 1
		if total <= 0 {
			return 0
		}
		refCounts := ngrams(ref, n)
		correct := 0
		for g, c := range ngrams(hyp, n) {
			correct += min(c, refCounts[g])
		}
		if correct > 0 {
			matched = true
		}
		var p float64
		if correct == 0 {
			smooth *= 2
			p = 1 / (smooth * float64(total))
		} else {
			p = float64(correct) / float64(total)
		}
		logSum += math.Log(p)
	}
	if !matched {
		return 0
	}

	bp := 1.0
	if len(hyp) < len(ref) {
		bp = math.Exp(1 - float64(len(ref))/float64(len(hyp)))
	}
	return bp * math.Exp(logSum/bleuOrder)
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int, len(tokens))
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], " ")]++
	}
	return out
}

// bleuTokens splits on whitespace and separates punctuation into its own
// tokens. Case is preserved.
func bleuTokens(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()
	return tokens
}
