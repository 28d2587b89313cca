package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/llm"
)

// Metric names, in table column order.
const (
	MetricContextUtilization = "context_utilization"
	MetricAnswerRelevancy    = "answer_relevancy"
	MetricFaithfulness       = "faithfulness"
	MetricContextRecall      = "context_recall"
	MetricBLEU               = "bleu"
)

// Sample is one answered question ready for scoring.
type Sample struct {
	Question  string
	Answer    string
	Contexts  []string
	Reference string
}

// Metric scores a sample in [0, 1].
type Metric interface {
	Name() string
	Score(ctx context.Context, s Sample) (float64, error)
}

// DefaultMetrics is the full metric set: four LLM judges and BLEU.
func DefaultMetrics(gw llm.Gateway, judgeModel string, opts ...JudgeOption) []Metric {
	return []Metric{
		NewContextUtilization(gw, judgeModel, opts...),
		NewAnswerRelevancy(gw, judgeModel, opts...),
		NewFaithfulness(gw, judgeModel, opts...),
		NewContextRecall(gw, judgeModel, opts...),
		BLEU{},
	}
}

const replyFormat = `Reply with ONLY a JSON object: {"score": 0.0, "reasoning": "brief explanation"}`

// judge asks an LLM for a JSON score.
type judge struct {
	name         string
	gateway      llm.Gateway
	model        string
	system       string
	prompt       func(s Sample) string
	needsContext bool
	timeout      time.Duration
}

type JudgeOption func(*judge)

// WithJudgeTimeout bounds each judge call.
func WithJudgeTimeout(d time.Duration) JudgeOption {
	return func(j *judge) { j.timeout = d }
}

func newJudge(j *judge, opts []JudgeOption) Metric {
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *judge) Name() string { return j.name }

func (j *judge) Score(ctx context.Context, s Sample) (float64, error) {
	if j.needsContext && len(s.Contexts) == 0 {
		return 0, nil
	}
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	resp, err := j.gateway.Chat(ctx, llm.ChatRequest{
		Model: j.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: j.system + "\n" + replyFormat},
			{Role: llm.RoleUser, Content: j.prompt(s)},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%s judge: %w", j.name, apperr.External("judge sample", err))
	}
	score, err := parseScore(resp.Content)
	if err != nil {
		return 0, fmt.Errorf("%s judge: %w", j.name, err)
	}
	return score, nil
}

func NewContextUtilization(gw llm.Gateway, model string, opts ...JudgeOption) Metric {
	return newJudge(&judge{
		name:    MetricContextUtilization,
		gateway: gw,
		model:   model,
		system: `You are evaluating context utilization: what fraction of the retrieved context pieces were actually useful for producing the answer to the question?
Score from 0.0 (none of the context was used) to 1.0 (every piece of context was used). Weight earlier pieces more, they were ranked higher.`,
		prompt: func(s Sample) string {
			return fmt.Sprintf("Question: %s\n\nContext:\n%s\n\nAnswer: %s", s.Question, numbered(s.Contexts), s.Answer)
		},
		needsContext: true,
	}, opts)
}

func NewAnswerRelevancy(gw llm.Gateway, model string, opts ...JudgeOption) Metric {
	return newJudge(&judge{
		name:    MetricAnswerRelevancy,
		gateway: gw,
		model:   model,
		system: `Rate how relevant the answer is to the question on a scale of 0.0 to 1.0.
Penalize answers that are incomplete, evasive, or contain information the question did not ask for.`,
		prompt: func(s Sample) string {
			return fmt.Sprintf("Question: %s\n\nAnswer: %s", s.Question, s.Answer)
		},
	}, opts)
}

func NewFaithfulness(gw llm.Gateway, model string, opts ...JudgeOption) Metric {
	return newJudge(&judge{
		name:    MetricFaithfulness,
		gateway: gw,
		model:   model,
		system: `You are evaluating faithfulness: does the answer ONLY contain claims supported by the provided context?
Score is the fraction of the answer's claims that the context supports, from 0.0 to 1.0.`,
		prompt: func(s Sample) string {
			return fmt.Sprintf("Context:\n%s\n\nAnswer: %s", numbered(s.Contexts), s.Answer)
		},
		needsContext: true,
	}, opts)
}

func NewContextRecall(gw llm.Gateway, model string, opts ...JudgeOption) Metric {
	return newJudge(&judge{
		name:    MetricContextRecall,
		gateway: gw,
		model:   model,
		system: `You are evaluating context recall: what fraction of the statements in the reference answer can be attributed to the retrieved context?
Score from 0.0 (nothing in the reference is supported) to 1.0 (everything is supported).`,
		prompt: func(s Sample) string {
			return fmt.Sprintf("Question: %s\n\nContext:\n%s\n\nReference answer: %s", s.Question, numbered(s.Contexts), s.Reference)
		},
		needsContext: true,
	}, opts)
}

func numbered(contexts []string) string {
	var sb strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, c)
	}
	return sb.String()
}

func parseScore(content string) (float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed struct {
		Score     *float64 `json:"score"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return 0, fmt.Errorf("parse judge reply: %w", err)
	}
	if parsed.Score == nil {
		return 0, fmt.Errorf("judge reply has no score")
	}
	return min(max(*parsed.Score, 0), 1), nil
}
