// Package tokenizer estimates token counts for chunk metadata.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Estimate returns a rough token count for English-like text: the larger of
// the word-based (~0.75 words per token) and character-based (~4 runes per
// token) estimates. Empty text counts as zero.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	byWords := words * 4 / 3
	byRunes := utf8.RuneCountInString(text) / 4
	return max(byWords, byRunes, 1)
}
