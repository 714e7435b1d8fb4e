package chunker

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens gives a rough token count for a segment. Whitespace-separated
// text uses ~1.33 tokens per word; text with few spaces (CJK, code) falls back
// to ~4 code points per token, whichever is larger.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := int(float64(len(strings.Fields(text))) * 1.33)
	byRunes := utf8.RuneCountInString(text) / 4
	tokens := max(byWords, byRunes)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
