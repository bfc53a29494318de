package prompt

import (
	"strings"
	"unicode"
)

// EstimateTokens gives a rough token count for logging prompt sizes.
// Whitespace-separated words count ~1.33 tokens; Han, Hiragana, Katakana
// and Hangul characters count one token each since they carry no spaces.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk int
	var sb strings.Builder
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
			sb.WriteRune(' ')
			continue
		}
		sb.WriteRune(r)
	}
	words := len(strings.Fields(sb.String()))
	tokens := cjk + int(float64(words)*1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
