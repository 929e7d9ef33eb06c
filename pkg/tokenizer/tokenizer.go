// Package tokenizer computes token counts for skill sections. Counts are
// derived from section content at parse time; token figures written as prose
// inside skill documents are never trusted.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CharsPerToken is the heuristic ratio used by the default counter.
const CharsPerToken = 4

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// Heuristic estimates tokens from characters and words. It never
// under-counts a non-empty text to zero, so a budget can always be checked
// against a positive cost.
type Heuristic struct {
	CharsPerToken int
}

// Default is the counter used when none is configured.
var Default Counter = Heuristic{CharsPerToken: CharsPerToken}

// Count returns max(ceil(runes/CharsPerToken), words) for non-blank text.
func (h Heuristic) Count(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	per := h.CharsPerToken
	if per <= 0 {
		per = CharsPerToken
	}

	runes := utf8.RuneCountInString(text)
	byChars := (runes + per - 1) / per

	words := len(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	}))
	if words > byChars {
		return words
	}
	return byChars
}

// Count uses the Default counter.
func Count(text string) int {
	return Default.Count(text)
}
