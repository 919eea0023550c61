package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: trims it, drops
// control characters and collapses whitespace runs into one space. Chunk
// offsets refer to the preprocessed text.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		case unicode.IsControl(r), r == '\uFEFF':
		default:
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
