package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreviewLength is the length of the text preview attached to each result.
const PreviewLength = 150

// Highlight truncates content to at most maxLen characters, preferring to cut
// at a word boundary, and appends "..." when it cut anything.
func Highlight(content string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(content) <= maxLen {
		return content
	}
	runes := []rune(content)[:maxLen]
	cut := len(runes)
	// Back up to the last space if it is not too far away.
	for i := len(runes) - 1; i > len(runes)*2/3; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "..."
}
