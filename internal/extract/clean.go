package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMinLength is the shortest cleaned text treated as a successful extraction.
const DefaultMinLength = 10

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes line endings to LF, collapses runs of spaces and tabs, limits
// blank lines to one, and trims the result.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Validate returns ErrTextTooShort when the trimmed text has fewer than minLength characters.
func Validate(text string, minLength int) error {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < minLength {
		return fmt.Errorf("%w: %d characters", ErrTextTooShort, n)
	}
	return nil
}

// Preview returns the first n runes of text, with "..." appended when text is longer.
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

// Prefix returns the first n runes of text without any marker.
func Prefix(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
