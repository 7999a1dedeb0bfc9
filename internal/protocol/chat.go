package protocol

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeChat normalizes chat text to NFC, strips control characters and
// surrounding whitespace, and truncates to maxRunes when it is positive.
func SanitizeChat(text string, maxRunes int) string {
	text = strings.ToValidUTF8(text, "")
	text = norm.NFC.String(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if maxRunes > 0 {
		runes := []rune(text)
		if len(runes) > maxRunes {
			text = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}

	return text
}
