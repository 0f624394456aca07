package moderation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxReasonLength bounds a moderation reason in characters.
const MaxReasonLength = 500

// SanitizeReason trims a moderator-supplied reason and removes control
// characters except newline and tab. HTML escaping is left to renderers.
func SanitizeReason(reason string) string {
	return strings.TrimSpace(removeControlChars(reason))
}

// ValidateStringLength validates that a string is within the specified length constraints.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return fmt.Errorf("%s must be at least %d characters long", field, min)
	}

	if max > 0 && length > max {
		return fmt.Errorf("%s must be at most %d characters long", field, max)
	}

	return nil
}

// removeControlChars removes control characters except newline and tab.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
