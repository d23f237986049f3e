package utils

import (
	"strings"
	"unicode"
)

// SanitizeString removes dangerous characters from string
func SanitizeString(input string) string {
	// Remove null bytes and control characters, keep line breaks
	input = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)

	return strings.TrimSpace(input)
}

// StringPtr returns a pointer to a copy of s
func StringPtr(s string) *string { return &s }

// FullName joins first and last name, skipping empty parts
func FullName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
