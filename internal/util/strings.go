package util

import (
	"strings"
	"unicode/utf8"
)

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// The cut backs off to a rune boundary so valid UTF-8 stays valid.
// A negative maxLen is treated as 0.
//
// Example:
//
//	SafeTruncate("very-long-error-body", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)               // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

// NormalizeEmail lowercases and trims an email address.
// Google treats the local part case-insensitively for Workspace accounts.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParseScope splits a space-delimited scope string into its unique scopes,
// preserving first-seen order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
