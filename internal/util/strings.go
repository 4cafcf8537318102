package util

import "unicode/utf8"

// SafeTruncate safely truncates a string to at most maxLen bytes without panicking.
// Returns the original string if it's shorter than maxLen. When the cut would
// land inside a multi-byte character, the partial character is dropped so the
// result is always valid UTF-8. This is used when logging attacker-controlled
// header values, where only a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-header-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                   // Returns: "short"
//	SafeTruncate("test", -1)                    // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateRunes returns the first n characters of s.
// If n is not positive the string is returned unchanged.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
