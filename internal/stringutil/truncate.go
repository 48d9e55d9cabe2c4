// Package stringutil holds small string helpers shared across packages.
package stringutil

import "unicode/utf8"

const truncationMarker = "... (truncated)"

// Truncate renders b as a string of at most maxLen characters plus a marker.
// It is meant for log fields that may carry arbitrary binary payloads, such
// as xattr values from a send stream.
func Truncate(b []byte, maxLen int) string {
	s := string(b)
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + truncationMarker
}
