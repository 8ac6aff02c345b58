// Package security holds input-hygiene helpers for values that cross from
// user data into the filesystem.
package security

import "strings"

// SanitizeFilename makes a safe filename component from an arbitrary string.
// Recording names come straight from upstream acquisition software and may
// contain separators, spaces, or anything else; embedding them into report
// paths unfiltered would allow traversal. Characters outside ASCII letters,
// digits, dot, underscore and dash become underscores, runs of underscores
// collapse, and the result is trimmed to a sane length.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
