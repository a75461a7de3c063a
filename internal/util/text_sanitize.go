package util

import "strings"

// SanitizeText prepares a cell for embedding and storage. NUL bytes and other
// control characters are dropped and whitespace runs collapse to one space.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, ch := range s {
		switch {
		case ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t' || ch == '\u00a0':
			space = true
			continue
		case ch < 0x20 || ch == 0x7f:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(ch)
	}
	return b.String()
}
