package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims, drops control characters, collapses runs of
// whitespace to one space and caps the result at maxLen runes (0 means no
// cap).
func SanitizeString(input string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(input))
	runes, pendingSpace := 0, false
	for _, r := range strings.TrimSpace(input) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if pendingSpace && runes > 0 {
			if maxLen > 0 && runes+1 >= maxLen {
				break
			}
			b.WriteByte(' ')
			runes++
		}
		pendingSpace = false
		if maxLen > 0 && runes >= maxLen {
			break
		}
		b.WriteRune(r)
		runes++
	}
	return b.String()
}
