package messaging

import "strings"

// NormalizePhone returns the canonical Venezuelan form 58XXXXXXXXXX, or "" when s cannot be
// a mobile number. Accepts +58, 0058, local 04XX and bare 4XX forms with any punctuation.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := strings.TrimPrefix(b.String(), "00")
	switch {
	case strings.HasPrefix(d, "58") && len(d) == 12:
		return d
	case strings.HasPrefix(d, "0") && len(d) == 11:
		return "58" + d[1:]
	case strings.HasPrefix(d, "4") && len(d) == 10:
		return "58" + d
	}
	return ""
}
