package extractor

import (
	"strconv"
	"strings"
)

// digitsOnly drops every character that is not an ASCII digit, so "1,234 "
// and "1.234" both become "1234".
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// digitsInt parses the digits of s, returning 0 when there are none or the
// value overflows.
func digitsInt(s string) int64 {
	v, err := strconv.ParseInt(digitsOnly(s), 10, 32)
	if err != nil {
		return 0
	}
	return v
}

// digitsFloat parses the digits of s. ok is false when s carries no digits.
func digitsFloat(s string) (float64, bool) {
	digits := digitsOnly(s)
	if digits == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
