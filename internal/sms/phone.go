package sms

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone converts US numbers to E.164. Ten digit numbers get +1,
// eleven digit numbers starting with 1 get a plus, and numbers already
// written with a leading plus are kept when they have 8 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	plus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case plus && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits, nil
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	default:
		return "", ErrInvalidPhone
	}
}
