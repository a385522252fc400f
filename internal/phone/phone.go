// Package phone canonicalizes Indian mobile numbers to +91XXXXXXXXXX.
package phone

import (
	"fmt"
	"strings"
	"unicode"

	"qms/token-service/internal/store"
)

const (
	countryCode     = "91"
	subscriberLen   = 10
	canonicalPrefix = "+" + countryCode
)

// Normalize accepts a 10-digit mobile number starting with 6-9, optionally
// prefixed with 91 or +91. Whitespace, hyphens and parentheses are ignored.
func Normalize(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		switch r {
		case '-', '(', ')':
			return -1
		}
		return r
	}, raw)

	digits := cleaned
	switch {
	case strings.HasPrefix(cleaned, canonicalPrefix):
		digits = cleaned[len(canonicalPrefix):]
	case len(cleaned) == len(countryCode)+subscriberLen && strings.HasPrefix(cleaned, countryCode):
		digits = cleaned[len(countryCode):]
	}

	if len(digits) != subscriberLen {
		return "", fmt.Errorf("%w: expected %d digits", store.ErrInvalidPhoneNumber, subscriberLen)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: non-numeric characters", store.ErrInvalidPhoneNumber)
		}
	}
	if digits[0] < '6' {
		return "", fmt.Errorf("%w: mobile numbers start with 6-9", store.ErrInvalidPhoneNumber)
	}
	return canonicalPrefix + digits, nil
}

// Mask hides all but the last four digits, for logs.
func Mask(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
