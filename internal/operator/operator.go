// Package operator classifies Cameroonian phone numbers by mobile money
// operator. Detection is a pure prefix lookup with no I/O; an unrecognized
// number is a normal outcome, not an error.
package operator

import (
	"strings"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
)

type Operator string

const (
	MTN     Operator = "MTN"
	Orange  Operator = "ORANGE"
	Unknown Operator = "UNKNOWN"
)

// countryCode is the fixed Cameroon dialing prefix.
const countryCode = "237"

// minSubscriberDigits is the minimum number of digits after the country code
// for a number to be classifiable.
const minSubscriberDigits = 8

// MTN is checked before Orange. The two tables partition the prefix space so
// order cannot change the result, but the check order is fixed for audit.
var (
	mtnTwoDigit    = map[string]bool{"50": true, "51": true, "52": true, "53": true, "54": true, "65": true, "67": true, "68": true}
	orangeTwoDigit = map[string]bool{"55": true, "56": true, "57": true, "58": true, "59": true, "69": true}
)

// Normalize strips everything but digits and prefixes the country code.
// Returns a validation error when fewer than 8 subscriber digits remain.
func Normalize(raw string) (string, *errors.AppError) {
	digits := digitsOnly(raw)
	digits = strings.TrimPrefix(digits, countryCode)
	if len(digits) < minSubscriberDigits {
		return "", errors.NewValidationFieldError("phone", "phone number must have at least 8 digits after the country code", errors.ErrCodeInvalidPhone)
	}
	return countryCode + digits, nil
}

// Detect maps a raw phone number to its mobile money operator. Formatting
// noise and a leading "237" are ignored; numbers too short to classify or
// with an unrecognized prefix return Unknown.
func Detect(raw string) Operator {
	digits := digitsOnly(raw)
	digits = strings.TrimPrefix(digits, countryCode)
	if len(digits) < minSubscriberDigits {
		return Unknown
	}

	if mtnTwoDigit[digits[:2]] || digits[0] == '7' || digits[0] == '8' {
		return MTN
	}
	if orangeTwoDigit[digits[:2]] || digits[0] == '9' {
		return Orange
	}
	return Unknown
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
