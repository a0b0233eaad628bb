// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when the caller does not know the submitter's region.
const DefaultRegion = "US"

// NormalizeE164 formats a phone number to E.164 using region for national
// numbers. If parsing fails, it returns the input with formatting characters removed,
// so equivalent spellings of an unparsable number still compare equal.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return digitsOnly(trimmed)
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
