package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"leadflow_backend/platform/phone"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Identity is the normalized content a submission is deduplicated on.
// Timestamps are deliberately absent: identical resubmissions collapse no
// matter how much time passed.
type Identity struct {
	FunnelID string
	Email    string
	Phone    string
	Name     string
	Message  string
	// PhoneRegion is used to interpret national phone numbers.
	PhoneRegion string
}

// DeriveKey returns hex(sha256) over the normalized identity fields.
func DeriveKey(id Identity) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(id.FunnelID)),
		strings.ToLower(strings.TrimSpace(id.Email)),
		phone.NormalizeE164(id.Phone, id.PhoneRegion),
		foldText(id.Name),
		foldText(id.Message),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func foldText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
