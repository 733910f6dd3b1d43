package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ValidatedOffice is an authoritative, human-approved office record.
// Its deterministic key makes repeated validation cycles for the same
// unit+city converge on one row.
type ValidatedOffice struct {
	OfficeFields
	OfficeID         string     `json:"office_id"`
	UnitID           string     `json:"unit_id"`
	ValidatedAt      time.Time  `json:"validated_at"`
	SyncedToUpstream bool       `json:"synced_to_upstream"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
}

var officeIDFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// OfficeID derives the deterministic office key from a unit ID and city.
// Both parts are lowercased, diacritics are folded ("Cañon City" and
// "Canon City" key identically), and whitespace runs collapse to a
// single underscore. An empty city maps to "unknown".
func OfficeID(unitID, city string) string {
	return foldKeyPart(unitID) + "-" + foldKeyPart(city)
}

func foldKeyPart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	if folded, _, err := transform.String(officeIDFolder, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), "_")
}
