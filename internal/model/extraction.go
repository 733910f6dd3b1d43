package model

import "time"

// ExtractionStatus is the lifecycle state of one extraction attempt.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionValidated  ExtractionStatus = "validated"
	ExtractionRejected   ExtractionStatus = "rejected"
	ExtractionFailed     ExtractionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
// A new attempt for the same unit is a new Extraction row, never a
// reopened one.
func (s ExtractionStatus) Terminal() bool {
	switch s {
	case ExtractionValidated, ExtractionRejected, ExtractionFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the five known statuses.
func (s ExtractionStatus) Valid() bool {
	switch s {
	case ExtractionPending, ExtractionProcessing,
		ExtractionValidated, ExtractionRejected, ExtractionFailed:
		return true
	}
	return false
}

// Extraction is one attempt to obtain offices for a Unit from a specific
// source URL. The most recently created row is the unit's "current"
// extraction; older rows are kept as history.
type Extraction struct {
	ID           int64            `json:"id"`
	UnitID       string           `json:"unit_id"`
	Status       ExtractionStatus `json:"status"`
	SourceURL    string           `json:"source_url"`
	Priority     int              `json:"priority"`
	ErrorMessage string           `json:"error_message,omitempty"`
	RetryCount   int              `json:"retry_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	ValidatedAt  *time.Time       `json:"validated_at,omitempty"`
}

// OfficeFields holds the physical/contact attributes shared by candidate
// and validated office records. Field names match what the extractor is
// prompted to emit.
type OfficeFields struct {
	OfficeType string `json:"office_type,omitempty"`
	Building   string `json:"building,omitempty"`
	Address    string `json:"address,omitempty"`
	Suite      string `json:"suite,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Fax        string `json:"fax,omitempty"`
	Hours      string `json:"hours,omitempty"`
}

// CandidateOffice is a raw office record proposed by the extractor,
// scoped to one Extraction. Immutable once written; a re-extraction
// supersedes it with a new Extraction rather than editing in place.
type CandidateOffice struct {
	OfficeFields
	ID           int64 `json:"id"`
	ExtractionID int64 `json:"extraction_id"`
}
