package model

import "time"

// Well-known provenance event names. Free-form names are allowed; these
// are the ones the pipeline and state machine emit.
const (
	EventExtractionCreated = "extraction_created"
	EventStatusChanged     = "status_changed"
	EventDocumentFetched   = "document_fetched"
	EventDocumentCleaned   = "document_cleaned"
	EventCandidatesStored  = "candidates_stored"
	EventNoOfficesFound    = "no_offices_found"
	EventReviewRendered    = "review_rendered"
	EventDecisionReceived  = "decision_received"
	EventOfficesUpserted   = "offices_upserted"
)

// ProvenanceEvent is one append-only log row describing a step of an
// extraction's processing. OccurredAt is non-decreasing within a single
// extraction's event stream.
type ProvenanceEvent struct {
	ID           int64          `json:"id"`
	ExtractionID int64          `json:"extraction_id"`
	Name         string         `json:"event_name"`
	OccurredAt   time.Time      `json:"occurred_at"`
	RunID        string         `json:"run_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}
