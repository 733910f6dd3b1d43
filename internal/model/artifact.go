package model

import "time"

// ArtifactType classifies the binary blobs attached to an extraction.
type ArtifactType string

const (
	ArtifactSourceDocument    ArtifactType = "source_document"
	ArtifactCleanedDocument   ArtifactType = "cleaned_document"
	ArtifactReviewDocument    ArtifactType = "review_document"
	ArtifactExtractorResponse ArtifactType = "extractor_response"
	ArtifactCandidateSet      ArtifactType = "candidate_set"
	ArtifactSyncMetadata      ArtifactType = "sync_metadata"
)

// Artifact is an immutable binary blob scoped to exactly one Extraction.
// Multiple artifacts of the same type may exist (retries, re-renders);
// retrieval returns the newest.
type Artifact struct {
	ID           int64        `json:"id"`
	ExtractionID int64        `json:"extraction_id"`
	Type         ArtifactType `json:"artifact_type"`
	Content      []byte       `json:"-"`
	ContentType  string       `json:"content_type,omitempty"`
	Size         int64        `json:"size"`
	CreatedAt    time.Time    `json:"created_at"`
}
