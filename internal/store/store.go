package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicdata/district-offices/internal/model"
)

// Sentinel errors surfaced by store operations. Callers test with eris.Is.
var (
	// ErrUnknownUnit is returned by CreateExtraction when the referenced
	// unit has no local row. Caller error; never retried.
	ErrUnknownUnit = eris.New("unknown unit")

	// ErrInvalidTransition is returned by TransitionTo when the extraction
	// is already in a terminal state. The row is left untouched.
	ErrInvalidTransition = eris.New("invalid transition")

	// ErrArtifactMissing is returned by GetArtifact when no artifact of
	// the requested type exists for the extraction.
	ErrArtifactMissing = eris.New("artifact missing")

	// ErrNotFound is returned by point reads for absent rows.
	ErrNotFound = eris.New("not found")
)

// Store is the persistence contract for the extraction lifecycle, its
// artifacts and provenance, validated offices, and sync-run bookkeeping.
// Each write method is one transaction; partial writes are never
// observable.
type Store interface {
	// Units and contact endpoints (written by upstream import and seed only).
	UpsertUnit(ctx context.Context, u model.Unit) error
	GetUnit(ctx context.Context, unitID string) (*model.Unit, error)
	ListUnitsNeedingExtraction(ctx context.Context) ([]model.Unit, error)
	UpsertContactEndpoint(ctx context.Context, c model.ContactEndpoint) error
	GetContactEndpoint(ctx context.Context, unitID string) (*model.ContactEndpoint, error)

	// Extraction state machine.
	CreateExtraction(ctx context.Context, unitID, sourceURL string, priority int) (*model.Extraction, error)
	GetExtraction(ctx context.Context, id int64) (*model.Extraction, error)
	TransitionTo(ctx context.Context, id int64, status model.ExtractionStatus, errorMessage string) error
	ListPending(ctx context.Context, limit int) ([]model.Extraction, error)
	ListProcessing(ctx context.Context, limit int) ([]model.Extraction, error)

	// Candidate offices (immutable once written).
	StoreCandidateOffices(ctx context.Context, extractionID int64, offices []model.OfficeFields) ([]model.CandidateOffice, error)
	CandidateOfficesFor(ctx context.Context, extractionID int64) ([]model.CandidateOffice, error)

	// Validated offices.
	UpsertValidatedOffice(ctx context.Context, o model.ValidatedOffice) error
	GetValidatedOffice(ctx context.Context, officeID string) (*model.ValidatedOffice, error)
	ListUnsyncedOffices(ctx context.Context) ([]model.ValidatedOffice, error)
	MarkOfficesSynced(ctx context.Context, officeIDs []string, syncedAt time.Time) error

	// Artifacts (append-only).
	StoreArtifact(ctx context.Context, extractionID int64, typ model.ArtifactType, content []byte, contentType string) (int64, error)
	GetArtifact(ctx context.Context, extractionID int64, typ model.ArtifactType) (*model.Artifact, error)

	// Provenance (append-only, per-extraction monotonic occurred_at).
	AppendEvent(ctx context.Context, extractionID int64, name string, payload map[string]any) error
	EventsFor(ctx context.Context, extractionID int64) ([]model.ProvenanceEvent, error)

	// Sync-run bookkeeping.
	StartSyncRun(ctx context.Context, kind model.SyncKind) (int64, error)
	CompleteSyncRun(ctx context.Context, runID int64, recordsProcessed int) error
	FailSyncRun(ctx context.Context, runID int64, errorMessage string) error
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	Stats(ctx context.Context) (*model.Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}
