package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/district-offices/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUnit(t *testing.T, s *SQLiteStore, unitID string) {
	t.Helper()
	require.NoError(t, s.UpsertUnit(context.Background(), model.Unit{
		UnitID:      unitID,
		IsCurrent:   true,
		WebsiteURL:  "https://example.gov/" + unitID,
		DisplayName: "Unit " + unitID,
		RegionCode:  "XX",
	}))
}

func TestUnitUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedUnit(t, s, "U1")
	u, err := s.GetUnit(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", u.UnitID)
	assert.True(t, u.IsCurrent)
	assert.Equal(t, "Unit U1", u.DisplayName)

	// Upsert updates in place.
	require.NoError(t, s.UpsertUnit(ctx, model.Unit{UnitID: "U1", IsCurrent: false, DisplayName: "Renamed"}))
	u, err = s.GetUnit(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, u.IsCurrent)
	assert.Equal(t, "Renamed", u.DisplayName)

	_, err = s.GetUnit(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestContactEndpointUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	require.NoError(t, s.UpsertContactEndpoint(ctx, model.ContactEndpoint{
		UnitID:     "U1",
		ContactURL: "https://example.gov/U1/contact",
	}))
	c, err := s.GetContactEndpoint(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.gov/U1/contact", c.ContactURL)
	assert.False(t, c.LastSyncedAt.IsZero())

	require.NoError(t, s.UpsertContactEndpoint(ctx, model.ContactEndpoint{
		UnitID:     "U1",
		ContactURL: "https://example.gov/U1/offices",
	}))
	c, err = s.GetContactEndpoint(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.gov/U1/offices", c.ContactURL)

	_, err = s.GetContactEndpoint(ctx, "U2")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestCreateExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	e, err := s.CreateExtraction(ctx, "U1", "https://example.gov/U1", 5)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionPending, e.Status)
	assert.Equal(t, "U1", e.UnitID)
	assert.Equal(t, 5, e.Priority)
	assert.Greater(t, e.ID, int64(0))

	got, err := s.GetExtraction(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, model.ExtractionPending, got.Status)
	assert.Nil(t, got.ValidatedAt)

	// Creation is recorded in provenance.
	events, err := s.EventsFor(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventExtractionCreated, events[0].Name)
	assert.Equal(t, "U1", events[0].Payload["unit_id"])
}

func TestCreateExtraction_UnknownUnit(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateExtraction(context.Background(), "nope", "https://example.gov", 0)
	assert.True(t, eris.Is(err, ErrUnknownUnit))
}

func TestTransitionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	e, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)

	require.NoError(t, s.TransitionTo(ctx, e.ID, model.ExtractionProcessing, ""))
	got, err := s.GetExtraction(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionProcessing, got.Status)
	assert.Nil(t, got.ValidatedAt)

	require.NoError(t, s.TransitionTo(ctx, e.ID, model.ExtractionValidated, ""))
	got, err = s.GetExtraction(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionValidated, got.Status)
	require.NotNil(t, got.ValidatedAt)
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	for _, terminal := range []model.ExtractionStatus{
		model.ExtractionValidated, model.ExtractionRejected, model.ExtractionFailed,
	} {
		e, err := s.CreateExtraction(ctx, "U1", "", 0)
		require.NoError(t, err)
		require.NoError(t, s.TransitionTo(ctx, e.ID, model.ExtractionProcessing, ""))
		require.NoError(t, s.TransitionTo(ctx, e.ID, terminal, ""))

		err = s.TransitionTo(ctx, e.ID, model.ExtractionProcessing, "")
		assert.True(t, eris.Is(err, ErrInvalidTransition), "from %s", terminal)

		// Row untouched by the refused transition.
		got, err := s.GetExtraction(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, terminal, got.Status)
	}
}

func TestTransition_FailureRecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	e, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)
	require.NoError(t, s.TransitionTo(ctx, e.ID, model.ExtractionProcessing, ""))
	require.NoError(t, s.TransitionTo(ctx, e.ID, model.ExtractionFailed, "fetch timed out"))

	got, err := s.GetExtraction(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionFailed, got.Status)
	assert.Equal(t, "fetch timed out", got.ErrorMessage)

	events, err := s.EventsFor(ctx, e.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, model.EventStatusChanged, last.Name)
	assert.Equal(t, "fetch timed out", last.Payload["error"])
}

func TestTransition_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.TransitionTo(context.Background(), 9999, model.ExtractionProcessing, "")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestListPending_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"U1", "U2", "U3", "U4"} {
		seedUnit(t, s, id)
	}

	low1, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	high, err := s.CreateExtraction(ctx, "U2", "", 10)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	low2, err := s.CreateExtraction(ctx, "U3", "", 0)
	require.NoError(t, err)

	// Non-pending rows never appear.
	proc, err := s.CreateExtraction(ctx, "U4", "", 99)
	require.NoError(t, err)
	require.NoError(t, s.TransitionTo(ctx, proc.ID, model.ExtractionProcessing, ""))

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, high.ID, pending[0].ID)
	assert.Equal(t, low1.ID, pending[1].ID)
	assert.Equal(t, low2.ID, pending[2].ID)

	limited, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"U1", "U2", "U3"} {
		seedUnit(t, s, id)
	}

	pend, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	proc1, err := s.CreateExtraction(ctx, "U2", "", 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	proc2, err := s.CreateExtraction(ctx, "U3", "", 10)
	require.NoError(t, err)

	require.NoError(t, s.TransitionTo(ctx, proc1.ID, model.ExtractionProcessing, ""))
	require.NoError(t, s.TransitionTo(ctx, proc2.ID, model.ExtractionProcessing, ""))

	processing, err := s.ListProcessing(ctx, 0)
	require.NoError(t, err)
	require.Len(t, processing, 2)
	assert.Equal(t, proc2.ID, processing[0].ID)
	assert.Equal(t, proc1.ID, processing[1].ID)

	// Pending and terminal rows never appear.
	require.NoError(t, s.TransitionTo(ctx, proc1.ID, model.ExtractionRejected, ""))
	processing, err = s.ListProcessing(ctx, 0)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, proc2.ID, processing[0].ID)

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pend.ID, pending[0].ID)
}

func TestCandidateOffices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")
	e, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)

	stored, err := s.StoreCandidateOffices(ctx, e.ID, []model.OfficeFields{
		{City: "Springfield", Address: "100 Main St", Phone: "555-0100"},
		{City: "Chicago", Address: "200 State St"},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, e.ID, stored[0].ExtractionID)

	got, err := s.CandidateOfficesFor(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Springfield", got[0].City)
	assert.Equal(t, "Chicago", got[1].City)
}

func TestValidatedOffice_UpsertResetsSyncFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	officeID := model.OfficeID("U1", "Springfield")
	require.NoError(t, s.UpsertValidatedOffice(ctx, model.ValidatedOffice{
		OfficeID:     officeID,
		UnitID:       "U1",
		OfficeFields: model.OfficeFields{City: "Springfield", Address: "100 Main St"},
	}))

	require.NoError(t, s.MarkOfficesSynced(ctx, []string{officeID}, time.Now()))
	o, err := s.GetValidatedOffice(ctx, officeID)
	require.NoError(t, err)
	assert.True(t, o.SyncedToUpstream)
	require.NotNil(t, o.SyncedAt)

	// Re-validation replaces the row and re-queues it for export.
	require.NoError(t, s.UpsertValidatedOffice(ctx, model.ValidatedOffice{
		OfficeID:     officeID,
		UnitID:       "U1",
		OfficeFields: model.OfficeFields{City: "Springfield", Address: "300 Oak Ave"},
	}))
	o, err = s.GetValidatedOffice(ctx, officeID)
	require.NoError(t, err)
	assert.Equal(t, "300 Oak Ave", o.Address)
	assert.False(t, o.SyncedToUpstream)
	assert.Nil(t, o.SyncedAt)
}

func TestListUnsyncedOffices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")

	base := time.Now().UTC().Add(-time.Hour)
	for i, city := range []string{"Springfield", "Chicago", "Peoria"} {
		require.NoError(t, s.UpsertValidatedOffice(ctx, model.ValidatedOffice{
			OfficeID:     model.OfficeID("U1", city),
			UnitID:       "U1",
			OfficeFields: model.OfficeFields{City: city},
			ValidatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.MarkOfficesSynced(ctx, []string{model.OfficeID("U1", "Chicago")}, time.Now()))

	unsynced, err := s.ListUnsyncedOffices(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, "u1-springfield", unsynced[0].OfficeID)
	assert.Equal(t, "u1-peoria", unsynced[1].OfficeID)
}

func TestMarkOfficesSynced_Empty(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.MarkOfficesSynced(context.Background(), nil, time.Now()))
}

func TestArtifacts_NewestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")
	e, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)

	_, err = s.StoreArtifact(ctx, e.ID, model.ArtifactSourceDocument, []byte("first"), "text/html")
	require.NoError(t, err)
	_, err = s.StoreArtifact(ctx, e.ID, model.ArtifactSourceDocument, []byte("second"), "text/html")
	require.NoError(t, err)

	a, err := s.GetArtifact(ctx, e.ID, model.ArtifactSourceDocument)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), a.Content)
	assert.Equal(t, int64(6), a.Size)
	assert.Equal(t, "text/html", a.ContentType)

	_, err = s.GetArtifact(ctx, e.ID, model.ArtifactReviewDocument)
	assert.True(t, eris.Is(err, ErrArtifactMissing))
}

func TestProvenance_OrderedAndMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")
	e, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, e.ID, model.EventDocumentFetched, map[string]any{"bytes": 1024}))
	require.NoError(t, s.AppendEvent(ctx, e.ID, model.EventDocumentCleaned, nil))
	require.NoError(t, s.AppendEvent(ctx, e.ID, model.EventCandidatesStored, map[string]any{"count": 2}))

	events, err := s.EventsFor(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, model.EventExtractionCreated, events[0].Name)
	assert.Equal(t, model.EventDocumentFetched, events[1].Name)
	assert.Equal(t, model.EventDocumentCleaned, events[2].Name)
	assert.Equal(t, model.EventCandidatesStored, events[3].Name)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].OccurredAt.Before(events[i-1].OccurredAt),
			"event %d occurred before event %d", i, i-1)
	}
	assert.Equal(t, float64(1024), events[1].Payload["bytes"])
	assert.Nil(t, events[2].Payload)
}

func TestSyncRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSyncRun(ctx, model.SyncImportUnits)
	require.NoError(t, err)
	require.NoError(t, s.CompleteSyncRun(ctx, id, 42))

	failed, err := s.StartSyncRun(ctx, model.SyncExportOffices)
	require.NoError(t, err)
	require.NoError(t, s.FailSyncRun(ctx, failed, "connection refused"))

	// Dangling started run: visible, never blocks anything.
	_, err = s.StartSyncRun(ctx, model.SyncImportContacts)
	require.NoError(t, err)

	runs, err := s.ListSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	// Newest first.
	assert.Equal(t, model.SyncImportContacts, runs[0].Kind)
	assert.Equal(t, model.SyncStarted, runs[0].Status)
	assert.Nil(t, runs[0].CompletedAt)

	assert.Equal(t, model.SyncExportOffices, runs[1].Kind)
	assert.Equal(t, model.SyncFailed, runs[1].Status)
	assert.Equal(t, "connection refused", runs[1].ErrorMessage)
	assert.Equal(t, model.SyncToUpstream, runs[1].Direction)

	assert.Equal(t, model.SyncImportUnits, runs[2].Kind)
	assert.Equal(t, model.SyncCompleted, runs[2].Status)
	assert.Equal(t, 42, runs[2].RecordsProcessed)
	require.NotNil(t, runs[2].CompletedAt)

	assert.True(t, eris.Is(s.CompleteSyncRun(ctx, 9999, 0), ErrNotFound))
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")
	seedUnit(t, s, "U2")

	e1, err := s.CreateExtraction(ctx, "U1", "", 0)
	require.NoError(t, err)
	require.NoError(t, s.TransitionTo(ctx, e1.ID, model.ExtractionProcessing, ""))
	require.NoError(t, s.TransitionTo(ctx, e1.ID, model.ExtractionValidated, ""))
	_, err = s.CreateExtraction(ctx, "U2", "", 0)
	require.NoError(t, err)

	require.NoError(t, s.UpsertValidatedOffice(ctx, model.ValidatedOffice{
		OfficeID: model.OfficeID("U1", "Springfield"), UnitID: "U1",
		OfficeFields: model.OfficeFields{City: "Springfield"},
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ExtractionsByStatus[model.ExtractionValidated])
	assert.Equal(t, 1, st.ExtractionsByStatus[model.ExtractionPending])
	assert.Equal(t, 1, st.ValidatedOffices)
	assert.Equal(t, 1, st.UnsyncedOffices)
	assert.Equal(t, 2, st.TotalUnits)
	assert.Equal(t, 1, st.UnitsWithoutOffices)
}

func TestListUnitsNeedingExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUnit(t, s, "U1")
	seedUnit(t, s, "U2")
	require.NoError(t, s.UpsertUnit(ctx, model.Unit{UnitID: "U3", IsCurrent: false}))

	require.NoError(t, s.UpsertValidatedOffice(ctx, model.ValidatedOffice{
		OfficeID: model.OfficeID("U1", "Springfield"), UnitID: "U1",
		OfficeFields: model.OfficeFields{City: "Springfield"},
	}))

	units, err := s.ListUnitsNeedingExtraction(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "U2", units[0].UnitID)
}
