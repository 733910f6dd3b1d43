package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/district-offices/internal/model"
	"github.com/civicdata/district-offices/internal/store"
)

// fakeUpstream records pushed batches and fails on demand.
type fakeUpstream struct {
	units     []model.Unit
	endpoints []model.ContactEndpoint

	fetchUnitsErr error
	pushErrAfter  int // fail the Nth push (1-based); 0 never fails
	pushes        [][]model.ValidatedOffice
}

func (f *fakeUpstream) FetchUnits(context.Context) ([]model.Unit, error) {
	return f.units, f.fetchUnitsErr
}

func (f *fakeUpstream) FetchContactEndpoints(context.Context) ([]model.ContactEndpoint, error) {
	return f.endpoints, nil
}

func (f *fakeUpstream) PushOffices(_ context.Context, offices []model.ValidatedOffice) error {
	if f.pushErrAfter > 0 && len(f.pushes)+1 == f.pushErrAfter {
		return eris.New("upstream unavailable")
	}
	batch := make([]model.ValidatedOffice, len(offices))
	copy(batch, offices)
	f.pushes = append(f.pushes, batch)
	return nil
}

func (f *fakeUpstream) Ping(context.Context) error    { return nil }
func (f *fakeUpstream) Migrate(context.Context) error { return nil }
func (f *fakeUpstream) Close()                        {}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedOffices(t *testing.T, s store.Store, n int) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertUnit(ctx, model.Unit{UnitID: "U1", IsCurrent: true}))

	cities := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta", "Eta"}
	ids := make([]string, 0, n)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		id := model.OfficeID("U1", cities[i])
		require.NoError(t, s.UpsertValidatedOffice(ctx, model.ValidatedOffice{
			OfficeID:     id,
			UnitID:       "U1",
			OfficeFields: model.OfficeFields{City: cities[i]},
			ValidatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
		ids = append(ids, id)
	}
	return ids
}

func lastRun(t *testing.T, s store.Store) model.SyncRun {
	t.Helper()
	runs, err := s.ListSyncRuns(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	return runs[0]
}

func TestImportUnits(t *testing.T) {
	s := newTestStore(t)
	up := &fakeUpstream{units: []model.Unit{
		{UnitID: "A000370", IsCurrent: true, DisplayName: "Alma Adams"},
		{UnitID: "B001234", IsCurrent: false},
	}}

	count, err := New(s, up, 0).ImportUnits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	u, err := s.GetUnit(context.Background(), "A000370")
	require.NoError(t, err)
	assert.Equal(t, "Alma Adams", u.DisplayName)

	run := lastRun(t, s)
	assert.Equal(t, model.SyncImportUnits, run.Kind)
	assert.Equal(t, model.SyncCompleted, run.Status)
	assert.Equal(t, 2, run.RecordsProcessed)
}

func TestImportUnits_FetchFailureMarksRunFailed(t *testing.T) {
	s := newTestStore(t)
	up := &fakeUpstream{fetchUnitsErr: eris.New("connection refused")}

	_, err := New(s, up, 0).ImportUnits(context.Background())
	require.Error(t, err)

	run := lastRun(t, s)
	assert.Equal(t, model.SyncFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "connection refused")
	require.NotNil(t, run.CompletedAt)
}

func TestImportContacts_SkipsUnknownUnits(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertUnit(context.Background(), model.Unit{UnitID: "U1", IsCurrent: true}))
	up := &fakeUpstream{endpoints: []model.ContactEndpoint{
		{UnitID: "U1", ContactURL: "https://example.gov/u1/contact"},
		{UnitID: "ghost", ContactURL: "https://example.gov/ghost"},
	}}

	count, err := New(s, up, 0).ImportContacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	c, err := s.GetContactEndpoint(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.gov/u1/contact", c.ContactURL)

	_, err = s.GetContactEndpoint(context.Background(), "ghost")
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestExportOffices_Batching(t *testing.T) {
	s := newTestStore(t)
	seedOffices(t, s, 5)
	up := &fakeUpstream{}

	count, err := New(s, up, 2).ExportOffices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	require.Len(t, up.pushes, 3)
	assert.Len(t, up.pushes[0], 2)
	assert.Len(t, up.pushes[1], 2)
	assert.Len(t, up.pushes[2], 1)

	unsynced, err := s.ListUnsyncedOffices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	run := lastRun(t, s)
	assert.Equal(t, model.SyncExportOffices, run.Kind)
	assert.Equal(t, model.SyncCompleted, run.Status)
	assert.Equal(t, 5, run.RecordsProcessed)
}

func TestExportOffices_MidBatchFailureKeepsProgress(t *testing.T) {
	s := newTestStore(t)
	ids := seedOffices(t, s, 5)
	up := &fakeUpstream{pushErrAfter: 2}

	count, err := New(s, up, 2).ExportOffices(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, count)

	// First batch committed and marked; the rest stayed unsynced.
	unsynced, err := s.ListUnsyncedOffices(context.Background())
	require.NoError(t, err)
	require.Len(t, unsynced, 3)
	assert.Equal(t, ids[2], unsynced[0].OfficeID)

	run := lastRun(t, s)
	assert.Equal(t, model.SyncFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "upstream unavailable")

	// A retry re-sends only the remainder.
	up.pushErrAfter = 0
	count, err = New(s, up, 2).ExportOffices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	unsynced, err = s.ListUnsyncedOffices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestExportOffices_NothingToDo(t *testing.T) {
	s := newTestStore(t)
	up := &fakeUpstream{}

	count, err := New(s, up, 2).ExportOffices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, up.pushes)
	assert.Equal(t, model.SyncCompleted, lastRun(t, s).Status)
}

func TestFullSync(t *testing.T) {
	s := newTestStore(t)
	seedOffices(t, s, 2)
	up := &fakeUpstream{
		units:     []model.Unit{{UnitID: "U1", IsCurrent: true}},
		endpoints: []model.ContactEndpoint{{UnitID: "U1", ContactURL: "https://example.gov/u1"}},
	}

	st, err := New(s, up, 10).FullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.ImportedUnits)
	assert.Equal(t, 1, st.ImportedContacts)
	assert.Equal(t, 2, st.ExportedOffices)

	runs, err := s.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, model.SyncCompleted, r.Status)
	}
}

func TestFullSync_StopsAtFirstFailure(t *testing.T) {
	s := newTestStore(t)
	up := &fakeUpstream{fetchUnitsErr: eris.New("connection refused")}

	st, err := New(s, up, 10).FullSync(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, st.ImportedUnits)
	assert.Equal(t, 0, st.ExportedOffices)

	runs, err := s.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncFailed, runs[0].Status)
}

func TestDanglingStartedRunNeverBlocks(t *testing.T) {
	s := newTestStore(t)
	// Simulate a crash between start and completion.
	_, err := s.StartSyncRun(context.Background(), model.SyncExportOffices)
	require.NoError(t, err)

	up := &fakeUpstream{}
	_, err = New(s, up, 2).ExportOffices(context.Background())
	require.NoError(t, err)

	runs, err := s.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.SyncCompleted, runs[0].Status)
	assert.Equal(t, model.SyncStarted, runs[1].Status)
}
