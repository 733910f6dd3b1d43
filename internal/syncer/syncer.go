package syncer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/district-offices/internal/model"
	"github.com/civicdata/district-offices/internal/store"
	"github.com/civicdata/district-offices/internal/upstream"
)

// DefaultBatchSize is the export batch size when none is configured.
const DefaultBatchSize = 50

// Syncer moves data between the local store and the remote authoritative
// store. Imports overwrite local units and contact endpoints; exports
// push validated offices in fixed batches and mark each batch synced
// only after the remote transaction commits, so a crash mid-export
// re-sends at most one batch on the next run.
type Syncer struct {
	store     store.Store
	client    upstream.Client
	batchSize int
}

func New(s store.Store, c upstream.Client, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Syncer{store: s, client: c, batchSize: batchSize}
}

// ImportUnits pulls all units from upstream and upserts them locally.
// Returns the number of units written.
func (s *Syncer) ImportUnits(ctx context.Context) (int, error) {
	runID, err := s.store.StartSyncRun(ctx, model.SyncImportUnits)
	if err != nil {
		return 0, err
	}

	units, err := s.client.FetchUnits(ctx)
	if err != nil {
		return 0, s.failRun(ctx, runID, err)
	}

	count := 0
	for _, u := range units {
		if err := s.store.UpsertUnit(ctx, u); err != nil {
			return count, s.failRun(ctx, runID, err)
		}
		count++
	}

	if err := s.store.CompleteSyncRun(ctx, runID, count); err != nil {
		return count, err
	}
	zap.L().Info("imported units", zap.Int("count", count))
	return count, nil
}

// ImportContacts pulls contact endpoints from upstream. Endpoints for
// units unknown locally are skipped, not failed; upstream can race
// ahead of the last unit import.
func (s *Syncer) ImportContacts(ctx context.Context) (int, error) {
	runID, err := s.store.StartSyncRun(ctx, model.SyncImportContacts)
	if err != nil {
		return 0, err
	}

	endpoints, err := s.client.FetchContactEndpoints(ctx)
	if err != nil {
		return 0, s.failRun(ctx, runID, err)
	}

	now := time.Now().UTC()
	count := 0
	skipped := 0
	for _, e := range endpoints {
		if _, err := s.store.GetUnit(ctx, e.UnitID); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				skipped++
				continue
			}
			return count, s.failRun(ctx, runID, err)
		}
		e.LastSyncedAt = now
		if err := s.store.UpsertContactEndpoint(ctx, e); err != nil {
			return count, s.failRun(ctx, runID, err)
		}
		count++
	}

	if err := s.store.CompleteSyncRun(ctx, runID, count); err != nil {
		return count, err
	}
	zap.L().Info("imported contact endpoints",
		zap.Int("count", count), zap.Int("skipped", skipped))
	return count, nil
}

// ExportOffices pushes every unsynced validated office upstream in
// batches. Each batch is one remote transaction; the local synced flag
// flips only after that transaction commits. Delivery is at-least-once
// and the remote upsert makes re-delivery harmless.
func (s *Syncer) ExportOffices(ctx context.Context) (int, error) {
	runID, err := s.store.StartSyncRun(ctx, model.SyncExportOffices)
	if err != nil {
		return 0, err
	}

	unsynced, err := s.store.ListUnsyncedOffices(ctx)
	if err != nil {
		return 0, s.failRun(ctx, runID, err)
	}

	exported := 0
	for start := 0; start < len(unsynced); start += s.batchSize {
		end := start + s.batchSize
		if end > len(unsynced) {
			end = len(unsynced)
		}
		batch := unsynced[start:end]

		if err := s.client.PushOffices(ctx, batch); err != nil {
			return exported, s.failRun(ctx, runID, err)
		}

		ids := make([]string, len(batch))
		for i, o := range batch {
			ids[i] = o.OfficeID
		}
		if err := s.store.MarkOfficesSynced(ctx, ids, time.Now().UTC()); err != nil {
			// The batch is already committed remotely; the rows stay
			// unsynced locally and will be re-sent next run.
			return exported, s.failRun(ctx, runID, err)
		}
		exported += len(batch)
	}

	if err := s.store.CompleteSyncRun(ctx, runID, exported); err != nil {
		return exported, err
	}
	zap.L().Info("exported offices", zap.Int("count", exported))
	return exported, nil
}

// Stats summarizes one full sync, one count per step.
type Stats struct {
	ImportedUnits    int
	ImportedContacts int
	ExportedOffices  int
}

// FullSync runs both imports then the export. The first failure stops
// the sequence; counts for the steps that did run are still returned.
func (s *Syncer) FullSync(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error
	if st.ImportedUnits, err = s.ImportUnits(ctx); err != nil {
		return &st, err
	}
	if st.ImportedContacts, err = s.ImportContacts(ctx); err != nil {
		return &st, err
	}
	st.ExportedOffices, err = s.ExportOffices(ctx)
	return &st, err
}

// failRun marks the run failed and returns the original error. A
// bookkeeping failure on top of the real one is logged, not returned.
func (s *Syncer) failRun(ctx context.Context, runID int64, cause error) error {
	if err := s.store.FailSyncRun(ctx, runID, cause.Error()); err != nil {
		zap.L().Warn("could not mark sync run failed",
			zap.Int64("run_id", runID), zap.Error(err))
	}
	return cause
}
