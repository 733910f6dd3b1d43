package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civicdata/district-offices/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// runID identifies this process in provenance events.
	runID string
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Short transactions interleave without blocking readers; there is
// no multi-writer parallelism and none is needed.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, runID: uuid.New().String()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS units (
	unit_id      TEXT PRIMARY KEY,
	is_current   BOOLEAN NOT NULL DEFAULT 0,
	website_url  TEXT,
	display_name TEXT,
	region_code  TEXT
);

CREATE TABLE IF NOT EXISTS contact_endpoints (
	unit_id        TEXT PRIMARY KEY REFERENCES units(unit_id),
	contact_url    TEXT NOT NULL,
	last_synced_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS extractions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id       TEXT NOT NULL REFERENCES units(unit_id),
	status        TEXT NOT NULL DEFAULT 'pending'
	              CHECK (status IN ('pending','processing','validated','rejected','failed')),
	source_url    TEXT,
	priority      INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	validated_at  DATETIME
);

CREATE TABLE IF NOT EXISTS candidate_offices (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	extraction_id INTEGER NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	office_type   TEXT,
	building      TEXT,
	address       TEXT,
	suite         TEXT,
	city          TEXT,
	state         TEXT,
	zip           TEXT,
	phone         TEXT,
	fax           TEXT,
	hours         TEXT
);

CREATE TABLE IF NOT EXISTS validated_offices (
	office_id          TEXT PRIMARY KEY,
	unit_id            TEXT NOT NULL REFERENCES units(unit_id),
	office_type        TEXT,
	building           TEXT,
	address            TEXT,
	suite              TEXT,
	city               TEXT,
	state              TEXT,
	zip                TEXT,
	phone              TEXT,
	fax                TEXT,
	hours              TEXT,
	validated_at       DATETIME NOT NULL,
	synced_to_upstream BOOLEAN NOT NULL DEFAULT 0,
	synced_at          DATETIME
);

CREATE TABLE IF NOT EXISTS artifacts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	extraction_id INTEGER NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	artifact_type TEXT NOT NULL
	              CHECK (artifact_type IN ('source_document','cleaned_document','review_document','extractor_response','candidate_set','sync_metadata')),
	content       BLOB NOT NULL,
	content_type  TEXT,
	size          INTEGER NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	extraction_id INTEGER NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	event_name    TEXT NOT NULL,
	occurred_at   DATETIME NOT NULL,
	run_id        TEXT,
	payload       TEXT
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	kind              TEXT NOT NULL
	                  CHECK (kind IN ('import_units','import_contacts','export_offices')),
	direction         TEXT NOT NULL CHECK (direction IN ('from_upstream','to_upstream')),
	records_processed INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL CHECK (status IN ('started','completed','failed')),
	error_message     TEXT,
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
CREATE INDEX IF NOT EXISTS idx_extractions_unit ON extractions(unit_id);
CREATE INDEX IF NOT EXISTS idx_extractions_pending ON extractions(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_candidate_offices_extraction ON candidate_offices(extraction_id);
CREATE INDEX IF NOT EXISTS idx_validated_offices_unsynced ON validated_offices(synced_to_upstream);
CREATE INDEX IF NOT EXISTS idx_artifacts_extraction_type ON artifacts(extraction_id, artifact_type);
CREATE INDEX IF NOT EXISTS idx_provenance_extraction ON provenance_events(extraction_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_kind ON sync_runs(kind, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Units ---

func (s *SQLiteStore) UpsertUnit(ctx context.Context, u model.Unit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO units (unit_id, is_current, website_url, display_name, region_code)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (unit_id) DO UPDATE SET
		   is_current = excluded.is_current,
		   website_url = excluded.website_url,
		   display_name = excluded.display_name,
		   region_code = excluded.region_code`,
		u.UnitID, u.IsCurrent, u.WebsiteURL, u.DisplayName, u.RegionCode,
	)
	return eris.Wrapf(err, "sqlite: upsert unit %s", u.UnitID)
}

func (s *SQLiteStore) GetUnit(ctx context.Context, unitID string) (*model.Unit, error) {
	var u model.Unit
	err := s.db.QueryRowContext(ctx,
		`SELECT unit_id, is_current, website_url, display_name, region_code
		 FROM units WHERE unit_id = ?`,
		unitID,
	).Scan(&u.UnitID, &u.IsCurrent, &nullStr{&u.WebsiteURL}, &nullStr{&u.DisplayName}, &nullStr{&u.RegionCode})
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "unit %s", unitID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get unit %s", unitID)
	}
	return &u, nil
}

func (s *SQLiteStore) ListUnitsNeedingExtraction(ctx context.Context) ([]model.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.unit_id, u.is_current, u.website_url, u.display_name, u.region_code
		 FROM units u
		 WHERE u.is_current = 1
		   AND NOT EXISTS (SELECT 1 FROM validated_offices v WHERE v.unit_id = u.unit_id)
		 ORDER BY u.unit_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list units needing extraction")
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		var u model.Unit
		if err := rows.Scan(&u.UnitID, &u.IsCurrent, &nullStr{&u.WebsiteURL}, &nullStr{&u.DisplayName}, &nullStr{&u.RegionCode}); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit")
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "sqlite: list units iterate")
}

func (s *SQLiteStore) UpsertContactEndpoint(ctx context.Context, c model.ContactEndpoint) error {
	syncedAt := c.LastSyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_endpoints (unit_id, contact_url, last_synced_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (unit_id) DO UPDATE SET
		   contact_url = excluded.contact_url,
		   last_synced_at = excluded.last_synced_at`,
		c.UnitID, c.ContactURL, syncedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert contact endpoint %s", c.UnitID)
}

func (s *SQLiteStore) GetContactEndpoint(ctx context.Context, unitID string) (*model.ContactEndpoint, error) {
	var c model.ContactEndpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT unit_id, contact_url, last_synced_at FROM contact_endpoints WHERE unit_id = ?`,
		unitID,
	).Scan(&c.UnitID, &c.ContactURL, &c.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "contact endpoint %s", unitID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contact endpoint %s", unitID)
	}
	return &c, nil
}

// --- Extraction state machine ---

func (s *SQLiteStore) CreateExtraction(ctx context.Context, unitID, sourceURL string, priority int) (*model.Extraction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create extraction")
	}
	defer tx.Rollback() //nolint:errcheck

	// Referential integrity is enforced explicitly so the caller gets
	// ErrUnknownUnit rather than a raw constraint violation.
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM units WHERE unit_id = ?`, unitID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrUnknownUnit, "%s", unitID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: check unit %s", unitID)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO extractions (unit_id, status, source_url, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		unitID, string(model.ExtractionPending), sourceURL, priority, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert extraction for %s", unitID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: extraction id")
	}

	if err := s.appendEventTx(ctx, tx, id, model.EventExtractionCreated, map[string]any{
		"unit_id":    unitID,
		"source_url": sourceURL,
		"priority":   priority,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create extraction")
	}

	return &model.Extraction{
		ID:        id,
		UnitID:    unitID,
		Status:    model.ExtractionPending,
		SourceURL: sourceURL,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, id int64) (*model.Extraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, unit_id, status, source_url, priority, error_message, retry_count,
		        created_at, updated_at, validated_at
		 FROM extractions WHERE id = ?`,
		id,
	)
	e, err := scanExtraction(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "extraction %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extraction %d", id)
	}
	return e, nil
}

// TransitionTo moves an extraction out of a non-terminal state. The
// status update and the status_changed provenance event commit in one
// transaction; a terminal row yields ErrInvalidTransition untouched.
func (s *SQLiteStore) TransitionTo(ctx context.Context, id int64, status model.ExtractionStatus, errorMessage string) error {
	if !status.Valid() || status == model.ExtractionPending {
		return eris.Wrapf(ErrInvalidTransition, "extraction %d: bad target status %q", id, status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM extractions WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "extraction %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read extraction %d", id)
	}
	if model.ExtractionStatus(current).Terminal() {
		return eris.Wrapf(ErrInvalidTransition, "extraction %d already %s", id, current)
	}

	now := time.Now().UTC()
	if status == model.ExtractionValidated {
		_, err = tx.ExecContext(ctx,
			`UPDATE extractions
			 SET status = ?, updated_at = ?, validated_at = ?,
			     error_message = CASE WHEN ? != '' THEN ? ELSE error_message END
			 WHERE id = ?`,
			string(status), now, now, errorMessage, errorMessage, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE extractions
			 SET status = ?, updated_at = ?,
			     error_message = CASE WHEN ? != '' THEN ? ELSE error_message END
			 WHERE id = ?`,
			string(status), now, errorMessage, errorMessage, id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition extraction %d to %s", id, status)
	}

	payload := map[string]any{"from": current, "to": string(status)}
	if errorMessage != "" {
		payload["error"] = errorMessage
	}
	if err := s.appendEventTx(ctx, tx, id, model.EventStatusChanged, payload); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

// ListPending returns pending extractions ordered by priority (highest
// first), oldest first within a priority. This ordering is the sole
// scheduling policy.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]model.Extraction, error) {
	return s.listByStatus(ctx, model.ExtractionPending, limit)
}

// ListProcessing returns extractions left mid-review, in the same order
// as ListPending. An interrupted validate session strands its in-flight
// item here; the orchestrator reclaims these when it rebuilds the queue.
func (s *SQLiteStore) ListProcessing(ctx context.Context, limit int) ([]model.Extraction, error) {
	return s.listByStatus(ctx, model.ExtractionProcessing, limit)
}

func (s *SQLiteStore) listByStatus(ctx context.Context, status model.ExtractionStatus, limit int) ([]model.Extraction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unit_id, status, source_url, priority, error_message, retry_count,
		        created_at, updated_at, validated_at
		 FROM extractions
		 WHERE status = ?
		 ORDER BY priority DESC, created_at ASC
		 LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", status)
	}
	defer rows.Close()

	var out []model.Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		out = append(out, *e)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: list %s iterate", status)
}

// --- Candidate offices ---

func (s *SQLiteStore) StoreCandidateOffices(ctx context.Context, extractionID int64, offices []model.OfficeFields) ([]model.CandidateOffice, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin store candidates")
	}
	defer tx.Rollback() //nolint:errcheck

	out := make([]model.CandidateOffice, 0, len(offices))
	for _, o := range offices {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO candidate_offices
			 (extraction_id, office_type, building, address, suite, city, state, zip, phone, fax, hours)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			extractionID, o.OfficeType, o.Building, o.Address, o.Suite,
			o.City, o.State, o.Zip, o.Phone, o.Fax, o.Hours,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert candidate office for extraction %d", extractionID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: candidate office id")
		}
		out = append(out, model.CandidateOffice{OfficeFields: o, ID: id, ExtractionID: extractionID})
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit store candidates")
	}
	return out, nil
}

func (s *SQLiteStore) CandidateOfficesFor(ctx context.Context, extractionID int64) ([]model.CandidateOffice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, extraction_id, office_type, building, address, suite, city, state, zip, phone, fax, hours
		 FROM candidate_offices WHERE extraction_id = ? ORDER BY id`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: candidate offices for %d", extractionID)
	}
	defer rows.Close()

	var out []model.CandidateOffice
	for rows.Next() {
		var c model.CandidateOffice
		if err := rows.Scan(&c.ID, &c.ExtractionID,
			&nullStr{&c.OfficeType}, &nullStr{&c.Building}, &nullStr{&c.Address}, &nullStr{&c.Suite},
			&nullStr{&c.City}, &nullStr{&c.State}, &nullStr{&c.Zip}, &nullStr{&c.Phone},
			&nullStr{&c.Fax}, &nullStr{&c.Hours}); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate office")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: candidate offices iterate")
}

// --- Validated offices ---

func (s *SQLiteStore) UpsertValidatedOffice(ctx context.Context, o model.ValidatedOffice) error {
	validatedAt := o.ValidatedAt
	if validatedAt.IsZero() {
		validatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validated_offices
		 (office_id, unit_id, office_type, building, address, suite, city, state, zip, phone, fax, hours,
		  validated_at, synced_to_upstream, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
		 ON CONFLICT (office_id) DO UPDATE SET
		   unit_id = excluded.unit_id,
		   office_type = excluded.office_type,
		   building = excluded.building,
		   address = excluded.address,
		   suite = excluded.suite,
		   city = excluded.city,
		   state = excluded.state,
		   zip = excluded.zip,
		   phone = excluded.phone,
		   fax = excluded.fax,
		   hours = excluded.hours,
		   validated_at = excluded.validated_at,
		   synced_to_upstream = 0,
		   synced_at = NULL`,
		o.OfficeID, o.UnitID, o.OfficeType, o.Building, o.Address, o.Suite,
		o.City, o.State, o.Zip, o.Phone, o.Fax, o.Hours, validatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert validated office %s", o.OfficeID)
}

func (s *SQLiteStore) GetValidatedOffice(ctx context.Context, officeID string) (*model.ValidatedOffice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT office_id, unit_id, office_type, building, address, suite, city, state, zip, phone, fax, hours,
		        validated_at, synced_to_upstream, synced_at
		 FROM validated_offices WHERE office_id = ?`,
		officeID,
	)
	o, err := scanValidatedOffice(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "validated office %s", officeID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get validated office %s", officeID)
	}
	return o, nil
}

// ListUnsyncedOffices returns offices awaiting export, oldest validation
// first, matching export batch order.
func (s *SQLiteStore) ListUnsyncedOffices(ctx context.Context) ([]model.ValidatedOffice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT office_id, unit_id, office_type, building, address, suite, city, state, zip, phone, fax, hours,
		        validated_at, synced_to_upstream, synced_at
		 FROM validated_offices
		 WHERE synced_to_upstream = 0
		 ORDER BY validated_at ASC, office_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unsynced offices")
	}
	defer rows.Close()

	var out []model.ValidatedOffice
	for rows.Next() {
		o, err := scanValidatedOffice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validated office")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unsynced iterate")
}

func (s *SQLiteStore) MarkOfficesSynced(ctx context.Context, officeIDs []string, syncedAt time.Time) error {
	if len(officeIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(officeIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(officeIDs)+1)
	args = append(args, syncedAt.UTC())
	for _, id := range officeIDs {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE validated_offices
		 SET synced_to_upstream = 1, synced_at = ?
		 WHERE office_id IN (%s)`, placeholders),
		args...,
	)
	return eris.Wrap(err, "sqlite: mark offices synced")
}

// --- Artifacts ---

func (s *SQLiteStore) StoreArtifact(ctx context.Context, extractionID int64, typ model.ArtifactType, content []byte, contentType string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (extraction_id, artifact_type, content, content_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		extractionID, string(typ), content, contentType, len(content), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: store artifact %s for extraction %d", typ, extractionID)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: artifact id")
}

// GetArtifact returns the newest artifact of the given type. Ties on
// created_at break on the higher row id, so retrieval is deterministic
// even for retries written within the same clock tick.
func (s *SQLiteStore) GetArtifact(ctx context.Context, extractionID int64, typ model.ArtifactType) (*model.Artifact, error) {
	var a model.Artifact
	var artifactType string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, extraction_id, artifact_type, content, content_type, size, created_at
		 FROM artifacts
		 WHERE extraction_id = ? AND artifact_type = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		extractionID, string(typ),
	).Scan(&a.ID, &a.ExtractionID, &artifactType, &a.Content, &nullStr{&a.ContentType}, &a.Size, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrArtifactMissing, "%s for extraction %d", typ, extractionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get artifact %s for extraction %d", typ, extractionID)
	}
	a.Type = model.ArtifactType(artifactType)
	return &a, nil
}

// --- Provenance ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, extractionID int64, name string, payload map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append event")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.appendEventTx(ctx, tx, extractionID, name, payload); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append event")
}

// appendEventTx writes a provenance event inside an open transaction,
// clamping occurred_at to the stream's previous maximum so the per-
// extraction event clock never runs backwards.
func (s *SQLiteStore) appendEventTx(ctx context.Context, tx *sql.Tx, extractionID int64, name string, payload map[string]any) error {
	now := time.Now().UTC()

	var last sql.NullTime
	err := tx.QueryRowContext(ctx,
		`SELECT occurred_at FROM provenance_events
		 WHERE extraction_id = ?
		 ORDER BY occurred_at DESC, id DESC LIMIT 1`,
		extractionID,
	).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return eris.Wrapf(err, "sqlite: last event for extraction %d", extractionID)
	}
	if last.Valid && now.Before(last.Time) {
		now = last.Time
	}

	var payloadJSON any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal event payload")
		}
		payloadJSON = string(b)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provenance_events (extraction_id, event_name, occurred_at, run_id, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		extractionID, name, now, s.runID, payloadJSON,
	)
	return eris.Wrapf(err, "sqlite: append event %s for extraction %d", name, extractionID)
}

func (s *SQLiteStore) EventsFor(ctx context.Context, extractionID int64) ([]model.ProvenanceEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, extraction_id, event_name, occurred_at, run_id, payload
		 FROM provenance_events
		 WHERE extraction_id = ?
		 ORDER BY occurred_at ASC, id ASC`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: events for extraction %d", extractionID)
	}
	defer rows.Close()

	var out []model.ProvenanceEvent
	for rows.Next() {
		var e model.ProvenanceEvent
		var payloadJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.ExtractionID, &e.Name, &e.OccurredAt, &nullStr{&e.RunID}, &payloadJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event payload")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: events iterate")
}

// --- Sync runs ---

func (s *SQLiteStore) StartSyncRun(ctx context.Context, kind model.SyncKind) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (kind, direction, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		string(kind), string(kind.Direction()), string(model.SyncStarted), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start sync run %s", kind)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: sync run id")
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, runID int64, recordsProcessed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, records_processed = ?, completed_at = ?
		 WHERE id = ?`,
		string(model.SyncCompleted), recordsProcessed, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync run %d", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, runID int64, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ?`,
		string(model.SyncFailed), errorMessage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync run %d", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, direction, records_processed, status, error_message, started_at, completed_at
		 FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close()

	var out []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var kind, direction, status string
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &kind, &direction, &r.RecordsProcessed, &status,
			&nullStr{&r.ErrorMessage}, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		r.Kind = model.SyncKind(kind)
		r.Direction = model.SyncDirection(direction)
		r.Status = model.SyncStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	st := &model.Stats{ExtractionsByStatus: map[model.ExtractionStatus]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM extractions GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats extractions")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.ExtractionsByStatus[model.ExtractionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats iterate")
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM validated_offices`, &st.ValidatedOffices},
		{`SELECT COUNT(*) FROM validated_offices WHERE synced_to_upstream = 0`, &st.UnsyncedOffices},
		{`SELECT COUNT(*) FROM units`, &st.TotalUnits},
		{`SELECT COUNT(*) FROM units u
		  WHERE u.is_current = 1
		    AND NOT EXISTS (SELECT 1 FROM validated_offices v WHERE v.unit_id = u.unit_id)`, &st.UnitsWithoutOffices},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats count")
		}
	}
	return st, nil
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanExtraction(row scannable) (*model.Extraction, error) {
	var e model.Extraction
	var status string
	var validatedAt sql.NullTime
	err := row.Scan(&e.ID, &e.UnitID, &status, &nullStr{&e.SourceURL}, &e.Priority,
		&nullStr{&e.ErrorMessage}, &e.RetryCount, &e.CreatedAt, &e.UpdatedAt, &validatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = model.ExtractionStatus(status)
	if validatedAt.Valid {
		t := validatedAt.Time
		e.ValidatedAt = &t
	}
	return &e, nil
}

func scanValidatedOffice(row scannable) (*model.ValidatedOffice, error) {
	var o model.ValidatedOffice
	var syncedAt sql.NullTime
	err := row.Scan(&o.OfficeID, &o.UnitID,
		&nullStr{&o.OfficeType}, &nullStr{&o.Building}, &nullStr{&o.Address}, &nullStr{&o.Suite},
		&nullStr{&o.City}, &nullStr{&o.State}, &nullStr{&o.Zip}, &nullStr{&o.Phone},
		&nullStr{&o.Fax}, &nullStr{&o.Hours},
		&o.ValidatedAt, &o.SyncedToUpstream, &syncedAt)
	if err != nil {
		return nil, err
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		o.SyncedAt = &t
	}
	return &o, nil
}

// nullStr scans a nullable TEXT column into a plain string, mapping NULL
// to the empty string.
type nullStr struct{ s *string }

func (n *nullStr) Scan(v any) error {
	if v == nil {
		*n.s = ""
		return nil
	}
	switch t := v.(type) {
	case string:
		*n.s = t
	case []byte:
		*n.s = string(t)
	default:
		return fmt.Errorf("nullStr: unsupported type %T", v)
	}
	return nil
}
