package upstream

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civicdata/district-offices/internal/model"
)

// PostgresClient is the production Client backed by a pgx pool.
type PostgresClient struct {
	pool Pool
}

// NewPostgres connects to the remote store and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "upstream: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "upstream: ping")
	}
	return &PostgresClient{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresClient {
	return &PostgresClient{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS units (
	unit_id      TEXT PRIMARY KEY,
	is_current   BOOLEAN NOT NULL DEFAULT FALSE,
	website_url  TEXT,
	display_name TEXT,
	region_code  TEXT
);

CREATE TABLE IF NOT EXISTS contact_endpoints (
	unit_id     TEXT PRIMARY KEY REFERENCES units(unit_id),
	contact_url TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS offices (
	office_id    TEXT PRIMARY KEY,
	unit_id      TEXT NOT NULL,
	office_type  TEXT,
	building     TEXT,
	address      TEXT,
	suite        TEXT,
	city         TEXT,
	state        TEXT,
	zip          TEXT,
	phone        TEXT,
	fax          TEXT,
	hours        TEXT,
	validated_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_offices_unit ON offices(unit_id);
`

func (c *PostgresClient) Migrate(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "upstream: migrate")
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return eris.Wrap(c.pool.Ping(ctx), "upstream: ping")
}

func (c *PostgresClient) Close() {
	c.pool.Close()
}

func (c *PostgresClient) FetchUnits(ctx context.Context) ([]model.Unit, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT unit_id, is_current,
		        COALESCE(website_url, ''), COALESCE(display_name, ''), COALESCE(region_code, '')
		 FROM units ORDER BY unit_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "upstream: fetch units")
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		var u model.Unit
		if err := rows.Scan(&u.UnitID, &u.IsCurrent, &u.WebsiteURL, &u.DisplayName, &u.RegionCode); err != nil {
			return nil, eris.Wrap(err, "upstream: scan unit")
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "upstream: fetch units iterate")
}

func (c *PostgresClient) FetchContactEndpoints(ctx context.Context) ([]model.ContactEndpoint, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT unit_id, contact_url FROM contact_endpoints ORDER BY unit_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "upstream: fetch contact endpoints")
	}
	defer rows.Close()

	var endpoints []model.ContactEndpoint
	for rows.Next() {
		var e model.ContactEndpoint
		if err := rows.Scan(&e.UnitID, &e.ContactURL); err != nil {
			return nil, eris.Wrap(err, "upstream: scan contact endpoint")
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, eris.Wrap(rows.Err(), "upstream: fetch contact endpoints iterate")
}

// PushOffices writes the batch inside one transaction so a mid-batch
// failure leaves the remote store untouched. Callers mark offices
// synced locally only after this returns nil.
func (c *PostgresClient) PushOffices(ctx context.Context, offices []model.ValidatedOffice) error {
	if len(offices) == 0 {
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "upstream: begin push")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, o := range offices {
		_, err := tx.Exec(ctx,
			`INSERT INTO offices
			 (office_id, unit_id, office_type, building, address, suite, city, state, zip, phone, fax, hours,
			  validated_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (office_id) DO UPDATE SET
			   unit_id = EXCLUDED.unit_id,
			   office_type = EXCLUDED.office_type,
			   building = EXCLUDED.building,
			   address = EXCLUDED.address,
			   suite = EXCLUDED.suite,
			   city = EXCLUDED.city,
			   state = EXCLUDED.state,
			   zip = EXCLUDED.zip,
			   phone = EXCLUDED.phone,
			   fax = EXCLUDED.fax,
			   hours = EXCLUDED.hours,
			   validated_at = EXCLUDED.validated_at,
			   updated_at = EXCLUDED.updated_at`,
			o.OfficeID, o.UnitID, o.OfficeType, o.Building, o.Address, o.Suite,
			o.City, o.State, o.Zip, o.Phone, o.Fax, o.Hours,
			o.ValidatedAt, time.Now().UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "upstream: push office %s", o.OfficeID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "upstream: commit push")
}
