package upstream

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/civicdata/district-offices/internal/model"
)

// Client talks to the remote authoritative store. Units and contact
// endpoints flow down; validated offices flow up.
type Client interface {
	FetchUnits(ctx context.Context) ([]model.Unit, error)
	FetchContactEndpoints(ctx context.Context) ([]model.ContactEndpoint, error)

	// PushOffices upserts the batch remotely in a single transaction.
	// Either every office in the batch is committed or none are.
	PushOffices(ctx context.Context, offices []model.ValidatedOffice) error

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()
}

// Pool is the subset of pgxpool.Pool the client needs. Tests substitute
// a pgxmock pool.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}
