package directory

import (
	"context"
	"errors"

	xerrors "AgentEscrow-Chain/internal/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads the agents table of an external registry database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres creates a pool for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "create directory pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "ping directory database")
	}
	return NewPostgres(pool), nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// GetAgent implements Directory.
func (p *Postgres) GetAgent(ctx context.Context, account string) (Agent, error) {
	const selectSQL = `
		SELECT account, COALESCE(name, ''), active
		FROM agents
		WHERE lower(account) = $1
	`
	var agent Agent
	err := p.pool.QueryRow(ctx, selectSQL, normalize(account)).Scan(&agent.Account, &agent.Name, &agent.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, notFound(account)
		}
		return Agent{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query agent", xerrors.WithRetryable(true))
	}
	return agent, nil
}
