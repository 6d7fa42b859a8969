// Package postgres implements store.Provider against a single Postgres
// database, generalized from the teacher's internal/provider/postgres
// package (which used raw pgx/v5 with an embedded schema string rather
// than an ORM — kept here, since pgx/v5 is grounded in the wider example
// pack's grewanderer-animus-golang go.mod even though the teacher's own
// go.mod omits it).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrotsystems/carrot/internal/store"
)

// Store is a Postgres-backed implementation of store.Provider.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Provider = (*Store)(nil)

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
