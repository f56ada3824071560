// Package store implements the datastore's four tables
// (properties, runs, verdicts, retry_queue) as Postgres repositories,
// grounded on the teacher's connection-lifecycle idiom in
// internal/chrome/pool.go (fail-fast setup, single owning struct) and the
// pgx/sqlx/goose dependency set named in the pack's jordigilh-kubernaut
// go.mod.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/user/tagwatch/internal/config"
)

// Connect opens a pooled connection to Postgres via the pgx stdlib driver,
// applying the pool-sizing knobs from DatastoreConfig.
func Connect(cfg config.DatastoreConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// Store bundles the four repositories behind a single connection, the way
// chrome.Pool bundles its instances behind a single acquire/release
// surface.
type Store struct {
	DB *sqlx.DB

	Properties *PropertyRepo
	Runs       *RunRepo
	Verdicts   *VerdictRepo
	RetryQueue *RetryQueueRepo
}

// New wires all four repositories onto the same *sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{
		DB:         db,
		Properties: &PropertyRepo{db: db},
		Runs:       &RunRepo{db: db},
		Verdicts:   &VerdictRepo{db: db},
		RetryQueue: &RetryQueueRepo{db: db},
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping verifies connectivity at startup, the same "fail fast" posture the
// teacher's pool construction takes for its first Chrome instance.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
