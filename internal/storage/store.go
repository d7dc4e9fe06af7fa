// Package storage is the concrete Postgres-backed implementation of
// contracts.Datastore (C10) plus forceflag.Store (C4), grounded on tarsy's
// pkg/database client/migration idiom (embedded golang-migrate SQL files,
// connection-pool configuration from the environment) adapted to query
// jackc/pgx/v5's pgxpool.Pool directly, the same driver internal/lock
// already uses for its advisory-lock connection.
package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql, used only to drive migrations
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds the connection-pool settings for the Postgres-backed store,
// mirroring pkg/database/config.go's shape but sized for pgxpool.Config
// rather than database/sql.
type Config struct {
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements contracts.Datastore and forceflag.Store over a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// Pool exposes the underlying pool for internal/lock's advisory-lock Manager,
// which needs to Acquire its own connection to hold a session-scoped lock.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Open dials cfg.DSN, configures the pool, applies pending migrations, and
// returns a ready-to-use Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.pool.Close()
}

// runMigrations applies every embedded *.sql migration via golang-migrate,
// the same embed-then-iofs approach as pkg/database/client.go's
// runMigrations, minus the Ent-specific GIN-index follow-up (this schema has
// no full-text search columns).
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return sourceDriver.Close()
}
