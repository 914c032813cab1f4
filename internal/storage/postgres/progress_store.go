// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/terrain-tiler/internal/store"
)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
//
// Expected schema:
//
//	tile_runs(id uuid primary key, tile text, queued_at timestamptz, started_at timestamptz,
//	          finished_at timestamptz, status text, polygons bigint, note text)
//	tile_run_bars(run_id uuid, bar int, percent int, updated_at timestamptz, primary key (run_id, bar))
type ProgressStore struct {
	pool querier
}

// NewProgressStore connects a pool using cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool querier) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// CreateRun inserts a queued run.
func (s *ProgressStore) CreateRun(ctx context.Context, runID uuid.UUID, tile string, queuedAt time.Time) error {
	query := `
		INSERT INTO tile_runs (id, tile, queued_at, status)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.pool.Exec(ctx, query, runID, tile, queuedAt, store.RunQueued); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpsertRunStart inserts or updates a run's start time.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, tile string, startedAt time.Time) error {
	query := `
		INSERT INTO tile_runs (id, tile, queued_at, started_at, status)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at, status = EXCLUDED.status
		WHERE tile_runs.status IN ('queued', 'running');
	`
	if _, err := s.pool.Exec(ctx, query, runID, tile, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// UpdateBar stores the latest percentage for a progress bar.
func (s *ProgressStore) UpdateBar(ctx context.Context, runID uuid.UUID, bar int, percent int, at time.Time) error {
	query := `
		INSERT INTO tile_run_bars (run_id, bar, percent, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, bar) DO UPDATE
		SET percent = EXCLUDED.percent, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, runID, bar, percent, at); err != nil {
		return fmt.Errorf("failed to update bar: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional note.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	polygons int64,
	note *string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	query := `
		UPDATE tile_runs
		SET finished_at = $1, status = $2, polygons = $3, note = $4
		WHERE id = $5;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, polygons, note, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a run and its bar percentages.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, tile, queued_at, started_at, finished_at, status, polygons, note
		FROM tile_runs
		WHERE id = $1;
	`
	var run store.Run
	var polygons *int64
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Tile,
		&run.QueuedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&polygons,
		&run.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	if polygons != nil {
		run.Polygons = *polygons
	}

	rows, err := s.pool.Query(ctx, `SELECT bar, percent FROM tile_run_bars WHERE run_id = $1;`, runID)
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to list bars: %w", err)
	}
	defer rows.Close()

	run.Bars = make(map[int]int)
	for rows.Next() {
		var bar, percent int
		if err := rows.Scan(&bar, &percent); err != nil {
			return store.Run{}, fmt.Errorf("failed to scan bar row: %w", err)
		}
		run.Bars[bar] = percent
	}
	if err := rows.Err(); err != nil {
		return store.Run{}, fmt.Errorf("failed to iterate bars: %w", err)
	}
	return run, nil
}
