package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the tile_runs status column.
type RunStatus string

// Run statuses persisted in tile_runs.status.
const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunError
}

// Run models one tile build.
type Run struct {
	// ID is the run identifier shared with the progress events.
	ID uuid.UUID
	// Tile is the one-degree cell name, e.g. "+45-123".
	Tile string
	// QueuedAt is when the run was accepted.
	QueuedAt time.Time
	// StartedAt is nil until a builder picks the run up.
	StartedAt *time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is queued/running/success/error.
	Status RunStatus
	// Polygons counts polygons serialized by a successful run.
	Polygons int64
	// Note holds the output URI on success or the failure reason on error.
	Note *string
	// Bars holds the latest percentage reported per progress bar slot.
	Bars map[int]int
}

// ProgressRepository persists build runs and their incremental progress.
type ProgressRepository interface {
	// CreateRun records a queued run. It fails if the run already exists.
	CreateRun(ctx context.Context, runID uuid.UUID, tile string, queuedAt time.Time) error
	// UpsertRunStart marks the run running, creating it if needed.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, tile string, startedAt time.Time) error
	// UpdateBar stores the latest percentage for one progress bar.
	UpdateBar(ctx context.Context, runID uuid.UUID, bar int, percent int, at time.Time) error
	// CompleteRun marks the run finished with the provided status and note.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		polygons int64,
		note *string,
	) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
}
