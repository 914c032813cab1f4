// Package memory provides an in-memory run repository for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/terrain-tiler/internal/store"
)

// RunStore implements store.ProgressRepository in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, runID uuid.UUID, tile string, queuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return errors.New("run already exists")
	}
	s.runs[runID] = store.Run{
		ID:       runID,
		Tile:     tile,
		QueuedAt: queuedAt,
		Status:   store.RunQueued,
		Bars:     map[int]int{},
	}
	return nil
}

// UpsertRunStart marks a run running, creating it if it was never queued.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, tile string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, Tile: tile, QueuedAt: startedAt, Bars: map[int]int{}}
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already finished", runID)
	}
	run.Status = store.RunRunning
	run.StartedAt = &startedAt
	s.runs[runID] = run
	return nil
}

// UpdateBar records the latest percentage for a bar slot.
func (s *RunStore) UpdateBar(_ context.Context, runID uuid.UUID, bar int, percent int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Bars[bar] = percent
	s.runs[runID] = run
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	polygons int64,
	note *string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.Polygons = polygons
	run.Note = note
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID. The returned value does not alias store state.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	run.Bars = maps.Clone(run.Bars)
	return run, nil
}
