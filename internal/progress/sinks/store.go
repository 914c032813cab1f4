package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/progress"
	"github.com/JakeFAU/terrain-tiler/internal/store"
)

// StoreSink persists progress via a store.ProgressRepository. Bar updates
// within a batch are collapsed to the latest percentage per bar to reduce
// write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type barKey struct {
	runID uuid.UUID
	bar   int
}

type barUpdate struct {
	percent int
	at      time.Time
}

// Consume applies the batch in order. Pending bar updates for a run are
// flushed before the run's terminal event so they land while it is active.
// Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	bars := make(map[barKey]barUpdate)
	var order []barKey

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageBar:
			key := barKey{runID: runID, bar: evt.Bar}
			if _, seen := bars[key]; !seen {
				order = append(order, key)
			}
			bars[key] = barUpdate{percent: evt.Percent, at: evt.TS}
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.Tile, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			var err error
			order, err = s.flushBars(ctx, bars, order, &runID)
			if err != nil {
				return err
			}
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		}
	}
	_, err := s.flushBars(ctx, bars, order, nil)
	return err
}

// flushBars writes pending updates, restricted to one run when only is set,
// and returns the keys still pending.
func (s *StoreSink) flushBars(ctx context.Context, bars map[barKey]barUpdate, order []barKey, only *uuid.UUID) ([]barKey, error) {
	rest := order[:0]
	for _, key := range order {
		if only != nil && key.runID != *only {
			rest = append(rest, key)
			continue
		}
		u := bars[key]
		delete(bars, key)
		if err := s.repo.UpdateBar(ctx, key.runID, key.bar, u.percent, u.at); err != nil {
			return nil, fmt.Errorf("update bar: %w", err)
		}
	}
	return rest, nil
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	if evt.Stage == progress.StageRunError {
		status = store.RunError
	}
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, evt.Polygons, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
