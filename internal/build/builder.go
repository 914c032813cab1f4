// Package build orchestrates the construction of one tile: parallel feature
// extraction on the worker pool, a sequential merge, serialization and a
// completion notice.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/clock/system"
	"github.com/JakeFAU/terrain-tiler/internal/dsf"
	"github.com/JakeFAU/terrain-tiler/internal/geometry"
	idgen "github.com/JakeFAU/terrain-tiler/internal/id/uuid"
	"github.com/JakeFAU/terrain-tiler/internal/pool"
	"github.com/JakeFAU/terrain-tiler/internal/progress"
	"github.com/JakeFAU/terrain-tiler/internal/publisher"
	"github.com/JakeFAU/terrain-tiler/internal/queue"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
	"github.com/JakeFAU/terrain-tiler/internal/vector"
)

// ErrBuildFailed is returned when a tile could not be produced for a reason
// other than cancellation.
var ErrBuildFailed = errors.New("tile build failed")

// BarExtract is the progress bar slot of the extraction pool.
const BarExtract = 1

const tracerName = "github.com/JakeFAU/terrain-tiler/internal/build"

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies run identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Config tunes a Builder.
type Config struct {
	// Workers is the extraction pool size.
	Workers int
	// ChunksPerSide splits each tile into ChunksPerSide² extraction areas.
	ChunksPerSide int
}

// Deps are the collaborators of a Builder. Sources, Classify, Definitions and
// Writer are required.
type Deps struct {
	Sources     []vector.Source
	Classify    geometry.ClassifyFunc
	Definitions geometry.Definitions
	Writer      *dsf.Writer
	Publisher   publisher.Publisher
	Emitter     progress.Emitter
	Clock       Clock
	IDs         IDGenerator
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// ExtractTask collects the features of one source that fall in one chunk.
type ExtractTask struct {
	// Slot is the index of the Dict the task owns.
	Slot   int
	Source vector.Source
	Chunk  orb.Bound
}

// Report summarizes a finished build.
type Report struct {
	RunID    uuid.UUID
	Tile     tile.Tile
	Result   dsf.Result
	Duration time.Duration
}

// Builder builds tiles. It is safe for concurrent use; each build owns its
// queue and geometry.
type Builder struct {
	cfg  Config
	deps Deps
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Builder, error) {
	if len(deps.Sources) == 0 {
		return nil, errors.New("at least one vector source is required")
	}
	if deps.Classify == nil {
		return nil, errors.New("classify func is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("tile writer is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.Nop{}
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ChunksPerSide < 1 {
		cfg.ChunksPerSide = 1
	}
	return &Builder{cfg: cfg, deps: deps}, nil
}

// NewRunID returns a fresh run identifier.
func (b *Builder) NewRunID() (uuid.UUID, error) {
	id, err := b.deps.IDs.NewRawID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// BuildTile builds t under a fresh run id.
func (b *Builder) BuildTile(ctx context.Context, t tile.Tile) (Report, error) {
	id, err := b.NewRunID()
	if err != nil {
		return Report{}, err
	}
	return b.Run(ctx, id, t)
}

// Run builds t under the given run id. Cancellation surfaces as an error
// wrapping ctx.Err(); any other failure wraps ErrBuildFailed.
func (b *Builder) Run(ctx context.Context, runID uuid.UUID, t tile.Tile) (report Report, err error) {
	ctx, span := b.deps.Tracer.Start(ctx, "build.tile", trace.WithAttributes(
		attribute.String("tile", t.Name()),
		attribute.String("run_id", runID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tile build failed")
		} else {
			span.SetAttributes(attribute.Int("polygons", report.Result.Polygons))
		}
		span.End()
	}()

	if err := t.Validate(); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	start := b.deps.Clock.Now()
	logger := b.deps.Logger.With(zap.Stringer("run_id", runID), zap.String("tile", t.Name()))
	b.emit(runID, t, progress.Event{Stage: progress.StageRunStart})
	logger.Info("tile build started",
		zap.Int("sources", len(b.deps.Sources)),
		zap.Int("chunks", b.cfg.ChunksPerSide*b.cfg.ChunksPerSide),
		zap.Int("workers", b.cfg.Workers),
	)

	merged, err := b.extract(ctx, runID, t, logger)
	if err != nil {
		return Report{}, b.failed(runID, t, start, logger, err)
	}

	res, err := b.deps.Writer.Write(ctx, t, merged, b.deps.Definitions, t.TextPath())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("write %s: %w", t.Name(), ctxErr)
		} else {
			err = fmt.Errorf("%w: %w", ErrBuildFailed, err)
		}
		return Report{}, b.failed(runID, t, start, logger, err)
	}

	finished := b.deps.Clock.Now()
	msg := publisher.TileBuilt{
		RunID:       runID.String(),
		Tile:        t.Name(),
		URI:         res.URI,
		Digest:      res.Digest,
		Definitions: res.Definitions,
		Polygons:    res.Polygons,
		Bytes:       res.Bytes,
		FinishedAt:  finished,
	}
	if _, err := b.deps.Publisher.Publish(ctx, msg); err != nil {
		// The artifact is stored; consumers can still discover it by path.
		logger.Warn("publish tile notification failed", zap.Error(err))
	}

	dur := finished.Sub(start)
	b.emit(runID, t, progress.Event{
		Stage:    progress.StageRunDone,
		Polygons: int64(res.Polygons),
		Dur:      nonNegative(dur),
		Note:     res.URI,
	})
	logger.Info("tile build finished", zap.String("uri", res.URI), zap.Int("polygons", res.Polygons), zap.Duration("dur", dur))
	return Report{RunID: runID, Tile: t, Result: res, Duration: dur}, nil
}

// extract runs one ExtractTask per source and chunk on the pool and merges the
// per-task dicts in slot order once every worker has joined.
func (b *Builder) extract(ctx context.Context, runID uuid.UUID, t tile.Tile, logger *zap.Logger) (geometry.Dict, error) {
	bound := t.Bound()
	chunks := t.Chunks(b.cfg.ChunksPerSide)

	q := queue.New[ExtractTask]()
	slots := make([]geometry.Dict, 0, len(b.deps.Sources)*len(chunks))
	for _, src := range b.deps.Sources {
		for _, c := range chunks {
			q.Push(ExtractTask{Slot: len(slots), Source: src, Chunk: c})
			slots = append(slots, nil)
		}
	}

	collect := func(ctx context.Context, task ExtractTask) bool {
		ctx, span := b.deps.Tracer.Start(ctx, "build.extract", trace.WithAttributes(
			attribute.String("source", task.Source.Name()),
			attribute.Int("slot", task.Slot),
		))
		defer span.End()

		classify := geometry.Within(task.Chunk, bound, b.deps.Classify)
		d, err := geometry.Collect(ctx, task.Source, classify, &task.Chunk, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "collect failed")
			logger.Error("feature extraction failed",
				zap.String("source", task.Source.Name()),
				zap.Int("slot", task.Slot),
				zap.Error(err),
			)
			return false
		}
		slots[task.Slot] = d
		return true
	}

	tracker := progress.NewTracker(BarExtract, progress.NewBarReporter(runID, t.Name(), b.deps.Emitter))
	ok := pool.Execute(ctx, collect, q, b.cfg.Workers,
		pool.WithProgress(tracker),
		pool.WithLogger(logger),
		pool.WithName("extract"),
	)
	if !ok {
		if left := q.Drain(); len(left) > 0 {
			logger.Debug("discarded pending extraction tasks", zap.Int("count", len(left)))
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract %s: %w", t.Name(), err)
		}
		return nil, fmt.Errorf("%w: feature extraction failed", ErrBuildFailed)
	}

	merged := make(geometry.Dict)
	for _, d := range slots {
		merged = geometry.Merge(merged, d)
	}
	return merged, nil
}

func (b *Builder) failed(runID uuid.UUID, t tile.Tile, start time.Time, logger *zap.Logger, err error) error {
	dur := b.deps.Clock.Now().Sub(start)
	b.emit(runID, t, progress.Event{
		Stage: progress.StageRunError,
		Dur:   nonNegative(dur),
		Note:  err.Error(),
	})
	logger.Error("tile build failed", zap.Error(err), zap.Duration("dur", dur))
	return err
}

func (b *Builder) emit(runID uuid.UUID, t tile.Tile, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = b.deps.Clock.Now()
	evt.Tile = t.Name()
	b.deps.Emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
