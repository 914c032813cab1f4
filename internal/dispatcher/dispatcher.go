// Package dispatcher runs tile builds submitted over time on a long-lived
// worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/build"
	"github.com/JakeFAU/terrain-tiler/internal/pool"
	"github.com/JakeFAU/terrain-tiler/internal/queue"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
)

var (
	// ErrNotStarted is returned by Shutdown before Start.
	ErrNotStarted = errors.New("dispatcher not started")
	// ErrClosed is returned by Submit and Start once Shutdown has been called,
	// and by Submit once the context given to Start has ended.
	ErrClosed = errors.New("dispatcher closed")
)

// BuildRequest asks for one tile to be built under a pre-allocated run id.
type BuildRequest struct {
	RunID uuid.UUID
	Tile  tile.Tile
}

// Runner builds one tile.
type Runner interface {
	Run(ctx context.Context, runID uuid.UUID, t tile.Tile) (build.Report, error)
}

// Dispatcher fans build requests out to a fixed set of workers.
type Dispatcher struct {
	runner  Runner
	queue   *queue.Queue[BuildRequest]
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	group  *pool.Group
	closed bool
}

// New creates a Dispatcher with the given number of concurrent builds.
func New(runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		runner:  runner,
		queue:   queue.New[BuildRequest](),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. Builds run under ctx; canceling it stops the
// workers after their current build.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.group != nil {
		return errors.New("dispatcher already started")
	}
	d.ctx = ctx
	d.group = pool.Launch(ctx, d.run, d.queue, d.workers,
		pool.WithLogger(d.logger),
		pool.WithName("dispatcher"),
	)
	d.logger.Info("dispatcher started", zap.Int("workers", d.workers))
	return nil
}

// Submit queues a build request. Requests submitted before Start wait for it.
// Once the workers have stopped, either through Shutdown or because the
// context given to Start ended, Submit returns ErrClosed.
func (d *Dispatcher) Submit(req BuildRequest) error {
	if err := req.Tile.Validate(); err != nil {
		return fmt.Errorf("submit build: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.group != nil && (d.ctx.Err() != nil || d.group.Canceled()) {
		return fmt.Errorf("%w: %w", ErrClosed, context.Cause(d.ctx))
	}
	d.queue.Push(req)
	return nil
}

// Pending returns the number of requests waiting for a worker.
func (d *Dispatcher) Pending() int {
	return d.queue.Pending()
}

// Shutdown stops accepting requests, lets the workers finish everything
// already queued and waits for them. It returns ctx.Err() if ctx ends first;
// the workers keep draining in the background.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.group == nil {
		d.mu.Unlock()
		return ErrNotStarted
	}
	g := d.group
	if !d.closed {
		d.closed = true
		d.queue.PushShutdown(g.Workers())
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.Join()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("dispatcher stopped", zap.Bool("all_builds_succeeded", g.Success()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(ctx context.Context, req BuildRequest) bool {
	if _, err := d.runner.Run(ctx, req.RunID, req.Tile); err != nil {
		d.logger.Warn("build request failed",
			zap.Stringer("run_id", req.RunID),
			zap.String("tile", req.Tile.Name()),
			zap.Error(err),
		)
		return false
	}
	return true
}
