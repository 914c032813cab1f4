// Package pool runs independent tasks from a queue.Queue on a fixed number of
// workers.
//
// Every task reports a boolean outcome. The pool folds the outcomes into a
// single success flag that can only go from true to false, counts finished
// tasks on an optional progress.Tracker, and stops cooperatively when the
// supplied context ends. Cancellation is observed between tasks only; an
// in-flight task is never interrupted by the pool, so a task that hangs keeps
// its worker (and Join) blocked.
//
// Panics raised by a TaskFunc are not recovered.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/metrics"
	"github.com/JakeFAU/terrain-tiler/internal/progress"
	"github.com/JakeFAU/terrain-tiler/internal/queue"
)

// TaskFunc processes one task and reports whether it succeeded.
type TaskFunc[T any] func(ctx context.Context, task T) bool

// Option customizes a pool run.
type Option func(*options)

type options struct {
	tracker *progress.Tracker
	logger  *zap.Logger
	name    string
}

// WithProgress counts finished tasks on t and reports percentages to its bar.
func WithProgress(t *progress.Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// WithLogger sets the logger used for worker lifecycle messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName labels log lines emitted by the run.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Group is a handle on the workers started by Launch.
type Group struct {
	wg       sync.WaitGroup
	ok       atomic.Bool
	canceled atomic.Bool
	workers  int
}

// Join blocks until every worker of the group has terminated.
func (g *Group) Join() {
	g.wg.Wait()
}

// Success reports whether every task run so far returned true and no worker
// stopped because of cancellation. It is final only after Join returns.
func (g *Group) Success() bool {
	return g.ok.Load() && !g.canceled.Load()
}

// Canceled reports whether any worker stopped because the context ended.
func (g *Group) Canceled() bool {
	return g.canceled.Load()
}

// Workers returns the number of workers the group was started with.
func (g *Group) Workers() int {
	return g.workers
}

// Execute runs every task currently in q on the given number of workers and
// blocks until they have all exited. One shutdown signal per worker is queued
// behind the existing tasks.
//
// The result is true only if every task returned true and ctx was not done at
// any point the run checked it, including once more after all workers joined.
// A cancellation that lands after the last task finished still fails the run.
// A canceled run may leave tasks in q; Drain it before reuse.
func Execute[T any](ctx context.Context, fn TaskFunc[T], q *queue.Queue[T], workers int, opts ...Option) bool {
	workers = normalizeWorkers(workers)
	q.PushShutdown(workers)
	g := Launch(ctx, fn, q, workers, opts...)
	g.Join()
	if ctx.Err() != nil {
		return false
	}
	return g.Success()
}

// Launch starts workers that drain q and returns without waiting for them.
// No shutdown signals are queued; the caller ends the run with
// q.PushShutdown(g.Workers()) or by canceling ctx, then calls Join.
func Launch[T any](ctx context.Context, fn TaskFunc[T], q *queue.Queue[T], workers int, opts ...Option) *Group {
	o := options{logger: zap.NewNop(), name: "pool"}
	for _, opt := range opts {
		opt(&o)
	}
	workers = normalizeWorkers(workers)

	g := &Group{workers: workers}
	g.ok.Store(true)
	for id := 0; id < workers; id++ {
		g.wg.Add(1)
		go func(id int) {
			defer g.wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			run(ctx, fn, q, g, &o, o.logger.With(zap.String("pool", o.name), zap.Int("worker", id)))
		}(id)
	}
	return g
}

func run[T any](ctx context.Context, fn TaskFunc[T], q *queue.Queue[T], g *Group, o *options, logger *zap.Logger) {
	for {
		if ctx.Err() != nil {
			g.canceled.Store(true)
			logger.Debug("worker canceled", zap.Error(ctx.Err()))
			return
		}
		item, err := q.Pop(ctx)
		if err != nil {
			g.canceled.Store(true)
			logger.Debug("worker canceled while waiting", zap.Error(err))
			return
		}
		if item.Shutdown() {
			if o.tracker != nil {
				o.tracker.Finish()
			}
			logger.Debug("worker shutdown")
			return
		}

		start := time.Now()
		ok := fn(ctx, item.Task())
		metrics.ObserveTask(ok, time.Since(start))
		if !ok {
			g.ok.Store(false)
		}
		if o.tracker != nil {
			o.tracker.Advance(q.Pending())
		}
	}
}

func normalizeWorkers(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
