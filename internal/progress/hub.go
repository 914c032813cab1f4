package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls batching for the Hub.
//   - BufferSize: lifecycle events (run start, done, error) held per batch
//     before new ones are dropped (default 4096). Bar events never count
//     against it because they coalesce.
//   - MaxBatchEvents: flush once a batch holds this many entries (default 1000).
//   - MaxBatchWait: flush this long after the first entry of a batch (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats counts what the Hub did with emitted events.
type Stats struct {
	// Accepted events took a new slot in a batch.
	Accepted int64
	// Coalesced bar events overwrote a pending update of the same run and bar.
	Coalesced int64
	// Dropped lifecycle events found the batch full.
	Dropped int64
}

type barKey struct {
	run [16]byte
	bar int
}

// Hub collects run lifecycle and bar events into batches and fans each batch
// out to the registered sinks on a background goroutine. Within a batch the
// bar updates of one run and bar coalesce into a single event carrying the
// latest percentage, in the position of the first update, so a run's bars
// always precede a terminal event emitted after them. Emit never waits on
// sinks, so pool workers can report from inside their task loop.
type Hub struct {
	cfg     Config
	sinks   []Sink
	logger  *zap.Logger
	dropLog rate.Sometimes

	mu        sync.Mutex
	batch     []Event
	bars      map[barKey]int
	lifecycle int
	stats     Stats
	closed    bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background flushing goroutine using
// the supplied sinks. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		logger:  logger,
		dropLog: rate.Sometimes{First: 1, Interval: dropLogInterval},
		bars:    make(map[barKey]int),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit adds evt to the pending batch. A bar event replaces the pending update
// for the same run and bar. A lifecycle event is dropped with a rate-limited
// warning when BufferSize of them are already pending. Events emitted after
// Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if evt.Stage == StageBar {
		key := barKey{run: evt.RunID, bar: evt.Bar}
		if i, ok := h.bars[key]; ok {
			h.batch[i].Percent = evt.Percent
			h.batch[i].TS = evt.TS
			h.stats.Coalesced++
			h.mu.Unlock()
			return
		}
		h.bars[key] = len(h.batch)
	} else {
		if h.lifecycle >= h.cfg.BufferSize {
			h.stats.Dropped++
			dropped := h.stats.Dropped
			h.mu.Unlock()
			h.dropLog.Do(func() {
				h.logger.Warn("progress events dropped due to backpressure",
					zap.String("stage", string(evt.Stage)),
					zap.Int64("dropped_total", dropped),
				)
			})
			return
		}
		h.lifecycle++
	}
	h.batch = append(h.batch, evt)
	h.stats.Accepted++
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Stats returns the running event counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Close flushes the pending batch, closes the sinks and blocks until the
// background goroutine exits. It is safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	armed := false
	for {
		select {
		case <-h.wake:
			switch n := h.pending(); {
			case n >= h.cfg.MaxBatchEvents:
				timer.Stop()
				armed = false
				h.flush(h.take())
			case n > 0 && !armed:
				timer.Reset(h.cfg.MaxBatchWait)
				armed = true
			}
		case <-timer.C:
			armed = false
			h.flush(h.take())
		case <-h.stopCh:
			timer.Stop()
			h.flush(h.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batch)
}

// take detaches the pending batch so sinks run without holding the lock.
func (h *Hub) take() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := h.batch
	h.batch = nil
	clear(h.bars)
	h.lifecycle = 0
	return batch
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
