package progress

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Tracker is the progress state shared by the workers of one pool run: an
// atomic count of finished tasks plus the bar that receives percentages.
//
// Percentages are approximate. They are computed from the done count and the
// queue length observed at that moment, both of which move concurrently, so
// successive reports need not be monotonic. Only Done is exact once every
// worker has joined.
type Tracker struct {
	bar  int
	sink BarSink
	done atomic.Int64
}

// NewTracker returns a Tracker reporting to the given bar slot. A nil sink
// still counts tasks but reports nowhere.
func NewTracker(bar int, sink BarSink) *Tracker {
	return &Tracker{bar: bar, sink: sink}
}

// Advance records one finished task and reports the completion percentage
// given the number of tasks still waiting. It returns the reported percentage.
func (t *Tracker) Advance(remaining int) int {
	done := t.done.Add(1)
	pct := Percent(done, int64(remaining))
	t.report(pct)
	return pct
}

// Finish reports the bar as complete.
func (t *Tracker) Finish() {
	t.report(100)
}

// Done returns the number of tasks recorded so far.
func (t *Tracker) Done() int64 {
	return t.done.Load()
}

// Bar returns the slot this tracker reports to.
func (t *Tracker) Bar() int {
	return t.bar
}

func (t *Tracker) report(pct int) {
	if t.sink != nil {
		t.sink.Report(t.bar, pct)
	}
}

// Percent returns floor(100 * done / (done + remaining)), or 100 when there is
// no work at all.
func Percent(done, remaining int64) int {
	if remaining < 0 {
		remaining = 0
	}
	total := done + remaining
	if total <= 0 {
		return 100
	}
	return int(100 * done / total)
}

// BarReporter adapts an Emitter into a BarSink for a single run.
type BarReporter struct {
	runID   [16]byte
	tile    string
	emitter Emitter
	now     func() time.Time
}

// NewBarReporter builds a BarSink that emits StageBar events for the run.
func NewBarReporter(runID uuid.UUID, tile string, emitter Emitter) *BarReporter {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &BarReporter{
		runID:   UUIDToBytes(runID),
		tile:    tile,
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Report implements BarSink.
func (r *BarReporter) Report(bar int, percent int) {
	r.emitter.Emit(Event{
		RunID:   r.runID,
		TS:      r.now(),
		Stage:   StageBar,
		Tile:    r.tile,
		Bar:     bar,
		Percent: percent,
	})
}
