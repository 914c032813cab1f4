package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/build"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  map[uuid.UUID]int
	fail  map[uuid.UUID]bool
	block chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: make(map[uuid.UUID]int), fail: make(map[uuid.UUID]bool)}
}

func (f *fakeRunner) Run(_ context.Context, runID uuid.UUID, t tile.Tile) (build.Report, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID]++
	if f.fail[runID] {
		return build.Report{}, errors.New("boom")
	}
	return build.Report{RunID: runID, Tile: t}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func TestDispatcherRunsSubmittedBuilds(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	d := New(runner, 3, zap.NewNop())
	require.NoError(t, d.Start(context.Background()))

	ids := make([]uuid.UUID, 12)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, d.Submit(BuildRequest{RunID: ids[i], Tile: tile.Tile{Lat: i, Lon: i}}))
	}
	require.Eventually(t, func() bool { return runner.count() == len(ids) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Shutdown(context.Background()))
	for _, id := range ids {
		require.Equal(t, 1, runner.runs[id])
	}
	require.ErrorIs(t, d.Submit(BuildRequest{RunID: uuid.New()}), ErrClosed)
}

func TestDispatcherShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	d := New(runner, 2, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(BuildRequest{RunID: uuid.New(), Tile: tile.Tile{Lat: 1, Lon: 1}}))
	}
	require.Equal(t, 5, d.Pending())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))
	require.Equal(t, 5, runner.count(), "queued requests are built before workers exit")
	require.Zero(t, d.Pending())
}

func TestDispatcherFailedBuildDoesNotStopWorkers(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	bad := uuid.New()
	runner.fail[bad] = true
	d := New(runner, 1, nil)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Submit(BuildRequest{RunID: bad, Tile: tile.Tile{}}))
	require.NoError(t, d.Submit(BuildRequest{RunID: uuid.New(), Tile: tile.Tile{}}))
	require.NoError(t, d.Shutdown(context.Background()))
	require.Equal(t, 2, runner.count())
}

func TestDispatcherShutdownTimeout(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.block = make(chan struct{})
	d := New(runner, 1, nil)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Submit(BuildRequest{RunID: uuid.New(), Tile: tile.Tile{}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	close(runner.block)
	require.NoError(t, d.Shutdown(context.Background()))
	require.Equal(t, 1, runner.count())
}

func TestDispatcherRejectsSubmitAfterStartContextEnds(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	d := New(runner, 2, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	first := uuid.New()
	require.NoError(t, d.Submit(BuildRequest{RunID: first, Tile: tile.Tile{Lat: 1, Lon: 1}}))
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	err := d.Submit(BuildRequest{RunID: uuid.New(), Tile: tile.Tile{Lat: 2, Lon: 2}})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, d.Pending())
}

func TestDispatcherLifecycleErrors(t *testing.T) {
	t.Parallel()

	d := New(newFakeRunner(), 0, nil)
	require.ErrorIs(t, d.Shutdown(context.Background()), ErrNotStarted)
	require.Error(t, d.Submit(BuildRequest{RunID: uuid.New(), Tile: tile.Tile{Lat: 100}}))

	require.NoError(t, d.Start(context.Background()))
	require.Error(t, d.Start(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))
	require.ErrorIs(t, d.Start(context.Background()), ErrClosed)
}
