package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPopFIFO(t *testing.T) {
	t.Parallel()

	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	require.Equal(t, 5, q.Len())
	require.Equal(t, 5, q.Pending())

	for want := 0; want < 5; want++ {
		item, err := q.Pop(context.Background())
		require.NoError(t, err)
		require.False(t, item.Shutdown())
		require.Equal(t, want, item.Task())
	}
	require.Zero(t, q.Len())
}

func TestQueueShutdownItemsAreDistinct(t *testing.T) {
	t.Parallel()

	q := New[string]()
	q.Push("")
	q.PushShutdown(2)
	require.Equal(t, 3, q.Len())
	require.Equal(t, 1, q.Pending())

	item, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.False(t, item.Shutdown(), "zero-valued task must not read as shutdown")

	for i := 0; i < 2; i++ {
		item, err = q.Pop(context.Background())
		require.NoError(t, err)
		require.True(t, item.Shutdown())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := New[string]()
	result := make(chan string, 1)
	go func() {
		item, err := q.Pop(context.Background())
		if err == nil {
			result <- item.Task()
		}
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	q.Push("tile-1")

	select {
	case got := <-result:
		require.Equal(t, "tile-1", got)
	case <-time.After(time.Second):
		t.Fatal("pop did not return pushed task")
	}
}

func TestQueuePopCanceled(t *testing.T) {
	t.Parallel()

	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, "pop canceled: context canceled", err.Error())
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	t.Parallel()

	const producers, perProducer, consumers = 4, 250, 3
	q := New[int]()

	var seenMu sync.Mutex
	seen := make(map[int]int)

	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				item, err := q.Pop(context.Background())
				if err != nil || item.Shutdown() {
					return
				}
				seenMu.Lock()
				seen[item.Task()]++
				seenMu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(base int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}
	pwg.Wait()
	q.PushShutdown(consumers)
	cwg.Wait()

	require.Len(t, seen, producers*perProducer)
	for task, count := range seen {
		require.Equalf(t, 1, count, "task %d delivered %d times", task, count)
	}
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()

	q := New[int]()
	q.Push(1)
	q.PushShutdown(1)
	q.Push(2)

	require.Equal(t, []int{1, 2}, q.Drain())
	require.Zero(t, q.Len())
	require.Zero(t, q.Pending())
	require.Empty(t, q.Drain())
}
