package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := NewQueue(2)

	require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "1"}))
	require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "2"}))

	assert.Equal(t, 2, q.Count())

	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "1", e.ID)

	e, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "2", e.ID)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueue_DequeueBatch(t *testing.T) {
	q := NewQueue(5)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), EventData{ID: string(rune('a' + i))}))
	}

	batch := q.DequeueBatch(2)
	assert.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].ID)
	assert.Equal(t, "b", batch[1].ID)

	batch = q.DequeueBatch(10)
	assert.Len(t, batch, 1)
	assert.Equal(t, "c", batch[0].ID)

	assert.Empty(t, q.DequeueBatch(5))
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "1"}))

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "2"}))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.TryDequeue()
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not unblock after room freed up")
	}

	wg.Wait()
}

func TestQueue_EnqueueRespectsContextCancellation(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "1"}))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(ctx, EventData{ID: "2"})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	// Cancellation latency is bounded by queue activity (Close/Dequeue
	// broadcast notFull); dequeue once to wake the waiter.
	q.TryDequeue()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not observe context cancellation")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	q.Close() // safe to call twice

	err := q.Enqueue(context.Background(), EventData{ID: "1"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CloseUnblocksPendingEnqueue(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "1"}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), EventData{ID: "2"})
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock a pending Enqueue")
	}
}

func TestQueue_TotalEnqueued(t *testing.T) {
	q := NewQueue(10)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(context.Background(), EventData{}))
	}

	q.DequeueBatch(2)

	assert.Equal(t, uint64(4), q.TotalEnqueued())
	assert.Equal(t, 2, q.Count())
}

func TestNewQueue_NonPositiveCapacityDefaultsToOne(t *testing.T) {
	q := NewQueue(0)

	require.NoError(t, q.Enqueue(context.Background(), EventData{ID: "1"}))
	assert.Equal(t, 1, q.Count())
}
