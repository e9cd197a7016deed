package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name      string
	healthy   bool
	failTimes int

	mu    sync.Mutex
	calls int
}

func (f *fakeSink) Name() string    { return f.name }
func (f *fakeSink) IsHealthy() bool { return f.healthy }

func (f *fakeSink) SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failTimes {
		return errors.New("send failed")
	}

	return nil
}

type fakeDLQ struct {
	mu     sync.Mutex
	events []cloudevents.CloudEvent
}

func (f *fakeDLQ) Persist(ctx context.Context, event cloudevents.CloudEvent, sinkName string, cause error, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, event)

	return nil
}

func testBatch() []cloudevents.CloudEvent {
	return []cloudevents.CloudEvent{{ID: "1"}, {ID: "2"}}
}

func TestResilientSink_SendBatch_SucceedsFirstTry(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true}
	dlq := &fakeDLQ{}
	r := NewResilientSink(inner, dlq, nil, WithInitialDelay(time.Millisecond))

	err := r.SendBatch(context.Background(), testBatch())

	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, dlq.events)
}

func TestResilientSink_SendBatch_RetriesThenSucceeds(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true, failTimes: 2}
	dlq := &fakeDLQ{}
	r := NewResilientSink(inner, dlq, nil, WithInitialDelay(time.Millisecond))

	err := r.SendBatch(context.Background(), testBatch())

	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Empty(t, dlq.events)
}

func TestResilientSink_SendBatch_ExhaustsRetriesAndDeadLetters(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true, failTimes: 100}
	dlq := &fakeDLQ{}
	r := NewResilientSink(inner, dlq, nil, WithMaxRetries(2), WithInitialDelay(time.Millisecond))

	err := r.SendBatch(context.Background(), testBatch())

	require.Error(t, err)
	assert.Equal(t, 3, inner.calls) // initial attempt + 2 retries
	assert.Len(t, dlq.events, 2)
}

func TestResilientSink_SendBatch_EmptyBatchIsNoop(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true}
	r := NewResilientSink(inner, nil, nil)

	err := r.SendBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 0, inner.calls)
}

func TestResilientSink_NameAndHealth_DelegateToInner(t *testing.T) {
	inner := &fakeSink{name: "my-sink", healthy: false}
	r := NewResilientSink(inner, nil, nil)

	assert.Equal(t, "my-sink", r.Name())
	assert.False(t, r.IsHealthy())
}

func TestResilientSink_SendBatch_ContextCancelledDuringBackoff(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true, failTimes: 100}
	r := NewResilientSink(inner, nil, nil, WithInitialDelay(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.SendBatch(ctx, testBatch())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResilientSink_QueuedEventCount_ResetsAfterSend(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true}
	r := NewResilientSink(inner, nil, nil)

	require.NoError(t, r.SendBatch(context.Background(), testBatch()))

	assert.Equal(t, int64(0), r.QueuedEventCount())
}

func TestWithRateLimit_ThrottlesSendBatch(t *testing.T) {
	inner := &fakeSink{name: "test", healthy: true}
	r := NewResilientSink(inner, nil, nil, WithRateLimit(1, 1))

	require.NoError(t, r.SendBatch(context.Background(), testBatch()))

	start := time.Now()
	require.NoError(t, r.SendBatch(context.Background(), testBatch()))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}
