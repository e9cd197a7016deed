package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
)

const (
	defaultMaxRetries       = 3
	defaultInitialDelay     = 2 * time.Second
	maxBackoff              = 60 * time.Second
	burstCapacityMultiplier = 2
)

// DeadLetterer persists an undeliverable batch, one row per event.
type DeadLetterer interface {
	Persist(ctx context.Context, event cloudevents.CloudEvent, sinkName string, cause error, attempts int) error
}

// ResilientOption configures a ResilientSink at construction time.
type ResilientOption func(*ResilientSink)

// WithMaxRetries overrides the default retry budget (3).
func WithMaxRetries(n int) ResilientOption {
	return func(r *ResilientSink) { r.maxRetries = n }
}

// WithInitialDelay overrides the default initial backoff (2s).
func WithInitialDelay(d time.Duration) ResilientOption {
	return func(r *ResilientSink) { r.initialDelay = d }
}

// WithRateLimit throttles SendBatch to at most requestsPerSecond batches per
// second with a token bucket (burst defaults to 2x the rate). Unset by
// default, which disables throttling.
func WithRateLimit(requestsPerSecond int, burst int) ResilientOption {
	return func(r *ResilientSink) {
		if burst <= 0 {
			burst = requestsPerSecond * burstCapacityMultiplier
		}

		r.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// ResilientSink wraps a Sink with retry-with-backoff and dead-letter
// persistence (C3). A failed SendBatch is retried up to maxRetries times;
// once exhausted, every event in the batch is persisted to the DLQ.
type ResilientSink struct {
	inner        Sink
	dlq          DeadLetterer
	logger       *slog.Logger
	maxRetries   int
	initialDelay time.Duration
	limiter      *rate.Limiter

	queuedEventCount atomic.Int64

	mu sync.Mutex
}

// NewResilientSink wraps inner with the default retry policy, overridable
// via options.
func NewResilientSink(inner Sink, dlq DeadLetterer, logger *slog.Logger, opts ...ResilientOption) *ResilientSink {
	if logger == nil {
		logger = slog.Default()
	}

	r := &ResilientSink{
		inner:        inner,
		dlq:          dlq,
		logger:       logger,
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *ResilientSink) Name() string {
	return r.inner.Name()
}

func (r *ResilientSink) IsHealthy() bool {
	return r.inner.IsHealthy()
}

// QueuedEventCount reports how many events are currently inside SendBatch
// across in-flight batches, whether on a first attempt or awaiting a retry.
func (r *ResilientSink) QueuedEventCount() int64 {
	return r.queuedEventCount.Load()
}

// SendBatch attempts delivery with exponential backoff between attempts,
// blocking the caller for the duration of the retry sequence (the consumer
// dispatches sinks concurrently, so one slow sink does not stall others).
// On exhaustion every event in batch is handed to the DLQ.
func (r *ResilientSink) SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error {
	if len(batch) == 0 {
		return nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("sinks: %s rate limit wait: %w", r.inner.Name(), err)
		}
	}

	r.queuedEventCount.Add(int64(len(batch)))
	defer r.queuedEventCount.Add(-int64(len(batch)))

	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(r.initialDelay, attempt-1)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := r.inner.SendBatch(ctx, batch)
		if err == nil {
			return nil
		}

		lastErr = err
		r.logger.Warn("sink send attempt failed",
			slog.String("sink", r.inner.Name()),
			slog.Int("attempt", attempt+1),
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()))
	}

	r.deadLetter(ctx, batch, lastErr)

	return fmt.Errorf("sinks: %s exhausted retries: %w", r.inner.Name(), lastErr)
}

func (r *ResilientSink) deadLetter(ctx context.Context, batch []cloudevents.CloudEvent, cause error) {
	if r.dlq == nil {
		return
	}

	for _, event := range batch {
		if err := r.dlq.Persist(ctx, event, r.inner.Name(), cause, r.maxRetries); err != nil {
			r.logger.Error("failed to persist event to dead-letter queue",
				slog.String("sink", r.inner.Name()),
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()))
		}
	}
}

func backoffDelay(initial time.Duration, attempt int) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt)))
	if delay > maxBackoff {
		return maxBackoff
	}

	return delay
}
