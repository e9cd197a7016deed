// Package router implements the consumer/router loop (C7): it drains the
// event queue in batches, fans each event out to every matching route,
// builds CloudEvents via the factory, and dispatches per-sink buffers
// concurrently.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks"
)

const (
	defaultMaxBatchSize = 50
	emptyPollInterval   = 100 * time.Millisecond
)

// Route binds a sink to an output format, with an optional per-route
// type-mapping override.
type Route struct {
	SinkName     string
	EventFormat  cloudevents.Format
	TypeMappings map[cloudevents.TypeKey]string
}

// Config configures a Router.
type Config struct {
	Source        string
	ServiceID     string
	Routes        []Route
	MaxBatchSize  int
	// SinkTypeMappings holds the highest-precedence overrides, keyed by sink
	// name: sink-level mappings win over a route's own typeMappings, which
	// win over cloudevents.DefaultTypeMap.
	SinkTypeMappings map[string]map[cloudevents.TypeKey]string
}

// HealthStatus summarizes the health of every registered sink at a point in
// time.
type HealthStatus struct {
	SinkHealth       map[string]bool
	QueueDepth       int
	TotalEnqueued    uint64
}

// Router drains the event queue and dispatches CloudEvents to configured
// sinks.
type Router struct {
	cfg    Config
	queue  *events.Queue
	sinks  map[string]sinks.Sink
	logger *slog.Logger
}

// New builds a Router. sinkRegistry must contain every sink named by a
// Route in cfg.Routes; routes naming an unknown sink are logged and
// skipped at dispatch time rather than rejected at construction.
func New(cfg Config, queue *events.Queue, sinkRegistry map[string]sinks.Sink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}

	return &Router{cfg: cfg, queue: queue, sinks: sinkRegistry, logger: logger}
}

// Run drives the dequeue-transform-dispatch loop until ctx is cancelled. On
// cancellation it drains and dispatches the batch already in hand before
// returning.
func (r *Router) Run(ctx context.Context) error {
	for {
		batch := r.queue.DequeueBatch(r.cfg.MaxBatchSize)

		if len(batch) == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(emptyPollInterval):
				continue
			}
		}

		r.dispatch(ctx, batch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *Router) dispatch(ctx context.Context, batch []events.EventData) {
	perSink := make(map[string][]cloudevents.CloudEvent)

	for _, e := range batch {
		for _, route := range r.cfg.Routes {
			sink, ok := r.sinks[route.SinkName]
			if !ok {
				r.logger.Warn("route references unknown sink", slog.String("sink", route.SinkName))
				continue
			}

			typeMap := r.resolveTypeMap(route)

			produced, err := cloudevents.Build(e, r.cfg.Source, r.cfg.ServiceID, route.EventFormat, typeMap)
			if err != nil {
				r.logger.Warn("failed to build cloud event",
					slog.String("sink", route.SinkName),
					slog.String("event_id", e.ID),
					slog.String("error", err.Error()))

				continue
			}

			perSink[route.SinkName] = append(perSink[route.SinkName], produced...)
			_ = sink // looked up purely to validate existence above
		}
	}

	r.sendConcurrently(ctx, perSink)
}

// resolveTypeMap merges the three-tier override precedence: sink-level
// mappings win over the route's own typeMappings, which win over
// cloudevents.DefaultTypeMap.
func (r *Router) resolveTypeMap(route Route) map[cloudevents.TypeKey]string {
	merged := make(map[cloudevents.TypeKey]string, len(cloudevents.DefaultTypeMap))
	for k, v := range cloudevents.DefaultTypeMap {
		merged[k] = v
	}

	for k, v := range route.TypeMappings {
		merged[k] = v
	}

	if sinkOverrides, ok := r.cfg.SinkTypeMappings[route.SinkName]; ok {
		for k, v := range sinkOverrides {
			merged[k] = v
		}
	}

	return merged
}

func (r *Router) sendConcurrently(ctx context.Context, perSink map[string][]cloudevents.CloudEvent) {
	var wg sync.WaitGroup

	for name, batch := range perSink {
		sink, ok := r.sinks[name]
		if !ok {
			continue
		}

		wg.Add(1)

		go func(name string, sink sinks.Sink, batch []cloudevents.CloudEvent) {
			defer wg.Done()

			if err := sink.SendBatch(ctx, batch); err != nil {
				r.logger.Error("sink send failed",
					slog.String("sink", name),
					slog.Int("batch_size", len(batch)),
					slog.String("error", err.Error()))
			}
		}(name, sink, batch)
	}

	wg.Wait()
}

// Health returns a point-in-time health snapshot across all registered
// sinks.
func (r *Router) Health() HealthStatus {
	status := HealthStatus{
		SinkHealth:    make(map[string]bool, len(r.sinks)),
		QueueDepth:    r.queue.Count(),
		TotalEnqueued: r.queue.TotalEnqueued(),
	}

	for name, sink := range r.sinks {
		status.SinkHealth[name] = sink.IsHealthy()
	}

	return status
}
