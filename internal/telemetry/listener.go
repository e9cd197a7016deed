// Package telemetry implements the telemetry listener (C6): it LISTENs on a
// database NOTIFY channel and wraps valid payloads as EventData for the
// router, using lib/pq's pq.Listener for the LISTEN/NOTIFY protocol.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// ErrInvalidPayload is returned (and logged, never fatal) when a NOTIFY
// payload is missing a required field.
var ErrInvalidPayload = errors.New("telemetry: invalid notification payload")

// payload is the JSON shape of a telemetry NOTIFY.
type payload struct {
	DigitalTwinID string          `json:"digitalTwinId"`
	MessageID     string          `json:"messageId"`
	GraphName     string          `json:"graphName"`
	EventType     string          `json:"eventType"`
	Timestamp     string          `json:"timestamp"`
	ComponentName string          `json:"componentName"`
	Raw           json.RawMessage `json:"-"`
}

// Listener wraps a pq.Listener, translating NOTIFY payloads into EventData.
type Listener struct {
	channel string
	queue   *events.Queue
	logger  *slog.Logger

	listener *pq.Listener
	healthy  atomic.Bool
}

// New constructs a Listener. connString is a standard libpq connection
// string (a plain, non-replication connection).
func New(connString, channel string, queue *events.Queue, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{channel: channel, queue: queue, logger: logger}

	l.listener = pq.NewListener(connString, minReconnectInterval, maxReconnectInterval, l.onEvent)

	return l
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected, pq.ListenerEventReconnected:
		l.healthy.Store(true)
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		l.healthy.Store(false)
		if err != nil {
			l.logger.Warn("telemetry listener connection event", slog.String("error", err.Error()))
		}
	}
}

// IsHealthy reports true once LISTEN has succeeded; false after any
// connection loss.
func (l *Listener) IsHealthy() bool {
	return l.healthy.Load()
}

// Run subscribes to the configured channel and forwards valid payloads to
// the queue until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	defer l.listener.Close()

	if err := l.listener.Listen(l.channel); err != nil {
		return fmt.Errorf("telemetry: listen on %s: %w", l.channel, err)
	}

	l.logger.Info("telemetry listener subscribed", slog.String("channel", l.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification, ok := <-l.listener.Notify:
			if !ok {
				return fmt.Errorf("telemetry: notification channel closed")
			}

			if notification == nil {
				// pq sends a nil notification after a reconnect; nothing to do.
				continue
			}

			l.handleNotification(ctx, notification.Extra)
		case <-time.After(minReconnectInterval):
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("telemetry listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *Listener) handleNotification(ctx context.Context, raw string) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		l.logger.Warn("dropping invalid telemetry payload", slog.String("error", err.Error()))
		return
	}

	if p.DigitalTwinID == "" || p.MessageID == "" || p.GraphName == "" {
		l.logger.Warn("dropping telemetry payload missing required fields", slog.String("payload", raw))
		return
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		l.logger.Warn("dropping unparseable telemetry payload", slog.String("error", err.Error()))
		return
	}

	ts := time.Now().UTC()
	if p.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			ts = parsed
		}
	}

	e := events.EventData{
		ID:        p.DigitalTwinID,
		GraphName: p.GraphName,
		TableName: "telemetry",
		EventType: events.Telemetry,
		NewValue:  data,
		Timestamp: ts,
	}

	if err := e.Validate(); err != nil {
		l.logger.Warn("dropping invalid telemetry event", slog.String("error", err.Error()))
		return
	}

	if err := l.queue.Enqueue(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error("failed to enqueue telemetry event", slog.String("error", err.Error()))
	}
}
