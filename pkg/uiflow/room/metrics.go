package room

import (
	"context"
	"time"

	"github.com/tsarna/uiflow/pkg/uiflow/o11y"
)

// Metrics holds the instruments shared by the hub, its rooms and the
// websocket listener. A nil *Metrics records nothing.
type Metrics struct {
	// Room metrics
	activeRooms    o11y.Gauge
	roomsOpened    o11y.Counter
	roomsEvicted   o11y.Counter
	storageErrors  o11y.Counter
	sequenceLength o11y.Counter

	// Connection metrics
	activeConnections  o11y.Gauge
	totalConnections   o11y.Counter
	connectionDuration o11y.Histogram
	connectionErrors   o11y.Counter

	// Message metrics
	messagesReceived o11y.Counter
	messagesSent     o11y.Counter
	messagesDropped  o11y.Counter
	messageErrors    o11y.Counter
	messageSize      o11y.Histogram

	// Action metrics
	actionsTotal   o11y.Counter
	actionDuration o11y.Histogram

	// Health metrics
	pingsSent     o11y.Counter
	writeTimeouts o11y.Counter
}

// NewMetrics creates the instruments on provider. A nil provider yields nil.
func NewMetrics(provider o11y.MetricsProvider) *Metrics {
	if provider == nil {
		return nil
	}

	return &Metrics{
		activeRooms:    provider.Gauge("rooms_active"),
		roomsOpened:    provider.Counter("rooms_opened_total"),
		roomsEvicted:   provider.Counter("rooms_evicted_total"),
		storageErrors:  provider.Counter("room_storage_errors_total"),
		sequenceLength: provider.Counter("room_deltas_total"),

		activeConnections:  provider.Gauge("websocket_active_connections"),
		totalConnections:   provider.Counter("websocket_connections_total"),
		connectionDuration: provider.Histogram("websocket_connection_duration_seconds"),
		connectionErrors:   provider.Counter("websocket_connection_errors_total"),

		messagesReceived: provider.Counter("websocket_messages_received_total"),
		messagesSent:     provider.Counter("websocket_messages_sent_total"),
		messagesDropped:  provider.Counter("websocket_messages_dropped_total"),
		messageErrors:    provider.Counter("websocket_message_errors_total"),
		messageSize:      provider.Histogram("websocket_message_size_bytes"),

		actionsTotal:   provider.Counter("room_actions_total"),
		actionDuration: provider.Histogram("room_action_duration_seconds"),

		pingsSent:     provider.Counter("websocket_pings_sent_total"),
		writeTimeouts: provider.Counter("websocket_write_timeouts_total"),
	}
}

// Room lifecycle metrics

func (m *Metrics) RecordRoomCount(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(ctx, float64(count))
}

func (m *Metrics) RecordRoomOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.roomsOpened.Add(ctx, 1)
}

func (m *Metrics) RecordRoomEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.roomsEvicted.Add(ctx, 1)
}

// RecordStorageError counts failed loads and saves.
func (m *Metrics) RecordStorageError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.storageErrors.Add(ctx, 1, o11y.Label{Key: "op", Value: op})
}

// RecordDeltas counts sequence numbers consumed by a commit.
func (m *Metrics) RecordDeltas(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sequenceLength.Add(ctx, int64(n))
}

// Connection lifecycle metrics

// RecordConnectionStart records when a new WebSocket connection is established.
func (m *Metrics) RecordConnectionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1)
}

// RecordConnectionActive updates the active connection count.
func (m *Metrics) RecordConnectionActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count))
}

// RecordConnectionEnd records the duration of a finished connection.
func (m *Metrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordConnectionError records upgrade and join failures.
func (m *Metrics) RecordConnectionError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.connectionErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// Message metrics

func (m *Metrics) RecordMessageReceived(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "received"})
}

func (m *Metrics) RecordMessageSent(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "sent"})
}

// RecordMessageDropped counts frames discarded because a peer's queue was full.
func (m *Metrics) RecordMessageDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1)
}

func (m *Metrics) RecordMessageError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.messageErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// Action metrics

// RecordAction records the start of an action and returns a function that
// records its outcome.
//
//	done := metrics.RecordAction(ctx)
//	defer done(err)
func (m *Metrics) RecordAction(ctx context.Context) func(error) {
	if m == nil {
		return func(error) {}
	}

	start := time.Now()
	return func(err error) {
		result := "ok"
		if err != nil {
			result = "rejected"
		}
		m.actionsTotal.Add(ctx, 1, o11y.Label{Key: "result", Value: result})
		m.actionDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// Health metrics

func (m *Metrics) RecordPingSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.pingsSent.Add(ctx, 1)
}

func (m *Metrics) RecordWriteTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.writeTimeouts.Add(ctx, 1)
}
