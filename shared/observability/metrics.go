package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "mobile-chat/conversation"

// Metrics holds the instruments recorded by the conversation core and the relay.
// A nil *Metrics records nothing.
type Metrics struct {
	sessionsOpened   metric.Int64Counter
	sessionsClosed   metric.Int64Counter
	activeSessions   metric.Int64UpDownCounter
	messagesSent     metric.Int64Counter
	messagesReceived metric.Int64Counter
	messagesDropped  metric.Int64Counter
	duplicates       metric.Int64Counter
	relayClients     metric.Int64UpDownCounter
	relayRejected    metric.Int64Counter
}

// NewMetrics creates every instrument on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.sessionsOpened, err = meter.Int64Counter("chat.sessions.opened",
		metric.WithDescription("Conversation sessions that completed the init handshake")); err != nil {
		return nil, err
	}
	if m.sessionsClosed, err = meter.Int64Counter("chat.sessions.closed",
		metric.WithDescription("Conversation sessions disposed")); err != nil {
		return nil, err
	}
	if m.activeSessions, err = meter.Int64UpDownCounter("chat.sessions.active"); err != nil {
		return nil, err
	}
	if m.messagesSent, err = meter.Int64Counter("chat.messages.sent"); err != nil {
		return nil, err
	}
	if m.messagesReceived, err = meter.Int64Counter("chat.messages.received"); err != nil {
		return nil, err
	}
	if m.messagesDropped, err = meter.Int64Counter("chat.messages.dropped",
		metric.WithDescription("Inbound messages dropped because they could not be normalized")); err != nil {
		return nil, err
	}
	if m.duplicates, err = meter.Int64Counter("chat.messages.duplicates",
		metric.WithDescription("Inserts rejected because the message id was already stored")); err != nil {
		return nil, err
	}
	if m.relayClients, err = meter.Int64UpDownCounter("chat.relay.clients"); err != nil {
		return nil, err
	}
	if m.relayRejected, err = meter.Int64Counter("chat.relay.rejected"); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetrics builds instruments on the global meter provider, falling back
// to no-op instruments if creation fails.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(meterName))
	if err != nil {
		m, _ = NewMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func conversationAttr(conversationID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("conversation_id", conversationID))
}

// SessionOpened records a completed handshake
func (m *Metrics) SessionOpened(ctx context.Context, conversationID string) {
	if m == nil {
		return
	}
	m.sessionsOpened.Add(ctx, 1, conversationAttr(conversationID))
	m.activeSessions.Add(ctx, 1)
}

// SessionClosed records a session teardown
func (m *Metrics) SessionClosed(ctx context.Context, conversationID string) {
	if m == nil {
		return
	}
	m.sessionsClosed.Add(ctx, 1, conversationAttr(conversationID))
	m.activeSessions.Add(ctx, -1)
}

// MessageSent records an outbound message
func (m *Metrics) MessageSent(ctx context.Context, conversationID string) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1, conversationAttr(conversationID))
}

// MessageReceived records a delivered inbound message
func (m *Metrics) MessageReceived(ctx context.Context, conversationID string) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, conversationAttr(conversationID))
}

// MessageDropped records an inbound message that failed normalization
func (m *Metrics) MessageDropped(ctx context.Context, conversationID, reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("conversation_id", conversationID),
		attribute.String("reason", reason),
	))
}

// DuplicateSuppressed records a store insert rejected as a duplicate
func (m *Metrics) DuplicateSuppressed(ctx context.Context, conversationID string) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, 1, conversationAttr(conversationID))
}

// RelayClientConnected tracks relay websocket clients
func (m *Metrics) RelayClientConnected(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.relayClients.Add(ctx, delta)
}

// RelayEventRejected records an event the relay refused to route
func (m *Metrics) RelayEventRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.relayRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
