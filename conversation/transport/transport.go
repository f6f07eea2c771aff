// Package transport defines the real-time connection contract the conversation
// session is written against. Implementations live in conversation/ws and
// conversation/redisbus.
package transport

import (
	"context"

	"mobile-chat/backend/conversation/models"
)

// Dialer opens a connection for one participant in one conversation
type Dialer interface {
	Dial(ctx context.Context, conversationID, participantID string) (Conn, error)
}

// Conn is a live, exclusively owned connection handle
type Conn interface {
	// Emit queues an event for delivery. It must not block on the network.
	Emit(ctx context.Context, event string, payload any) error
	// Events yields inbound envelopes in arrival order. The channel is closed
	// when the connection ends.
	Events() <-chan models.Envelope
	// Close releases the connection. Calling it more than once is a no-op.
	Close() error
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, conversationID, participantID string) (Conn, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, conversationID, participantID string) (Conn, error) {
	return f(ctx, conversationID, participantID)
}
