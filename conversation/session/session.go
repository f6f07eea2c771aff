// Package session owns the real-time connection for one visit to one
// conversation: the init handshake, inbound normalization and delivery,
// outbound dispatch, and teardown.
package session

import (
	"context"
	"sync"
	"time"

	"mobile-chat/backend/conversation/models"
	"mobile-chat/backend/conversation/transport"
	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the session lifecycle state
type State int

const (
	Uninitialized State = iota
	Connected
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Connected:
		return "connected"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// InboundHandler receives normalized inbound messages
type InboundHandler func(rec models.MessageRecord)

// Session is a ConversationSession. Create one per conversation visit;
// a disposed session cannot be reopened.
type Session struct {
	dialer         transport.Dialer
	conversationID string
	localID        string

	log     *logger.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	handlers []InboundHandler
	done     chan struct{}
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the timestamp source used for outbound records
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics records session activity on m
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// New creates an Uninitialized session
func New(dialer transport.Dialer, conversationID, localParticipantID string, opts ...Option) *Session {
	s := &Session{
		dialer:         dialer,
		conversationID: conversationID,
		localID:        localParticipantID,
		log:            logger.GetGlobal(),
		tracer:         otel.Tracer("mobile-chat/conversation/session"),
		now:            time.Now,
		state:          Uninitialized,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("session").
		WithConversationID(conversationID).
		WithParticipantID(localParticipantID)
	return s
}

// Open creates a session and opens it
func Open(ctx context.Context, dialer transport.Dialer, conversationID, localParticipantID string, opts ...Option) (*Session, error) {
	s := New(dialer, conversationID, localParticipantID, opts...)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ConversationID returns the conversation this session belongs to
func (s *Session) ConversationID() string { return s.conversationID }

// LocalParticipantID returns the participant this session speaks for
func (s *Session) LocalParticipantID() string { return s.localID }

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnInboundMessage registers a handler for inbound messages. Handlers run on the
// session's reader goroutine, one message at a time, in arrival order.
// Register handlers before Open to observe every message.
func (s *Session) OnInboundMessage(handler InboundHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// Open dials the transport and performs the init handshake.
// On failure the session stays Uninitialized and Open may be called again.
func (s *Session) Open(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "session.open", trace.WithAttributes(
		attribute.String("conversation_id", s.conversationID),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninitialized {
		return apperrors.NewInvalidStateError("open requires an uninitialized session, state is " + s.state.String())
	}
	if s.conversationID == "" || s.localID == "" {
		return apperrors.NewInvalidArgumentError("conversation id and local participant id are required")
	}

	conn, err := s.dialer.Dial(ctx, s.conversationID, s.localID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return apperrors.NewConnectionError("transport unreachable", err)
	}

	if err := conn.Emit(ctx, models.EventInit, models.PresencePayload{SenderID: s.localID}); err != nil {
		_ = conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return apperrors.NewConnectionError("init handshake failed", err)
	}

	s.conn = conn
	s.state = Connected
	go s.readLoop(conn.Events())

	s.metrics.SessionOpened(ctx, s.conversationID)
	s.log.Info("Conversation session opened")
	return nil
}

// Send emits a message event and returns the record for optimistic display.
// The caller inserts the returned record into the shared store exactly once.
// If the transport rejects the event, the record is returned with the error.
func (s *Session) Send(ctx context.Context, text, targetParticipantID, clientGeneratedID string) (models.MessageRecord, error) {
	ctx, span := s.tracer.Start(ctx, "session.send", trace.WithAttributes(
		attribute.String("conversation_id", s.conversationID),
		attribute.String("msg_id", clientGeneratedID),
	))
	defer span.End()

	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()

	if state != Connected {
		return models.MessageRecord{}, apperrors.NewInvalidStateError("send requires a connected session, state is " + state.String())
	}
	if clientGeneratedID == "" {
		return models.MessageRecord{}, apperrors.NewInvalidArgumentError("client generated message id is required")
	}

	rec := models.MessageRecord{
		ID:             clientGeneratedID,
		ConversationID: s.conversationID,
		SenderID:       s.localID,
		Text:           text,
		CreatedAt:      s.now(),
	}

	if err := conn.Emit(ctx, models.EventMessage, models.NewOutbound(rec, targetParticipantID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit failed")
		s.log.Warn("Failed to emit message", "msg_id", rec.ID, "error", err.Error())
		return rec, apperrors.NewConnectionError("message not handed to transport", err)
	}

	s.metrics.MessageSent(ctx, s.conversationID)
	return rec, nil
}

// Close emits the disconnect signal and releases the connection.
// Closing a disposed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	prev, conn := s.state, s.conn
	if prev == Disposed {
		s.mu.Unlock()
		return nil
	}
	s.state = Disposed
	s.conn = nil
	close(s.done)
	s.mu.Unlock()

	if prev == Uninitialized {
		return nil
	}

	var emitErr error
	if err := conn.Emit(ctx, models.EventDisconnect, models.PresencePayload{SenderID: s.localID}); err != nil {
		emitErr = apperrors.NewConnectionError("disconnect signal not delivered", err)
		s.log.Warn("Failed to emit disconnect", "error", err.Error())
	}
	if err := conn.Close(); err != nil {
		s.log.Warn("Failed to close transport", "error", err.Error())
	}

	s.metrics.SessionClosed(ctx, s.conversationID)
	s.log.Info("Conversation session closed")
	return emitErr
}

func (s *Session) readLoop(events <-chan models.Envelope) {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case env, ok := <-events:
			if !ok {
				s.log.Debug("Transport event stream ended")
				return
			}
			if env.Type != models.EventMessage {
				s.log.Debug("Ignoring event", "type", env.Type)
				continue
			}

			rec, err := models.DecodeInbound(env.Content)
			if err != nil {
				s.metrics.MessageDropped(ctx, s.conversationID, apperrors.GetErrorCode(err))
				s.log.Warn("Dropping malformed inbound message", "error", err.Error())
				continue
			}

			// Close may have raced with the receive above.
			select {
			case <-s.done:
				return
			default:
			}

			s.mu.Lock()
			handlers := make([]InboundHandler, len(s.handlers))
			copy(handlers, s.handlers)
			s.mu.Unlock()

			for _, h := range handlers {
				h(rec)
			}
			s.metrics.MessageReceived(ctx, s.conversationID)
		}
	}
}
