// Package service drives one conversation screen: it opens the session, keeps the
// shared store current and produces the filtered, display-ordered timeline.
package service

import (
	"context"
	"sync"

	"mobile-chat/backend/conversation/models"
	"mobile-chat/backend/conversation/search"
	"mobile-chat/backend/conversation/session"
	"mobile-chat/backend/conversation/store"
	"mobile-chat/backend/conversation/timeline"
	"mobile-chat/backend/conversation/transport"
	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/pkg/resilience"
	"mobile-chat/backend/shared/observability"

	"github.com/google/uuid"
)

// EnterRequest identifies the conversation to enter and who is entering it
type EnterRequest struct {
	ConversationID string
	LocalID        string
	LocalName      string
	FriendID       string
}

// HistorySource loads the messages a conversation already has
type HistorySource interface {
	LoadMessages(ctx context.Context, conversationID string) ([]models.MessageRecord, error)
}

// HistoryFunc adapts a function to HistorySource
type HistoryFunc func(ctx context.Context, conversationID string) ([]models.MessageRecord, error)

// LoadMessages calls f
func (f HistoryFunc) LoadMessages(ctx context.Context, conversationID string) ([]models.MessageRecord, error) {
	return f(ctx, conversationID)
}

// ConversationService opens conversations against a transport and a shared store
type ConversationService struct {
	dialer      transport.Dialer
	store       store.Store
	roster      timeline.Roster
	history     HistorySource
	breaker     *resilience.CircuitBreaker
	metrics     *observability.Metrics
	log         *logger.Logger
	searchCfg   search.Config
	newID       func() string
	sessionOpts []session.Option
}

// Option configures a ConversationService
type Option func(*ConversationService)

// WithBreaker opens sessions through cb
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *ConversationService) { s.breaker = cb }
}

// WithHistory seeds the store from h whenever a conversation is entered
func WithHistory(h HistorySource) Option {
	return func(s *ConversationService) { s.history = h }
}

// WithMetrics records conversation activity on m
func WithMetrics(m *observability.Metrics) Option {
	return func(s *ConversationService) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l *logger.Logger) Option {
	return func(s *ConversationService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSearchConfig configures the search filter of every conversation
func WithSearchConfig(cfg search.Config) Option {
	return func(s *ConversationService) { s.searchCfg = cfg }
}

// WithIDGenerator replaces the message id generator
func WithIDGenerator(fn func() string) Option {
	return func(s *ConversationService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithSessionOptions passes extra options to every session
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *ConversationService) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

func NewConversationService(dialer transport.Dialer, st store.Store, roster timeline.Roster, opts ...Option) *ConversationService {
	s := &ConversationService{
		dialer:    dialer,
		store:     st,
		roster:    roster,
		log:       logger.GetGlobal(),
		searchCfg: search.DefaultConfig(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("conversation-service")
	return s
}

// Enter opens a session for the conversation and starts feeding the store.
// A connection failure is returned as is; nothing is retried.
func (s *ConversationService) Enter(ctx context.Context, req EnterRequest) (*Conversation, error) {
	if req.ConversationID == "" || req.LocalID == "" {
		return nil, apperrors.NewInvalidArgumentError("conversation id and local participant id are required")
	}

	log := s.log.WithConversationID(req.ConversationID).WithParticipantID(req.LocalID)
	opts := append([]session.Option{session.WithLogger(log), session.WithMetrics(s.metrics)}, s.sessionOpts...)
	sess := session.New(s.dialer, req.ConversationID, req.LocalID, opts...)

	// The session counts receipts; only suppressed duplicates are recorded here.
	sess.OnInboundMessage(func(rec models.MessageRecord) {
		if !s.store.InsertIfAbsent(rec) {
			s.metrics.DuplicateSuppressed(context.Background(), rec.ConversationID)
		}
	})

	c := &Conversation{
		req:     req,
		session: sess,
		store:   s.store,
		filter:  search.New(s.searchCfg),
		roster:  s.roster,
		newID:   s.newID,
		log:     log,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.watch()
	s.loadHistory(ctx, req.ConversationID, log)

	open := sess.Open
	if s.breaker != nil {
		open = func(ctx context.Context) error { return s.breaker.Execute(ctx, sess.Open) }
	}
	if err := open(ctx); err != nil {
		c.stop()
		log.Warn("Failed to enter conversation", "error", err.Error())
		return nil, err
	}

	log.Info("Entered conversation", "friend_id", req.FriendID)
	return c, nil
}

// loadHistory seeds the store before the session opens, so history and live
// echoes share one id index. A failed load leaves the conversation live-only.
func (s *ConversationService) loadHistory(ctx context.Context, conversationID string, log *logger.Logger) {
	if s.history == nil {
		return
	}
	records, err := s.history.LoadMessages(ctx, conversationID)
	if err != nil {
		log.LogError(err, "Failed to load conversation history")
		return
	}

	loaded := 0
	for _, rec := range records {
		if rec.ID == "" || rec.ConversationID != conversationID {
			log.Warn("Skipping history record", "msg_id", rec.ID, "record_conversation_id", rec.ConversationID)
			continue
		}
		if s.store.InsertIfAbsent(rec) {
			loaded++
		} else {
			s.metrics.DuplicateSuppressed(ctx, conversationID)
		}
	}
	log.Debug("Loaded conversation history", "count", loaded)
}

// IsBreakerFailure reports whether err should count against the session circuit breaker
func IsBreakerFailure(err error) bool {
	return apperrors.Is(err, apperrors.ErrConnection)
}

// Conversation is an entered conversation
type Conversation struct {
	req     EnterRequest
	session *session.Session
	store   store.Store
	filter  *search.Filter
	roster  timeline.Roster
	newID   func() string
	log     *logger.Logger

	updates     chan struct{}
	done        chan struct{}
	cancelWatch func()
	stopOnce    sync.Once
	leaveOnce   sync.Once
	leaveErr    error
}

// watch coalesces store inserts and effective query changes into Updates
func (c *Conversation) watch() {
	inserted, cancel := c.store.Subscribe(c.req.ConversationID)
	c.cancelWatch = cancel
	c.filter.OnQueryChanged(func(string) { c.notify() })

	go func() {
		for {
			select {
			case <-c.done:
				return
			case _, ok := <-inserted:
				if !ok {
					return
				}
				c.notify()
			}
		}
	}()
}

func (c *Conversation) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Conversation) stop() {
	c.stopOnce.Do(func() {
		c.filter.Stop()
		close(c.done)
		c.cancelWatch()
	})
}

// ID returns the conversation id
func (c *Conversation) ID() string { return c.req.ConversationID }

// State returns the session state
func (c *Conversation) State() session.State { return c.session.State() }

// Updates signals that the timeline should be redrawn. Signals coalesce.
func (c *Conversation) Updates() <-chan struct{} { return c.updates }

// Send sends text to the friend and inserts the optimistic record.
// If the transport rejects the event the record is returned with the error and
// nothing is inserted.
func (c *Conversation) Send(ctx context.Context, text string) (models.MessageRecord, error) {
	rec, err := c.session.Send(ctx, text, c.req.FriendID, c.newID())
	if err != nil {
		return rec, err
	}
	c.store.InsertIfAbsent(rec)
	return rec, nil
}

// Search records raw search input; it takes effect after the quiescence window
func (c *Conversation) Search(raw string) {
	c.filter.OnInputChanged(raw)
}

// Query returns the raw input and the effective query
func (c *Conversation) Query() (raw, effective string) {
	return c.filter.RawInput(), c.filter.EffectiveQuery()
}

// Timeline returns the conversation filtered by the effective query, newest first.
// An invalid query shows the unfiltered timeline.
func (c *Conversation) Timeline(ctx context.Context) ([]models.DisplayMessage, error) {
	messages := c.store.MessagesFor(c.req.ConversationID)

	filtered, err := c.filter.Apply(messages)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrInvalidQuery) {
			return nil, err
		}
		c.log.Warn("Ignoring invalid search query", "error", err.Error())
		filtered = messages
	}

	resolve := timeline.RosterResolver(ctx, c.req.LocalID, c.req.LocalName, c.roster)
	return timeline.Project(filtered, resolve)
}

// Leave stops the search filter and closes the session. Later calls return the
// first call's result.
func (c *Conversation) Leave(ctx context.Context) error {
	c.leaveOnce.Do(func() {
		c.stop()
		c.leaveErr = c.session.Close(ctx)
		c.log.Info("Left conversation")
	})
	return c.leaveErr
}
