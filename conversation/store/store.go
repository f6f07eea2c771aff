// Package store holds the shared, append-only message store that sessions write
// to and timeline readers project from.
package store

import (
	"sync"

	"mobile-chat/backend/conversation/models"
)

const defaultSubscribeBuffer = 64

// Store is the shared message store collaborator.
type Store interface {
	// InsertIfAbsent appends rec unless a record with the same ID already exists
	// in its conversation. It reports whether the record was inserted.
	InsertIfAbsent(rec models.MessageRecord) bool
	// MessagesFor returns the conversation's records in insertion order.
	MessagesFor(conversationID string) []models.MessageRecord
	// Subscribe streams records as they are inserted and returns a cancel function.
	Subscribe(conversationID string) (<-chan models.MessageRecord, func())
}

type conversationLog struct {
	records []models.MessageRecord
	ids     map[string]struct{}
}

type subscriber struct {
	conversationID string
	ch             chan models.MessageRecord
}

// MemoryStore is an in-memory Store safe for concurrent use
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationLog
	subscribers   map[int]*subscriber
	nextSubID     int
	bufferSize    int
	onDuplicate   func(rec models.MessageRecord)
}

// Option configures a MemoryStore
type Option func(*MemoryStore)

// WithSubscribeBuffer sets the per-subscriber channel buffer
func WithSubscribeBuffer(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithDuplicateHook registers a callback invoked for every rejected duplicate
func WithDuplicateHook(fn func(rec models.MessageRecord)) Option {
	return func(s *MemoryStore) {
		s.onDuplicate = fn
	}
}

// NewMemoryStore creates an empty store
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		conversations: make(map[string]*conversationLog),
		subscribers:   make(map[int]*subscriber),
		bufferSize:    defaultSubscribeBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InsertIfAbsent implements Store
func (s *MemoryStore) InsertIfAbsent(rec models.MessageRecord) bool {
	s.mu.Lock()
	log, ok := s.conversations[rec.ConversationID]
	if !ok {
		log = &conversationLog{ids: make(map[string]struct{})}
		s.conversations[rec.ConversationID] = log
	}
	if _, dup := log.ids[rec.ID]; dup {
		hook := s.onDuplicate
		s.mu.Unlock()
		if hook != nil {
			hook(rec)
		}
		return false
	}
	log.ids[rec.ID] = struct{}{}
	log.records = append(log.records, rec)

	// Notify while holding the lock so subscribers see inserts in store order.
	for _, sub := range s.subscribers {
		if sub.conversationID != rec.ConversationID {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			// Slow reader; it re-reads MessagesFor on its next redraw.
		}
	}
	s.mu.Unlock()
	return true
}

// MessagesFor implements Store
func (s *MemoryStore) MessagesFor(conversationID string) []models.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]models.MessageRecord, len(log.records))
	copy(out, log.records)
	return out
}

// Len returns the number of records stored for a conversation
func (s *MemoryStore) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if log, ok := s.conversations[conversationID]; ok {
		return len(log.records)
	}
	return 0
}

// Subscribe implements Store
func (s *MemoryStore) Subscribe(conversationID string) (<-chan models.MessageRecord, func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &subscriber{
		conversationID: conversationID,
		ch:             make(chan models.MessageRecord, s.bufferSize),
	}
	s.subscribers[id] = sub
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			close(sub.ch)
			s.mu.Unlock()
		})
	}
	return sub.ch, cancel
}
