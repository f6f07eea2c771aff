package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"mobile-chat/backend/conversation/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(conversationID, id, text string) models.MessageRecord {
	return models.MessageRecord{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "u1",
		Text:           text,
		CreatedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	s := NewMemoryStore()

	require.True(t, s.InsertIfAbsent(record("c1", "msg-1", "hi")))
	for i := 0; i < 5; i++ {
		assert.False(t, s.InsertIfAbsent(record("c1", "msg-1", "hi")))
	}
	// A duplicate with different content is still the same logical message.
	assert.False(t, s.InsertIfAbsent(record("c1", "msg-1", "edited")))

	msgs := s.MessagesFor("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestIDsAreScopedPerConversation(t *testing.T) {
	s := NewMemoryStore()

	assert.True(t, s.InsertIfAbsent(record("c1", "msg-1", "a")))
	assert.True(t, s.InsertIfAbsent(record("c2", "msg-1", "b")))
	assert.Equal(t, 1, s.Len("c1"))
	assert.Equal(t, 1, s.Len("c2"))
}

func TestMessagesForPreservesInsertionOrderAndCopies(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		s.InsertIfAbsent(record("c1", fmt.Sprintf("m%d", i), "x"))
	}

	msgs := s.MessagesFor("c1")
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m0", "m1", "m2"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	msgs[0].Text = "mutated"
	assert.Equal(t, "x", s.MessagesFor("c1")[0].Text)
	assert.Nil(t, s.MessagesFor("unknown"))
}

func TestSubscribeReceivesOnlyInsertsForItsConversation(t *testing.T) {
	s := NewMemoryStore()
	ch, cancel := s.Subscribe("c1")
	defer cancel()

	s.InsertIfAbsent(record("c2", "other", "x"))
	s.InsertIfAbsent(record("c1", "msg-1", "x"))
	s.InsertIfAbsent(record("c1", "msg-1", "x"))

	select {
	case rec := <-ch:
		assert.Equal(t, "msg-1", rec.ID)
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
	select {
	case rec := <-ch:
		t.Fatalf("unexpected notification %+v", rec)
	default:
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	s := NewMemoryStore()
	ch, cancel := s.Subscribe("c1")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, s.InsertIfAbsent(record("c1", "msg-1", "x")))
}

func TestSlowSubscriberDoesNotBlockWriter(t *testing.T) {
	s := NewMemoryStore(WithSubscribeBuffer(1))
	_, cancel := s.Subscribe("c1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.InsertIfAbsent(record("c1", fmt.Sprintf("m%d", i), "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer blocked on a slow subscriber")
	}
	assert.Equal(t, 10, s.Len("c1"))
}

func TestDuplicateHook(t *testing.T) {
	var dups []string
	s := NewMemoryStore(WithDuplicateHook(func(rec models.MessageRecord) {
		dups = append(dups, rec.ID)
	}))

	s.InsertIfAbsent(record("c1", "msg-1", "x"))
	s.InsertIfAbsent(record("c1", "msg-1", "x"))
	assert.Equal(t, []string{"msg-1"}, dups)
}

func TestConcurrentDuplicateInserts(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.InsertIfAbsent(record("c1", "msg-1", "x")) {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, s.Len("c1"))
}
