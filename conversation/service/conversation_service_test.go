package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mobile-chat/backend/conversation/models"
	"mobile-chat/backend/conversation/search"
	"mobile-chat/backend/conversation/session"
	"mobile-chat/backend/conversation/store"
	"mobile-chat/backend/conversation/transport"
	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/pkg/resilience"
	rosterservice "mobile-chat/backend/roster/service"
	"mobile-chat/backend/shared/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeConn struct {
	mu     sync.Mutex
	emits  map[string]int
	events chan models.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{emits: map[string]int{}, events: make(chan models.Envelope, 16)}
}

func (c *fakeConn) Emit(_ context.Context, event string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits[event]++
	return nil
}

func (c *fakeConn) Events() <-chan models.Envelope { return c.events }
func (c *fakeConn) Close() error                   { return nil }

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emits[event]
}

func (c *fakeConn) deliver(t *testing.T, w models.InboundMessage) {
	t.Helper()
	env, err := models.NewEnvelope(models.EventMessage, w)
	require.NoError(t, err)
	c.events <- env
}

var (
	t0     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	roster = rosterservice.StaticRoster{"u2": "Grace"}
	enter  = EnterRequest{ConversationID: "c1", LocalID: "u1", LocalName: "Ada", FriendID: "u2"}
)

func newService(conn *fakeConn, opts ...Option) (*ConversationService, *store.MemoryStore) {
	st := store.NewMemoryStore()
	dialer := transport.DialerFunc(func(context.Context, string, string) (transport.Conn, error) {
		return conn, nil
	})
	n := 0
	base := []Option{
		WithLogger(logger.Discard()),
		WithIDGenerator(func() string { n++; return "msg-" + string(rune('0'+n)) }),
		WithSessionOptions(session.WithClock(func() time.Time { return t0 })),
		WithSearchConfig(search.Config{QuiescenceWindow: 10 * time.Millisecond}),
	}
	return NewConversationService(dialer, st, roster, append(base, opts...)...), st
}

func TestSendThenEchoYieldsOneRecord(t *testing.T) {
	conn := newFakeConn()
	svc, st := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())
	assert.Equal(t, 1, conn.count(models.EventInit))

	rec, err := conv.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", rec.ID)
	assert.Equal(t, 1, st.Len("c1"))

	conn.deliver(t, models.InboundMessage{ConversationID: "c1", Text: "hi", SenderID: "u1", CreatedAt: t0, MsgID: "msg-1"})
	assert.Never(t, func() bool { return st.Len("c1") != 1 }, 100*time.Millisecond, 5*time.Millisecond)

	out, err := conv.Timeline(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Ada", out[0].SenderName)
}

func TestTimelineNewestFirstWithNames(t *testing.T) {
	conn := newFakeConn()
	svc, st := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	_, err = conv.Send(context.Background(), "lunch?")
	require.NoError(t, err)
	conn.deliver(t, models.InboundMessage{ConversationID: "c1", Text: "sure", SenderID: "u2", CreatedAt: t0.Add(time.Minute), MsgID: "r1"})
	require.Eventually(t, func() bool { return st.Len("c1") == 2 }, time.Second, 5*time.Millisecond)

	out, err := conv.Timeline(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[0].ID)
	assert.Equal(t, "Grace", out[0].SenderName)
	assert.Equal(t, "msg-1", out[1].ID)
	assert.Equal(t, "Ada", out[1].SenderName)
}

func TestUpdatesSignalInsertsAndQueryChanges(t *testing.T) {
	conn := newFakeConn()
	svc, _ := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	waitUpdate := func() {
		t.Helper()
		select {
		case <-conv.Updates():
		case <-time.After(time.Second):
			t.Fatal("no update signalled")
		}
	}

	_, err = conv.Send(context.Background(), "hello")
	require.NoError(t, err)
	waitUpdate()

	conv.Search("hel")
	waitUpdate()
	raw, effective := conv.Query()
	assert.Equal(t, "hel", raw)
	assert.Equal(t, "hel", effective)
}

func TestSearchFiltersTimeline(t *testing.T) {
	conn := newFakeConn()
	svc, _ := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	_, err = conv.Send(context.Background(), "lunch tomorrow")
	require.NoError(t, err)
	_, err = conv.Send(context.Background(), "or dinner")
	require.NoError(t, err)

	conv.Search("DINNER")
	require.Eventually(t, func() bool {
		_, effective := conv.Query()
		return effective == "DINNER"
	}, time.Second, 5*time.Millisecond)

	out, err := conv.Timeline(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "or dinner", out[0].Text)
}

func TestInvalidQueryShowsUnfilteredTimeline(t *testing.T) {
	conn := newFakeConn()
	svc, _ := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	_, err = conv.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = conv.Send(context.Background(), "two")
	require.NoError(t, err)

	conv.Search("([")
	require.Eventually(t, func() bool {
		_, effective := conv.Query()
		return effective == "(["
	}, time.Second, 5*time.Millisecond)

	out, err := conv.Timeline(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestTimelineUnknownParticipant(t *testing.T) {
	conn := newFakeConn()
	svc, st := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	conn.deliver(t, models.InboundMessage{ConversationID: "c1", Text: "who?", SenderID: "stranger", CreatedAt: t0, MsgID: "x1"})
	require.Eventually(t, func() bool { return st.Len("c1") == 1 }, time.Second, 5*time.Millisecond)

	_, err = conv.Timeline(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownParticipant))
}

func TestLeaveIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	svc, _ := newService(conn)

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)

	require.NoError(t, conv.Leave(context.Background()))
	require.NoError(t, conv.Leave(context.Background()))
	assert.Equal(t, 1, conn.count(models.EventDisconnect))
	assert.Equal(t, session.Disposed, conv.State())

	_, err = conv.Send(context.Background(), "too late")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))
}

func TestEnterValidatesRequest(t *testing.T) {
	svc, _ := newService(newFakeConn())

	_, err := svc.Enter(context.Background(), EnterRequest{ConversationID: "c1"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidArgument))
}

func TestEnterThroughBreaker(t *testing.T) {
	dials := 0
	dialer := transport.DialerFunc(func(context.Context, string, string) (transport.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	})
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "relay",
		FailureThreshold: 2,
		RetryTimeout:     time.Hour,
		IsFailure:        IsBreakerFailure,
	}, logger.Discard())
	svc := NewConversationService(dialer, store.NewMemoryStore(), roster, WithLogger(logger.Discard()), WithBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := svc.Enter(context.Background(), enter)
		assert.True(t, apperrors.Is(err, apperrors.ErrConnection))
	}
	assert.Equal(t, 2, dials)
	assert.Equal(t, resilience.StateOpen, cb.GetState())

	_, err := svc.Enter(context.Background(), enter)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, dials, "open circuit must not dial")
}

func TestHistoryAndLiveEchoCollapse(t *testing.T) {
	history := HistoryFunc(func(_ context.Context, conversationID string) ([]models.MessageRecord, error) {
		return []models.MessageRecord{
			{ID: "h1", ConversationID: conversationID, SenderID: "u2", Text: "earlier", CreatedAt: t0.Add(-time.Hour)},
			{ID: "other", ConversationID: "c9", SenderID: "u2", Text: "wrong room", CreatedAt: t0},
		}, nil
	})
	conn := newFakeConn()
	svc, st := newService(conn, WithHistory(history))

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())
	assert.Equal(t, 1, st.Len("c1"))

	conn.deliver(t, models.InboundMessage{ConversationID: "c1", Text: "earlier", SenderID: "u2", CreatedAt: t0.Add(-time.Hour), MsgID: "h1"})
	conn.deliver(t, models.InboundMessage{ConversationID: "c1", Text: "now", SenderID: "u2", CreatedAt: t0, MsgID: "r1"})
	require.Eventually(t, func() bool { return st.Len("c1") == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return st.Len("c1") != 2 }, 50*time.Millisecond, 5*time.Millisecond)

	out, err := conv.Timeline(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[0].ID)
	assert.Equal(t, "h1", out[1].ID)
}

func TestHistoryFailureStillEnters(t *testing.T) {
	history := HistoryFunc(func(context.Context, string) ([]models.MessageRecord, error) {
		return nil, errors.New("history unavailable")
	})
	conn := newFakeConn()
	svc, st := newService(conn, WithHistory(history))

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	assert.Equal(t, session.Connected, conv.State())
	assert.Equal(t, 0, st.Len("c1"))
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if !assert.NoError(t, reader.Collect(context.Background(), &rm)) {
		return -1
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestInboundMessageCountedOnce(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())
	metrics, err := observability.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	conn := newFakeConn()
	svc, st := newService(conn, WithMetrics(metrics))

	conv, err := svc.Enter(context.Background(), enter)
	require.NoError(t, err)
	defer conv.Leave(context.Background())

	in := models.InboundMessage{ConversationID: "c1", Text: "hey", SenderID: "u2", CreatedAt: t0, MsgID: "r-1"}
	conn.deliver(t, in)
	require.Eventually(t, func() bool {
		return st.Len("c1") == 1 && sumOf(t, reader, "chat.messages.received") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return sumOf(t, reader, "chat.messages.received") != 1 }, 50*time.Millisecond, 5*time.Millisecond)

	conn.deliver(t, in)
	require.Eventually(t, func() bool {
		return sumOf(t, reader, "chat.messages.duplicates") == 1 && sumOf(t, reader, "chat.messages.received") == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, st.Len("c1"))
}
