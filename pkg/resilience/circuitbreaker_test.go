package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDial = errors.New("dial refused")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newBreaker(c *clock, isFailure func(error) bool) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RetryTimeout:     30 * time.Second,
		IsFailure:        isFailure,
		Now:              c.now,
	}, logger.Discard())
}

func fail(context.Context) error    { return errDial }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, nil)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDial)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDial)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.False(t, called, "open circuit must short-circuit")
	assert.True(t, apperrors.Is(err, apperrors.ErrConnection))
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, nil)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.GetState())

	c.t = c.t.Add(31 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, nil)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	c.t = c.t.Add(31 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDial)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, uint64(2), cb.Stats().OpenCircuitCount)
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, func(err error) bool { return apperrors.Is(err, apperrors.ErrConnection) })
	ctx := context.Background()

	invalid := apperrors.NewInvalidArgumentError("bad id")
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return invalid }), invalid)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerAppliesTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "t", Timeout: 10 * time.Millisecond}, logger.Discard())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
