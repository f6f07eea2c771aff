package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitedRouter(opts RateLimiterOptions) (*gin.Engine, *RateLimiter) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(logger.Discard(), opts)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.Use(rl.Middleware())
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, rl
}

func get(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	r, _ := limitedRouter(RateLimiterOptions{Limit: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, get(r, "/ws").Code)
	assert.Equal(t, http.StatusOK, get(r, "/ws").Code)

	w := get(r, "/ws")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestParticipantKeySeparatesParticipants(t *testing.T) {
	r, _ := limitedRouter(RateLimiterOptions{Limit: 0.001, Burst: 1, KeyFunc: ParticipantKey})

	assert.Equal(t, http.StatusOK, get(r, "/ws?participantId=u1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/ws?participantId=u1").Code)
	assert.Equal(t, http.StatusOK, get(r, "/ws?participantId=u2").Code)
}

func TestSweepDropsIdleClients(t *testing.T) {
	_, rl := limitedRouter(RateLimiterOptions{Limit: 1, Burst: 1, ExpiryDuration: time.Minute})

	rl.getLimiter("a")
	rl.sweep(time.Now())
	assert.Len(t, rl.clients, 1)

	rl.sweep(time.Now().Add(2 * time.Minute))
	assert.Empty(t, rl.clients)
}
