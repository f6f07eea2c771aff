package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestScopedLoggerAddsFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", JSON: true, Output: &buf})

	log.WithConversationID("c1").WithParticipantID("u1").WithComponent("session").
		LogError(errors.New("boom"), "send failed")

	rec := decode(t, &buf)
	assert.Equal(t, "send failed", rec["msg"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "c1", rec["conversation_id"])
	assert.Equal(t, "u1", rec["participant_id"])
	assert.Equal(t, "session", rec["component"])
}

func TestEmptyScopeValuesAreSkipped(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{JSON: true, Output: &buf})

	log.WithConversationID("").Info("hello")

	rec := decode(t, &buf)
	_, ok := rec["conversation_id"]
	assert.False(t, ok)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", JSON: true, Output: &buf})

	log.Info("quiet")
	assert.Zero(t, buf.Len())
	log.Warn("loud")
	assert.NotZero(t, buf.Len())
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log := New(Config{JSON: true, Output: &buf})

	r := gin.New()
	r.Use(Middleware(log))
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?participantId=u7", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	requestID := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, requestID)

	rec := decode(t, &buf)
	assert.Equal(t, "request completed", rec["msg"])
	assert.Equal(t, requestID, rec["request_id"])
	assert.Equal(t, "u7", rec["participant_id"])
	assert.EqualValues(t, http.StatusNoContent, rec["status"])
}
