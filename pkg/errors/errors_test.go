package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesThroughWrapping(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := fmt.Errorf("open session: %w", NewConnectionError("relay unreachable", cause))

	assert.True(t, Is(err, ErrConnection))
	assert.True(t, stderrors.Is(err, ErrConnection))
	assert.False(t, Is(err, ErrInvalidState))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[CONNECTION_ERROR] relay unreachable: dial tcp")
}

func TestIsRejectsPlainErrors(t *testing.T) {
	assert.False(t, Is(stderrors.New("boom"), ErrConnection))
	assert.False(t, Is(nil, ErrConnection))
}

func TestFromErrorAndStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("timeline: %w", NewUnknownParticipantError("u9", nil))

	appErr := FromError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, CodeUnknownParticipant, appErr.Code)
	assert.Equal(t, http.StatusNotFound, GetStatusCode(wrapped))
	assert.Equal(t, CodeUnknownParticipant, GetErrorCode(wrapped))

	plain := FromError(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(stderrors.New("boom")))
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(stderrors.New("boom")))
	assert.Nil(t, FromError(nil))
}

func testEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(RecoveryWithLogger())
	r.GET("/bad", func(c *gin.Context) {
		c.Error(NewInvalidArgumentError("conversationId is required").WithDetails("conversationId"))
	})
	r.GET("/plain", func(c *gin.Context) {
		c.Error(stderrors.New("boom"))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestErrorHandlerWritesAppError(t *testing.T) {
	w := serve(testEngine(), "/bad")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_ARGUMENT"`)
	assert.Contains(t, w.Body.String(), `"details":"conversationId"`)
}

func TestErrorHandlerWrapsPlainErrors(t *testing.T) {
	w := serve(testEngine(), "/plain")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), CodeInternal)
}

func TestRecoveryWithLogger(t *testing.T) {
	w := serve(testEngine(), "/panic")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SERVER_ERROR")
}
