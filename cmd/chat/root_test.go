package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mobile-chat/backend/conversation/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversation struct {
	sent     []string
	searches []string
	sendErr  error
}

func (f *fakeConversation) Send(_ context.Context, text string) (models.MessageRecord, error) {
	f.sent = append(f.sent, text)
	return models.MessageRecord{Text: text}, f.sendErr
}

func (f *fakeConversation) Search(raw string) {
	f.searches = append(f.searches, raw)
}

func TestHandleLine(t *testing.T) {
	conv := &fakeConversation{}
	ctx := context.Background()

	quit, err := handleLine(ctx, conv, "hello there")
	require.NoError(t, err)
	assert.False(t, quit)

	_, _ = handleLine(ctx, conv, "   ")
	_, _ = handleLine(ctx, conv, "/search lunch")
	_, _ = handleLine(ctx, conv, "/search")

	quit, err = handleLine(ctx, conv, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)

	assert.Equal(t, []string{"hello there"}, conv.sent)
	assert.Equal(t, []string{"lunch", ""}, conv.searches)
}

func TestHandleLineSendError(t *testing.T) {
	conv := &fakeConversation{sendErr: errors.New("relay down")}

	quit, err := handleLine(context.Background(), conv, "hi")
	assert.False(t, quit)
	assert.EqualError(t, err, "relay down")
}

func TestRenderOldestFirst(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	msgs := []models.DisplayMessage{
		{ID: "m2", Text: "sure", SenderName: "Grace", CreatedAt: at.Add(time.Minute)},
		{ID: "m1", Text: "lunch?", SenderName: "Ada", CreatedAt: at},
	}

	var out bytes.Buffer
	render(&out, msgs, "l")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "--- search: l", lines[0])
	assert.Equal(t, "["+at.Local().Format("15:04")+"] Ada: lunch?", lines[1])
	assert.Equal(t, "["+at.Add(time.Minute).Local().Format("15:04")+"] Grace: sure", lines[2])
}
