package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "mobile-chat/backend/pkg/errors"
)

// Wire event types
const (
	EventInit       = "init"
	EventMessage    = "message"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// Envelope frames every event on the wire
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{Type: eventType}
	if payload == nil {
		return env, nil
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env.Content = content
	return env, nil
}

// PresencePayload is carried by init and disconnect
type PresencePayload struct {
	SenderID string `json:"senderId"`
}

// ErrorPayload is sent by the relay when it rejects a client event
type ErrorPayload struct {
	Message string `json:"message"`
}

// OutboundMessage is the message event a client emits
type OutboundMessage struct {
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	CreatedAt      time.Time `json:"createdAt"`
	MsgID          string    `json:"msgId"`
}

// InboundMessage is the message event a client receives
type InboundMessage struct {
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	SenderID       string    `json:"senderId"`
	CreatedAt      time.Time `json:"createdAt"`
	MsgID          string    `json:"msgId"`
}

// Inbound strips the transport-only fields of an outbound message
func (m OutboundMessage) Inbound() InboundMessage {
	return InboundMessage{
		ConversationID: m.ConversationID,
		Text:           m.Text,
		SenderID:       m.SenderID,
		CreatedAt:      m.CreatedAt,
		MsgID:          m.MsgID,
	}
}

// NewOutbound builds the wire event for a locally sent record
func NewOutbound(rec MessageRecord, receiverID string) OutboundMessage {
	return OutboundMessage{
		ConversationID: rec.ConversationID,
		Text:           rec.Text,
		SenderID:       rec.SenderID,
		ReceiverID:     receiverID,
		CreatedAt:      rec.CreatedAt,
		MsgID:          rec.ID,
	}
}

// NormalizeInbound maps a wire message onto the canonical model.
// A missing required field yields a MalformedMessage error, never a partial record.
func NormalizeInbound(w InboundMessage) (MessageRecord, error) {
	var missing []string
	if w.MsgID == "" {
		missing = append(missing, "msgId")
	}
	if w.ConversationID == "" {
		missing = append(missing, "conversationId")
	}
	if w.SenderID == "" {
		missing = append(missing, "senderId")
	}
	if w.CreatedAt.IsZero() {
		missing = append(missing, "createdAt")
	}
	if len(missing) > 0 {
		return MessageRecord{}, apperrors.NewMalformedMessageError(
			"inbound message missing " + strings.Join(missing, ", ")).
			WithDetails(map[string]any{"msgId": w.MsgID, "missing": missing})
	}

	return MessageRecord{
		ID:             w.MsgID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Text:           w.Text,
		CreatedAt:      w.CreatedAt,
	}, nil
}

// DecodeInbound decodes the content of an inbound message event and normalizes it
func DecodeInbound(content []byte) (MessageRecord, error) {
	var w InboundMessage
	if err := json.Unmarshal(content, &w); err != nil {
		return MessageRecord{}, apperrors.NewMalformedMessageError("inbound message is not valid JSON").Wrap(err)
	}
	return NormalizeInbound(w)
}
