package models

import (
	"time"
)

// MessageRecord is the canonical, immutable representation of one chat message.
// ID is shared by the optimistic local echo and the server-confirmed echo of the
// same message, so two records with equal IDs are the same logical message.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DisplayMessage is a record annotated for presentation
type DisplayMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
}
