// Package timeline turns stored messages into the display-ordered sequence.
package timeline

import (
	"context"
	"slices"

	"mobile-chat/backend/conversation/models"
	apperrors "mobile-chat/backend/pkg/errors"
)

// Resolver maps a sender id to a display name
type Resolver func(senderID string) (string, error)

// Roster looks up display names of participants
type Roster interface {
	DisplayNameFor(ctx context.Context, participantID string) (string, error)
}

// Project returns messages deduplicated by ID and ordered newest first.
// Messages with equal CreatedAt keep the reverse of their source order, i.e. the
// result is the stable ascending sort of the source, reversed.
// A resolver failure aborts the projection with an UnknownParticipant error.
func Project(messages []models.MessageRecord, resolve Resolver) ([]models.DisplayMessage, error) {
	if len(messages) == 0 {
		return []models.DisplayMessage{}, nil
	}

	seen := make(map[string]struct{}, len(messages))
	unique := make([]models.MessageRecord, 0, len(messages))
	for _, m := range messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		unique = append(unique, m)
	}

	slices.Reverse(unique)
	slices.SortStableFunc(unique, func(a, b models.MessageRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	names := make(map[string]string)
	out := make([]models.DisplayMessage, 0, len(unique))
	for _, m := range unique {
		name, ok := names[m.SenderID]
		if !ok {
			var err error
			name, err = resolve(m.SenderID)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrUnknownParticipant) {
					return nil, err
				}
				return nil, apperrors.NewUnknownParticipantError(m.SenderID, err)
			}
			names[m.SenderID] = name
		}
		out = append(out, models.DisplayMessage{
			ID:         m.ID,
			Text:       m.Text,
			CreatedAt:  m.CreatedAt,
			SenderID:   m.SenderID,
			SenderName: name,
		})
	}
	return out, nil
}

// RosterResolver resolves the local participant to localName and everyone else
// through the roster.
func RosterResolver(ctx context.Context, localID, localName string, roster Roster) Resolver {
	return func(senderID string) (string, error) {
		if senderID == localID {
			return localName, nil
		}
		return roster.DisplayNameFor(ctx, senderID)
	}
}
