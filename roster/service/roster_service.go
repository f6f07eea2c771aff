package service

import (
	"context"
	"errors"

	"mobile-chat/backend/pkg/cache"
	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/roster/models"
	"mobile-chat/backend/roster/repository"

	"gorm.io/gorm"
)

const cacheKeyPrefix = "participant:name:"

// RosterService resolves participant display names from the repository.
// Lookups are cached when a cache is supplied.
type RosterService struct {
	repo  repository.ParticipantRepository
	cache *cache.Cache
}

func NewRosterService(repo repository.ParticipantRepository, c *cache.Cache) *RosterService {
	return &RosterService{repo: repo, cache: c}
}

// DisplayNameFor returns the full name of a participant
func (s *RosterService) DisplayNameFor(ctx context.Context, participantID string) (string, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKeyPrefix + participantID); ok {
			return cached.(string), nil
		}
	}

	participant, err := s.repo.GetByID(ctx, participantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.NewUnknownParticipantError(participantID, err)
		}
		return "", apperrors.NewInternalServerError(apperrors.CodeInternal, "roster lookup failed").Wrap(err)
	}

	if s.cache != nil {
		s.cache.Set(cacheKeyPrefix+participantID, participant.FullName)
	}
	return participant.FullName, nil
}

// Register adds or renames a participant
func (s *RosterService) Register(ctx context.Context, participantID, fullName string) error {
	if participantID == "" || fullName == "" {
		return apperrors.NewInvalidArgumentError("participant id and full name are required")
	}
	if err := s.repo.Upsert(ctx, &models.Participant{ID: participantID, FullName: fullName}); err != nil {
		return apperrors.NewInternalServerError(apperrors.CodeInternal, "roster update failed").Wrap(err)
	}
	if s.cache != nil {
		s.cache.Set(cacheKeyPrefix+participantID, fullName)
	}
	return nil
}

// StaticRoster is a fixed id to name map, such as a friends list loaded at startup
type StaticRoster map[string]string

// DisplayNameFor implements the roster lookup for StaticRoster
func (r StaticRoster) DisplayNameFor(_ context.Context, participantID string) (string, error) {
	if name, ok := r[participantID]; ok {
		return name, nil
	}
	return "", apperrors.NewUnknownParticipantError(participantID, nil)
}
