package repository

import (
	"context"

	"mobile-chat/backend/roster/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ParticipantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Participant, error)
	Upsert(ctx context.Context, participant *models.Participant) error
}

type GormParticipantRepository struct {
	db *gorm.DB
}

func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	return &GormParticipantRepository{db: db}
}

// Migrate creates or updates the participants table
func (r *GormParticipantRepository) Migrate() error {
	return r.db.AutoMigrate(&models.Participant{})
}

func (r *GormParticipantRepository) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&participant).Error
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (r *GormParticipantRepository) Upsert(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "updated_at"}),
	}).Create(participant).Error
}
