package repository

import (
	"context"
	"errors"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PredictionRepository struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

func (r *PredictionRepository) Create(ctx context.Context, prediction *models.Prediction) error {
	return r.db.WithContext(ctx).Create(prediction).Error
}

// GetByID returns nil, nil when the prediction does not exist.
func (r *PredictionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Prediction, error) {
	var prediction models.Prediction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&prediction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &prediction, nil
}

func (r *PredictionRepository) List(ctx context.Context, filter PredictionFilter, limit int) ([]*models.Prediction, error) {
	query := r.db.WithContext(ctx).Model(&models.Prediction{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Result != "" {
		query = query.Where("result = ?", filter.Result)
	}
	if filter.MaxConfidence != nil {
		query = query.Where("confidence <= ?", *filter.MaxConfidence)
	}

	var list []*models.Prediction
	if err := query.Order("created_at DESC").Limit(clampLimit(limit)).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateNotes sets the note. A nil note clears it.
func (r *PredictionRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Where("id = ?", id).
		Update("notes", notes).Error
}
