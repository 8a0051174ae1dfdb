package repository

import (
	"context"
	"errors"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MLModelRepository struct {
	db *gorm.DB
}

func NewMLModelRepository(db *gorm.DB) *MLModelRepository {
	return &MLModelRepository{db: db}
}

func (r *MLModelRepository) Create(ctx context.Context, model *models.MLModel) error {
	return r.db.WithContext(ctx).Create(model).Error
}

// GetByID returns nil, nil when the model does not exist.
func (r *MLModelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MLModel, error) {
	var model models.MLModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (r *MLModelRepository) List(ctx context.Context, filter MLModelFilter, limit int) ([]*models.MLModel, error) {
	query := r.db.WithContext(ctx).Model(&models.MLModel{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var list []*models.MLModel
	if err := query.Order("created_at DESC").Limit(clampLimit(limit)).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Replace overwrites every mutable column of the stored document with model.
// created_at is kept. It reports false when no row matched.
func (r *MLModelRepository) Replace(ctx context.Context, model *models.MLModel) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MLModel{}).
		Where("id = ?", model.ID).
		Select("version", "model_url", "accuracy", "parameters", "performance_metrics", "status", "description", "updated_at").
		Updates(model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *MLModelRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&models.MLModel{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
