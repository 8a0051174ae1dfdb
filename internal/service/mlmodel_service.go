package service

import (
	"context"
	"strings"
	"time"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// MLModelInput is the full document accepted on create and replace.
type MLModelInput struct {
	Version            string
	ModelURL           string
	Accuracy           float64
	Parameters         models.ModelParameters
	PerformanceMetrics models.PerformanceMetrics
	Status             models.ModelStatus
	Description        string
}

func (in MLModelInput) validate() error {
	if strings.TrimSpace(in.Version) == "" {
		return validationError("version is required")
	}
	if strings.TrimSpace(in.ModelURL) == "" {
		return validationError("model_url is required")
	}
	if in.Accuracy < 0 || in.Accuracy > 1 {
		return validationError("accuracy must be between 0 and 1")
	}
	if !in.Status.Valid() {
		return validationError("status must be 'active' or 'archived'")
	}
	if in.Parameters.Epochs < 0 || in.Parameters.BatchSize < 0 || in.Parameters.LearningRate < 0 {
		return validationError("parameters must not be negative")
	}
	return nil
}

type MLModelService struct {
	repo *repository.MLModelRepository
}

func NewMLModelService(repo *repository.MLModelRepository) *MLModelService {
	return &MLModelService{repo: repo}
}

func (s *MLModelService) Create(ctx context.Context, in MLModelInput) (*models.MLModel, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	model := &models.MLModel{}
	applyModelInput(model, in)

	if err := s.repo.Create(ctx, model); err != nil {
		logger.Log.Error("Failed to create ML model",
			zap.String("version", in.Version),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Log.Info("ML model created",
		zap.String("model_id", model.ID.String()),
		zap.String("version", model.Version),
		zap.String("status", string(model.Status)),
	)
	return model, nil
}

func (s *MLModelService) List(ctx context.Context, status string) ([]*models.MLModel, error) {
	if status != "" && !models.ModelStatus(status).Valid() {
		return nil, validationError("status must be 'active' or 'archived'")
	}
	return s.repo.List(ctx, repository.MLModelFilter{Status: status}, repository.MaxListSize)
}

func (s *MLModelService) Get(ctx context.Context, rawID string) (*models.MLModel, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}

	model, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrModelNotFound
	}
	return model, nil
}

// Replace overwrites the whole document. Only id and created_at survive.
func (s *MLModelService) Replace(ctx context.Context, rawID string, in MLModelInput) (*models.MLModel, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	model := &models.MLModel{ID: id, UpdatedAt: time.Now()}
	applyModelInput(model, in)

	found, err := s.repo.Replace(ctx, model)
	if err != nil {
		logger.Log.Error("Failed to replace ML model",
			zap.String("model_id", id.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if !found {
		return nil, ErrModelNotFound
	}

	logger.Log.Info("ML model replaced",
		zap.String("model_id", id.String()),
		zap.String("version", in.Version),
	)
	return s.Get(ctx, rawID)
}

func (s *MLModelService) Delete(ctx context.Context, rawID string) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}

	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrModelNotFound
	}

	logger.Log.Info("ML model deleted",
		zap.String("model_id", id.String()),
	)
	return nil
}

func applyModelInput(model *models.MLModel, in MLModelInput) {
	model.Version = strings.TrimSpace(in.Version)
	model.ModelURL = strings.TrimSpace(in.ModelURL)
	model.Accuracy = in.Accuracy
	model.Parameters = datatypes.NewJSONType(in.Parameters)
	model.PerformanceMetrics = datatypes.NewJSONType(in.PerformanceMetrics)
	model.Status = in.Status
	model.Description = in.Description
}
