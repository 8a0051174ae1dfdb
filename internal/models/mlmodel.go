package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ModelStatus string

const (
	ModelStatusActive   ModelStatus = "active"
	ModelStatusArchived ModelStatus = "archived"
)

func (s ModelStatus) Valid() bool {
	return s == ModelStatusActive || s == ModelStatusArchived
}

// ModelParameters are the hyperparameters a model version was trained with.
type ModelParameters struct {
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
}

type PerformanceMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
}

// MLModel is the metadata record of a trained classifier version.
type MLModel struct {
	ID                 uuid.UUID                              `gorm:"type:uuid;primaryKey" json:"id"`
	Version            string                                 `gorm:"type:varchar(50);not null;index" json:"version"`
	ModelURL           string                                 `gorm:"type:text;not null" json:"model_url"`
	Accuracy           float64                                `gorm:"not null" json:"accuracy"`
	Parameters         datatypes.JSONType[ModelParameters]    `json:"parameters"`
	PerformanceMetrics datatypes.JSONType[PerformanceMetrics] `json:"performance_metrics"`
	Status             ModelStatus                            `gorm:"type:varchar(20);not null;index" json:"status"`
	Description        string                                 `gorm:"type:text" json:"description"`
	CreatedAt          time.Time                              `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time                              `json:"updated_at"`
}

func (MLModel) TableName() string {
	return "mlmodels"
}

func (m *MLModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
