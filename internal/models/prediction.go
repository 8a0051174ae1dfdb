package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Prediction is the persisted outcome of one classified upload.
type Prediction struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ImageKey         string    `gorm:"type:varchar(255);not null;index" json:"image_key"`
	OriginalFilename string    `gorm:"type:varchar(255)" json:"original_filename"`
	Result           string    `gorm:"type:varchar(100);not null;index" json:"result"`
	Confidence       float64   `gorm:"not null" json:"confidence"`
	ModelVersion     string    `gorm:"type:varchar(50)" json:"model_version"`
	Notes            *string   `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (p *Prediction) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
