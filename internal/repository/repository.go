package repository

import "github.com/google/uuid"

// MaxListSize caps every collection listing. There is no cursor; callers get
// the newest MaxListSize records.
const MaxListSize = 100

type UserFilter struct {
	Role    string
	Blocked *bool
}

type MLModelFilter struct {
	Status string
}

type PredictionFilter struct {
	UserID        *uuid.UUID
	Result        string
	MaxConfidence *float64
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListSize {
		return MaxListSize
	}
	return limit
}
