package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Baaaki/heartscan/internal/broker"
	"github.com/Baaaki/heartscan/internal/inference"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/storage"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxNotesLength = 2000

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// UploadInput is one uploaded image as received from the client.
type UploadInput struct {
	UserID      uuid.UUID
	Filename    string
	ContentType string
	Content     []byte
}

// UploadLimits bound what a single upload may cost. Zero fields disable
// the corresponding check.
type UploadLimits struct {
	MaxBytes     int64
	MaxDimension int
}

type PredictionService struct {
	repo       *repository.PredictionRepository
	userRepo   *repository.UserRepository
	store      storage.ImageStore
	classifier inference.Classifier
	events     broker.EventBroker
	limits     UploadLimits
}

func NewPredictionService(
	repo *repository.PredictionRepository,
	userRepo *repository.UserRepository,
	store storage.ImageStore,
	classifier inference.Classifier,
	events broker.EventBroker,
	limits UploadLimits,
) *PredictionService {
	if events == nil {
		events = broker.NopBroker{}
	}
	return &PredictionService{
		repo:       repo,
		userRepo:   userRepo,
		store:      store,
		classifier: classifier,
		events:     events,
		limits:     limits,
	}
}

// Upload runs the whole pipeline: validate, store, decode, classify, persist.
// Nothing is written before the content type is accepted, and the stored
// image is removed again when it cannot be classified.
func (s *PredictionService) Upload(ctx context.Context, in UploadInput) (*models.Prediction, error) {
	start := time.Now()

	if !allowedImageTypes[normalizeContentType(in.ContentType)] {
		logger.Log.Warn("Rejected upload with unsupported content type",
			zap.String("user_id", in.UserID.String()),
			zap.String("content_type", in.ContentType),
		)
		return nil, ErrUnsupportedImage
	}
	if len(in.Content) == 0 {
		return nil, validationError("no file uploaded")
	}
	if s.limits.MaxBytes > 0 && int64(len(in.Content)) > s.limits.MaxBytes {
		return nil, fmt.Errorf("%w (max %dMB)", ErrImageTooLarge, s.limits.MaxBytes/(1024*1024))
	}
	detected := http.DetectContentType(in.Content)
	if !allowedImageTypes[detected] {
		return nil, ErrUnsupportedImage
	}
	if _, err := inference.CheckDimensions(bytes.NewReader(in.Content), s.limits.MaxDimension); err != nil {
		logger.Log.Warn("Rejected upload by image header",
			zap.String("user_id", in.UserID.String()),
			zap.Error(err),
		)
		if errors.Is(err, inference.ErrImageDimensions) {
			return nil, fmt.Errorf("%w: image exceeds %dx%d pixels", ErrUndecodableImage, s.limits.MaxDimension, s.limits.MaxDimension)
		}
		return nil, ErrUndecodableImage
	}

	owner, err := s.userRepo.GetUserByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrUserNotFound
	}

	key := storage.NewKey(detected)
	if err := s.store.Save(ctx, key, in.Content, detected); err != nil {
		logger.Log.Error("Failed to store uploaded image",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, err
	}

	img, _, err := inference.Decode(bytes.NewReader(in.Content))
	if err != nil {
		s.discardImage(key)
		logger.Log.Warn("Uploaded image could not be decoded",
			zap.String("user_id", in.UserID.String()),
			zap.Error(err),
		)
		return nil, ErrUndecodableImage
	}

	inferStart := time.Now()
	result, err := s.classifier.Predict(ctx, img)
	if err != nil {
		s.discardImage(key)
		logger.Log.Error("Classifier forward pass failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("classify image: %w", err)
	}
	inferDuration := time.Since(inferStart)

	prediction := &models.Prediction{
		UserID:           in.UserID,
		ImageKey:         key,
		OriginalFilename: in.Filename,
		Result:           result.Label,
		Confidence:       result.Confidence,
		ModelVersion:     s.classifier.Version(),
	}
	if err := s.repo.Create(ctx, prediction); err != nil {
		s.discardImage(key)
		logger.Log.Error("Failed to persist prediction",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, err
	}

	event := broker.PredictionEvent{
		Type:         broker.EventPredictionCreated,
		PredictionID: prediction.ID.String(),
		UserID:       prediction.UserID.String(),
		Result:       prediction.Result,
		Confidence:   prediction.Confidence,
		CreatedAt:    prediction.CreatedAt,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Log.Warn("Failed to publish prediction event",
			zap.String("prediction_id", prediction.ID.String()),
			zap.Error(err),
		)
	}

	logger.Log.Info("Prediction created",
		zap.String("prediction_id", prediction.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("result", prediction.Result),
		zap.Float64("confidence", prediction.Confidence),
		zap.Duration("inference_duration", inferDuration),
		zap.Duration("total_duration", time.Since(start)),
	)
	return prediction, nil
}

func (s *PredictionService) Labels() []string {
	return s.classifier.Labels()
}

// ListAll returns the newest predictions matching filter, at most MaxListSize.
func (s *PredictionService) ListAll(ctx context.Context, filter repository.PredictionFilter) ([]*models.Prediction, error) {
	return s.repo.List(ctx, filter, repository.MaxListSize)
}

// ListForUser returns a user's predictions to the user themselves or staff.
func (s *PredictionService) ListForUser(ctx context.Context, actor *models.User, rawUserID string) ([]*models.Prediction, error) {
	userID, err := ParseID(rawUserID)
	if err != nil {
		return nil, err
	}
	if actor.ID != userID && !IsStaff(actor) {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, repository.PredictionFilter{UserID: &userID}, repository.MaxListSize)
}

// ReviewQueue returns predictions whose confidence is at most maxConfidence.
func (s *PredictionService) ReviewQueue(ctx context.Context, maxConfidence float64) ([]*models.Prediction, error) {
	if maxConfidence < 0 || maxConfidence > 1 {
		return nil, validationError("max_confidence must be between 0 and 1")
	}
	return s.repo.List(ctx, repository.PredictionFilter{MaxConfidence: &maxConfidence}, repository.MaxListSize)
}

func (s *PredictionService) Get(ctx context.Context, rawID string) (*models.Prediction, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}

	prediction, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, ErrPredictionNotFound
	}
	return prediction, nil
}

// UpdateNotes changes the note of a prediction. Only its owner may do so;
// a nil or blank note clears it.
func (s *PredictionService) UpdateNotes(ctx context.Context, actor *models.User, rawID string, notes *string) (*models.Prediction, error) {
	prediction, err := s.Get(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if prediction.UserID != actor.ID {
		logger.Log.Warn("Note update refused: not the owner",
			zap.String("prediction_id", prediction.ID.String()),
			zap.String("actor_id", actor.ID.String()),
		)
		return nil, ErrForbidden
	}

	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		if utf8.RuneCountInString(trimmed) > maxNotesLength {
			return nil, validationError(fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
		}
		if trimmed == "" {
			notes = nil
		} else {
			notes = &trimmed
		}
	}

	if err := s.repo.UpdateNotes(ctx, prediction.ID, notes); err != nil {
		logger.Log.Error("Failed to update prediction notes",
			zap.String("prediction_id", prediction.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return s.Get(ctx, rawID)
}

// OpenImage streams a stored image. The caller closes the reader.
func (s *PredictionService) OpenImage(ctx context.Context, key string) (io.ReadCloser, *storage.Object, error) {
	rc, obj, err := s.store.Open(ctx, key)
	if err != nil {
		return nil, nil, mapStorageError(err)
	}
	return rc, obj, nil
}

// DeleteImage removes only the file; prediction records keep their key.
func (s *PredictionService) DeleteImage(ctx context.Context, actor *models.User, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return mapStorageError(err)
	}

	logger.Log.Info("Uploaded image deleted",
		zap.String("key", key),
		zap.String("actor_id", actor.ID.String()),
	)
	return nil
}

func (s *PredictionService) ListImages(ctx context.Context) ([]storage.Object, error) {
	return s.store.List(ctx)
}

func (s *PredictionService) discardImage(key string) {
	// The request context may already be cancelled; cleanup must still run.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Log.Warn("Failed to remove stored image",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrImageNotFound
	case errors.Is(err, storage.ErrInvalidKey):
		return fmt.Errorf("%w: %s", ErrValidation, "invalid filename")
	}
	return err
}

func normalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}
