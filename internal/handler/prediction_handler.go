package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/internal/storage"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultReviewThreshold = 0.6

type PredictionHandler struct {
	predictionService *service.PredictionService
	maxUploadBytes    int64
}

func NewPredictionHandler(predictionService *service.PredictionService, maxUploadBytes int64) *PredictionHandler {
	return &PredictionHandler{
		predictionService: predictionService,
		maxUploadBytes:    maxUploadBytes,
	}
}

type UploadResponse struct {
	PredictionID string  `json:"prediction_id"`
	Result       string  `json:"result"`
	Confidence   float64 `json:"confidence"`
}

// UpdateNotesRequest carries the new note; null or blank clears it. The
// field must be present so an empty body never wipes a note by accident.
type UpdateNotesRequest struct {
	Notes json.RawMessage `json:"notes"`
}

// note reports the requested note, nil meaning clear.
func (r UpdateNotesRequest) note() (*string, error) {
	if len(r.Notes) == 0 {
		return nil, errors.New("notes is required")
	}
	if bytes.Equal(r.Notes, []byte("null")) {
		return nil, nil
	}
	var note string
	if err := json.Unmarshal(r.Notes, &note); err != nil {
		return nil, errors.New("notes must be a string or null")
	}
	return &note, nil
}

// Upload classifies one ECG image sent as multipart field "file".
// POST /predictions/upload
func (h *PredictionHandler) Upload(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	if h.maxUploadBytes > 0 {
		// Leave room for the multipart envelope; the exact limit is enforced
		// on the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(c, service.ErrImageTooLarge)
			return
		}
		badRequest(c, "file is required")
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		respondError(c, service.ErrImageTooLarge)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "could not read uploaded file")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "could not read uploaded file")
		return
	}

	prediction, err := h.predictionService.Upload(c.Request.Context(), service.UploadInput{
		UserID:      user.ID,
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Content:     content,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		PredictionID: prediction.ID.String(),
		Result:       prediction.Result,
		Confidence:   prediction.Confidence,
	})
}

// List returns up to 100 predictions with optional label and user filters.
// GET /predictions
func (h *PredictionHandler) List(c *gin.Context) {
	filter := repository.PredictionFilter{Result: c.Query("label")}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := service.ParseID(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.UserID = &userID
	}

	predictions, err := h.predictionService.ListAll(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, predictions)
}

// Review lists low-confidence predictions for manual review.
// GET /predictions/review?max_confidence=0.6
func (h *PredictionHandler) Review(c *gin.Context) {
	threshold := defaultReviewThreshold
	if raw := c.Query("max_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "max_confidence must be a number")
			return
		}
		threshold = parsed
	}

	predictions, err := h.predictionService.ReviewQueue(c.Request.Context(), threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, predictions)
}

// ListForUser returns one user's predictions.
// GET /predictions/:user_id
func (h *PredictionHandler) ListForUser(c *gin.Context) {
	actor, _ := middleware.CurrentUser(c)

	predictions, err := h.predictionService.ListForUser(c.Request.Context(), actor, c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, predictions)
}

// UpdateNotes changes the note of the caller's own prediction.
// PATCH /predictions/:id
func (h *PredictionHandler) UpdateNotes(c *gin.Context) {
	var req UpdateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	notes, err := req.note()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	actor, _ := middleware.CurrentUser(c)
	prediction, err := h.predictionService.UpdateNotes(c.Request.Context(), actor, c.Param("id"), notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prediction)
}

// GetImage streams a stored image.
// GET /predictions/image/:filename
func (h *PredictionHandler) GetImage(c *gin.Context) {
	key := c.Param("filename")

	rc, obj, err := h.predictionService.OpenImage(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, obj.Size, storage.ContentTypeFor(key), rc, nil)
}

// DeleteImage removes a stored image file.
// DELETE /predictions/image/:filename
func (h *PredictionHandler) DeleteImage(c *gin.Context) {
	key := c.Param("filename")
	actor, _ := middleware.CurrentUser(c)

	if err := h.predictionService.DeleteImage(c.Request.Context(), actor, key); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File '" + key + "' deleted successfully"})
}

// ListImages returns the keys of all stored images.
// GET /predictions/images
func (h *PredictionHandler) ListImages(c *gin.Context) {
	objects, err := h.predictionService.ListImages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	files := make([]string, 0, len(objects))
	for _, obj := range objects {
		files = append(files, obj.Key)
	}

	logger.Log.Debug("Listed stored images",
		zap.Int("count", len(files)),
	)
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Labels returns the ordered label list of the loaded classifier.
// GET /predictions/labels
func (h *PredictionHandler) Labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": h.predictionService.Labels()})
}
