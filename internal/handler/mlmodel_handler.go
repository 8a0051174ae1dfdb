package handler

import (
	"net/http"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/gin-gonic/gin"
)

type MLModelHandler struct {
	modelService *service.MLModelService
}

func NewMLModelHandler(modelService *service.MLModelService) *MLModelHandler {
	return &MLModelHandler{
		modelService: modelService,
	}
}

type MLModelRequest struct {
	Version            string                    `json:"version" binding:"required,max=50"`
	ModelURL           string                    `json:"model_url" binding:"required"`
	Accuracy           float64                   `json:"accuracy" binding:"gte=0,lte=1"`
	Parameters         models.ModelParameters    `json:"parameters"`
	PerformanceMetrics models.PerformanceMetrics `json:"performance_metrics"`
	Status             models.ModelStatus        `json:"status" binding:"required,model_status"`
	Description        string                    `json:"description"`
}

func (r MLModelRequest) input() service.MLModelInput {
	return service.MLModelInput{
		Version:            r.Version,
		ModelURL:           r.ModelURL,
		Accuracy:           r.Accuracy,
		Parameters:         r.Parameters,
		PerformanceMetrics: r.PerformanceMetrics,
		Status:             r.Status,
		Description:        r.Description,
	}
}

// MLModelSummary is the list view of a model.
type MLModelSummary struct {
	ID        string             `json:"id"`
	Version   string             `json:"version"`
	Status    models.ModelStatus `json:"status"`
	Accuracy  float64            `json:"accuracy"`
	CreatedAt string             `json:"created_at"`
}

// POST /mlmodels
func (h *MLModelHandler) Create(c *gin.Context) {
	var req MLModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	model, err := h.modelService.Create(c.Request.Context(), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model)
}

// GET /mlmodels
func (h *MLModelHandler) List(c *gin.Context) {
	list, err := h.modelService.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]MLModelSummary, 0, len(list))
	for _, m := range list {
		out = append(out, MLModelSummary{
			ID:        m.ID.String(),
			Version:   m.Version,
			Status:    m.Status,
			Accuracy:  m.Accuracy,
			CreatedAt: m.CreatedAt.UTC().Format(timeLayout),
		})
	}
	c.JSON(http.StatusOK, out)
}

// GET /mlmodels/:id
func (h *MLModelHandler) Get(c *gin.Context) {
	model, err := h.modelService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// PUT /mlmodels/:id
func (h *MLModelHandler) Replace(c *gin.Context) {
	var req MLModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	model, err := h.modelService.Replace(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// DELETE /mlmodels/:id
func (h *MLModelHandler) Delete(c *gin.Context) {
	if err := h.modelService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Model deleted successfully"})
}
