package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/internal/services"
	"github.com/temcen/comport/pkg/models"
)

// MLHandler serves comfort scoring, compatibility checks and the model
// maintenance operations.
type MLHandler struct {
	comfort    *services.ComfortRatingService
	trainer    *services.TrainerService
	reconciler *services.ReconcilerService
	jobs       *services.JobManager
	registry   *ml.ModelRegistry
	validator  *validator.Validate
	logger     *logrus.Logger
}

func NewMLHandler(logger *logrus.Logger, svc *services.Services) *MLHandler {
	return &MLHandler{
		comfort:    svc.Comfort,
		trainer:    svc.Trainer,
		reconciler: svc.Reconciler,
		jobs:       svc.Jobs,
		registry:   svc.Registry,
		validator:  validator.New(),
		logger:     logger,
	}
}

func (h *MLHandler) Status(c *gin.Context) {
	info, err := h.comfort.ModelInfo()
	if err != nil {
		respondError(c, h.logger, err, "Failed to read model status")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":  h.comfort.Ready(),
		"model":  info,
		"models": h.registry.ListModels(),
	})
}

// ComfortProduct scores a product and stores the overall score on it.
func (h *MLHandler) ComfortProduct(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.comfort.RescoreProduct(ctx, id); err != nil {
		respondError(c, h.logger, err, "Failed to score product")
		return
	}
	score, err := h.comfort.ScoreProduct(ctx, id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to score product")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id":    id,
		"comfort_score": score,
	})
}

func (h *MLHandler) resolveParts(c *gin.Context) (models.PartSet, bool) {
	var req models.ScoreBundleRequest
	if !bindJSON(c, h.validator, &req) {
		return nil, false
	}
	parts, err := h.comfort.ResolveParts(c.Request.Context(), req.Parts)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load parts")
		return nil, false
	}
	return parts, true
}

func (h *MLHandler) ComfortBundle(c *gin.Context) {
	parts, ok := h.resolveParts(c)
	if !ok {
		return
	}

	result, err := h.comfort.ScoreBundle(c.Request.Context(), parts)
	if err != nil {
		respondError(c, h.logger, err, "Failed to score bundle")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MLHandler) CheckCompatibility(c *gin.Context) {
	parts, ok := h.resolveParts(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, services.CheckParts(parts))
}

func (h *MLHandler) UpdateAll(c *gin.Context) {
	h.runMaintenance(c, services.JobTypeRescore, func(ctx context.Context) (interface{}, error) {
		return h.comfort.RescoreAll(ctx)
	})
}

func (h *MLHandler) Train(c *gin.Context) {
	h.runMaintenance(c, services.JobTypeTrain, func(ctx context.Context) (interface{}, error) {
		return h.trainer.Train(ctx)
	})
}

func (h *MLHandler) Reconcile(c *gin.Context) {
	h.runMaintenance(c, services.JobTypeReconcile, func(ctx context.Context) (interface{}, error) {
		return h.reconciler.Reconcile(ctx)
	})
}

// runMaintenance runs fn inline, or as a background job when ?async=true.
func (h *MLHandler) runMaintenance(c *gin.Context, jobType string, fn services.JobFunc) {
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if async {
		job, err := h.jobs.Start(c.Request.Context(), jobType, fn)
		if err != nil {
			respondError(c, h.logger, err, "Failed to start job")
			return
		}
		c.JSON(http.StatusAccepted, job)
		return
	}

	result, err := fn(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Operation failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MLHandler) GetJob(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load job")
		return
	}
	c.JSON(http.StatusOK, job)
}
