package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/services"
	"github.com/temcen/comport/pkg/models"
)

type BundleHandler struct {
	bundles   *services.BundleService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewBundleHandler(logger *logrus.Logger, bundles *services.BundleService) *BundleHandler {
	return &BundleHandler{
		bundles:   bundles,
		validator: validator.New(),
		logger:    logger,
	}
}

func (h *BundleHandler) Create(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.CreateBundleRequest
	if !bindJSON(c, h.validator, &req) {
		return
	}

	bundle, report, comfort, err := h.bundles.Create(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create bundle")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"bundle":            bundle,
		"compatibility":     report,
		"ml_comfort_rating": comfort,
	})
}

func (h *BundleHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	bundles, err := h.bundles.ListOwn(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list bundles")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bundles": bundles,
		"count":   len(bundles),
	})
}

func (h *BundleHandler) Get(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	bundle, err := h.bundles.Get(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load bundle")
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (h *BundleHandler) Update(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateBundleRequest
	if !bindJSON(c, h.validator, &req) {
		return
	}

	bundle, err := h.bundles.Update(c.Request.Context(), id, userID, &req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update bundle")
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (h *BundleHandler) Delete(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.bundles.Delete(c.Request.Context(), id, userID); err != nil {
		respondError(c, h.logger, err, "Failed to delete bundle")
		return
	}
	c.Status(http.StatusNoContent)
}

// Evaluate re-runs compatibility and comfort scoring against the current
// catalog.
func (h *BundleHandler) Evaluate(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	evaluation, err := h.bundles.Evaluate(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to evaluate bundle")
		return
	}
	c.JSON(http.StatusOK, evaluation)
}
