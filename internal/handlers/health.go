package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/services"
)

// HealthHandler serves liveness and readiness. Liveness reports every
// dependency; readiness only passes once the store answers and the comfort
// model can score.
type HealthHandler struct {
	logger  *logrus.Logger
	health  *services.HealthService
	comfort *services.ComfortRatingService
}

func NewHealthHandler(logger *logrus.Logger, health *services.HealthService, comfort *services.ComfortRatingService) *HealthHandler {
	return &HealthHandler{logger: logger, health: health, comfort: comfort}
}

// degraded still serves traffic
var healthHTTPStatus = map[string]int{
	"healthy":   http.StatusOK,
	"degraded":  http.StatusOK,
	"unhealthy": http.StatusServiceUnavailable,
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := h.health.CheckHealth(c.Request.Context())

	code, ok := healthHTTPStatus[status.Status]
	if !ok {
		code = http.StatusInternalServerError
	}
	c.JSON(code, status)
}

// Ready reports 503 until the store answers and the comfort model is loaded.
// It triggers the model load when nothing has scored yet.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	status := h.health.CheckHealth(ctx)
	if len(status.Critical) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":  false,
			"reason": "critical dependencies unavailable",
			"failed": status.Critical,
		})
		return
	}

	if err := h.comfort.EnsureModel(ctx); err != nil {
		h.logger.WithError(err).Warn("Readiness: comfort model not loaded")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":  false,
			"reason": "comfort model not loaded",
		})
		return
	}

	body := gin.H{"ready": true}
	if info, err := h.comfort.ModelInfo(); err == nil {
		body["model"] = info.Name
		body["model_version"] = info.Version
	}
	c.JSON(http.StatusOK, body)
}
