package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/services"
	"github.com/temcen/comport/pkg/models"
)

type AuthHandler struct {
	authService *services.AuthService
	validator   *validator.Validate
	logger      *logrus.Logger
}

func NewAuthHandler(logger *logrus.Logger, authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   validator.New(),
		logger:      logger,
	}
}

// Token exchanges an API key for a JWT.
func (h *AuthHandler) Token(c *gin.Context) {
	var req models.AuthRequest
	if !bindJSON(c, h.validator, &req) {
		return
	}

	resp, err := h.authService.IssueToken(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", req.UserID).Warn("Token request rejected")
		errorResponse(c, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key", nil)
		return
	}

	c.JSON(http.StatusOK, resp)
}
