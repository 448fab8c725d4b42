package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/middleware"
	"github.com/temcen/comport/internal/services"
)

func errorResponse(c *gin.Context, status int, code, message string, details interface{}) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{"error": body})
}

// respondError maps service errors onto the API error envelope.
func respondError(c *gin.Context, logger *logrus.Logger, err error, msg string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		errorResponse(c, http.StatusBadRequest, "VALIDATION_FAILED", verr.Message, gin.H{"field": verr.Field})
	case errors.Is(err, services.ErrValidation):
		errorResponse(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, services.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, services.ErrForbidden):
		errorResponse(c, http.StatusForbidden, "FORBIDDEN", "Access denied", nil)
	case errors.Is(err, services.ErrDuplicateReview):
		errorResponse(c, http.StatusConflict, "DUPLICATE_REVIEW", err.Error(), nil)
	case errors.Is(err, services.ErrJobRunning):
		errorResponse(c, http.StatusConflict, "JOB_RUNNING", err.Error(), nil)
	case errors.Is(err, services.ErrReviewRejected):
		errorResponse(c, http.StatusTooManyRequests, "REVIEW_REJECTED", err.Error(), nil)
	default:
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error(msg)
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", msg, nil)
	}
}

// bindJSON decodes the body into req and validates its struct tags. It writes
// the error response and returns false on failure.
func bindJSON(c *gin.Context, v *validator.Validate, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format", err.Error())
		return false
	}
	if err := v.Struct(req); err != nil {
		errorResponse(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return gin.H{"fields": fields}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+name+" format", nil)
		return uuid.Nil, false
	}
	return id, true
}

// callerID returns the authenticated user. Routes using it sit behind Auth.
func callerID(c *gin.Context) (uuid.UUID, bool) {
	id, _, ok := middleware.GetUserFromContext(c)
	if !ok {
		errorResponse(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
		return uuid.Nil, false
	}
	return id, true
}
