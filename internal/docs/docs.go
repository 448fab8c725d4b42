package docs

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/temcen/comport/internal/validation"
)

// Config describes the API for the docs index.
type Config struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
	BasePath    string `json:"base_path"`
}

func DefaultConfig() Config {
	return Config{
		Title:       "ComPORT API",
		Description: "PC part catalog, bundle compatibility and comfort scoring",
		Version:     "1.0.0",
		BasePath:    "/api/v1",
	}
}

// Handler serves machine-readable API documentation.
type Handler struct {
	config    Config
	validator *validation.SchemaValidator
}

func NewHandler(config Config, validator *validation.SchemaValidator) *Handler {
	return &Handler{config: config, validator: validator}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	docs := router.Group("/docs")
	{
		docs.GET("", h.Index)
		docs.GET("/schemas", h.Schemas)
		docs.GET("/schemas/:name", h.Schema)
	}
}

// Index describes authentication, rate limiting and the error envelope.
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api": h.config,
		"authentication": gin.H{
			"api_key": "Authorization: Bearer <api key> together with X-User-ID: <uuid>",
			"jwt":     "Authorization: Bearer <token> from POST " + h.config.BasePath + "/auth/token",
		},
		"rate_limiting": gin.H{
			"headers": []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			"status":  http.StatusTooManyRequests,
		},
		"errors": gin.H{
			"format": gin.H{"error": gin.H{"code": "string", "message": "string", "details": "object"}},
			"codes": gin.H{
				"VALIDATION_FAILED":     http.StatusBadRequest,
				"INVALID_JSON":          http.StatusBadRequest,
				"INVALID_ID":            http.StatusBadRequest,
				"MISSING_USER_ID":       http.StatusBadRequest,
				"MISSING_AUTHORIZATION": http.StatusUnauthorized,
				"INVALID_API_KEY":       http.StatusUnauthorized,
				"INVALID_TOKEN":         http.StatusUnauthorized,
				"ADMIN_REQUIRED":        http.StatusForbidden,
				"FORBIDDEN":             http.StatusForbidden,
				"NOT_FOUND":             http.StatusNotFound,
				"DUPLICATE_REVIEW":      http.StatusConflict,
				"JOB_RUNNING":           http.StatusConflict,
				"RATE_LIMIT_EXCEEDED":   http.StatusTooManyRequests,
				"REVIEW_REJECTED":       http.StatusTooManyRequests,
				"INTERNAL_ERROR":        http.StatusInternalServerError,
			},
		},
		"schemas": h.validator.GetAvailableSchemas(),
	})
}

func (h *Handler) Schemas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schemas": h.validator.GetAvailableSchemas()})
}

// Schema returns one request body schema as stored.
func (h *Handler) Schema(c *gin.Context) {
	name := c.Param("name")
	if !h.validator.SchemaExists(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    "NOT_FOUND",
			"message": "Schema not found",
			"details": gin.H{"schema": name},
		}})
		return
	}
	data, err := validation.SchemaDocument(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Failed to read schema",
		}})
		return
	}
	c.Data(http.StatusOK, "application/schema+json", data)
}
