package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/temcen/comport/internal/services"
	"github.com/temcen/comport/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"validation field", fmt.Errorf("wrapped: %w", &services.ValidationError{Field: "CPU", Message: "product not found"}), http.StatusBadRequest, `"field":"CPU"`},
		{"not found", fmt.Errorf("bundle: %w", services.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", services.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"duplicate review", services.ErrDuplicateReview, http.StatusConflict, "DUPLICATE_REVIEW"},
		{"job running", fmt.Errorf("%w: x", services.ErrJobRunning), http.StatusConflict, "JOB_RUNNING"},
		{"review rejected", services.ErrReviewRejected, http.StatusTooManyRequests, "REVIEW_REJECTED"},
		{"anything else", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

			respondError(c, testLogger(), tt.err, "Operation failed")

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.NotContains(t, w.Body.String(), "connection reset")
		})
	}
}

func TestBindJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := validator.New()

	tests := []struct {
		name     string
		body     string
		ok       bool
		wantBody string
	}{
		{name: "valid", body: `{"rating":3,"comment":"fine"}`, ok: true},
		{name: "malformed", body: `{"rating":`, wantBody: "INVALID_JSON"},
		{name: "tag violation", body: `{"rating":0,"comment":""}`, wantBody: "CreateReviewRequest.Rating"},
		{name: "nested sub rating", body: `{"rating":3,"comment":"ok","comfort_ratings":{"noise":7}}`, wantBody: "Noise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req models.CreateReviewRequest
			ok := bindJSON(c, v, &req)

			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}
