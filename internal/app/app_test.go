package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/comport/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Database.Driver = "memory"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.APIKeys = []string{"user-key"}
	cfg.Auth.AdminKeys = []string{"admin-key"}
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.RateLimit.Default = 100
	cfg.Auth.RateLimit.Admin = 1000
	cfg.Auth.RateLimit.Window = time.Minute
	cfg.ML.ModelName = "comfort_model"
	cfg.ML.WeightsBackend = "file"
	cfg.ML.WeightsPath = t.TempDir()
	cfg.ML.LearningRate = 0.001
	cfg.ML.Seed = 42
	cfg.ML.BundleConcurrency = 2
	cfg.ML.Training = config.TrainingConfig{
		Epochs:          2,
		BatchSize:       4,
		ValidationSplit: 0.2,
		SampleLimit:     100,
		MinSamples:      10,
	}
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.MetricsPath = "/metrics"
	return cfg
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func (c apiClient) do(method, path, apiKey string, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("X-User-ID", userID.String())
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func newTestApp(t *testing.T) (*App, apiClient) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewWithLogger(testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app, apiClient{t: t, router: app.Router()}
}

func TestAPI_CatalogReviewsAndBundles(t *testing.T) {
	app, api := newTestApp(t)
	admin, user, other := uuid.New(), uuid.New(), uuid.New()

	cpu := map[string]interface{}{
		"name":           "AMD Ryzen 5 7600",
		"category":       "CPU",
		"brand":          "AMD",
		"model":          "Ryzen 5 7600",
		"specifications": map[string]string{"socket": "AM5", "tdp": "65"},
		"sources": []map[string]interface{}{
			{"shop_name": "shop-a", "product_url": "https://shop-a/7600", "price": 20000, "in_stock": true},
			{"shop_name": "shop-b", "product_url": "https://shop-b/7600", "price": 19500, "in_stock": true},
		},
	}

	w := api.do(http.MethodPost, "/api/v1/products", "user-key", user, cpu)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/v1/products", "admin-key", admin, cpu)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var product struct {
		ID       uuid.UUID `json:"id"`
		GroupKey string    `json:"group_key"`
	}
	decode(t, w, &product)
	assert.Equal(t, "amd_ryzen 5 7600", product.GroupKey)
	productPath := "/api/v1/products/" + product.ID.String()

	t.Run("listing", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/products?category=CPU", "", uuid.Nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Count int `json:"count"`
		}
		decode(t, w, &list)
		assert.Equal(t, 1, list.Count)

		w = api.do(http.MethodGet, "/api/v1/products?category=Fan", "", uuid.Nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodGet, "/api/v1/products?sort=cheapest", "", uuid.Nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodGet, productPath+"/compare", "", uuid.Nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"shop":"shop-b"`)

		w = api.do(http.MethodGet, "/api/v1/products/"+uuid.NewString(), "", uuid.Nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = api.do(http.MethodGet, "/api/v1/products/not-a-uuid", "", uuid.Nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reviews", func(t *testing.T) {
		review := map[string]interface{}{"rating": 4, "comment": "Runs cool", "comfort_ratings": map[string]int{"ease": 5}}

		w := api.do(http.MethodPost, productPath+"/reviews", "", uuid.Nil, review)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = api.do(http.MethodPost, productPath+"/reviews", "user-key", user, review)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = api.do(http.MethodPost, productPath+"/reviews", "user-key", user, review)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = api.do(http.MethodPost, productPath+"/reviews", "user-key", other, map[string]interface{}{"rating": 9, "comment": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodGet, productPath+"/reviews", "", uuid.Nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
	})

	t.Run("bundles", func(t *testing.T) {
		req := map[string]interface{}{
			"name":  "Quiet build",
			"parts": map[string]interface{}{"CPU": map[string]string{"product_id": product.ID.String(), "shop_name": "shop-b"}},
		}
		w := api.do(http.MethodPost, "/api/v1/bundles", "user-key", user, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var created struct {
			Bundle struct {
				ID         uuid.UUID `json:"id"`
				TotalPrice float64   `json:"total_price"`
			} `json:"bundle"`
		}
		decode(t, w, &created)
		assert.Equal(t, 19500.0, created.Bundle.TotalPrice)
		bundlePath := "/api/v1/bundles/" + created.Bundle.ID.String()

		w = api.do(http.MethodGet, bundlePath, "user-key", other, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = api.do(http.MethodPut, bundlePath, "user-key", user, map[string]interface{}{"is_public": true})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = api.do(http.MethodGet, bundlePath, "user-key", other, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = api.do(http.MethodPost, bundlePath+"/evaluate", "user-key", user, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"compatibility"`)

		w = api.do(http.MethodDelete, bundlePath, "user-key", other, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = api.do(http.MethodDelete, bundlePath, "user-key", user, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = api.do(http.MethodGet, "/api/v1/bundles", "user-key", user, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":0`)
	})

	t.Run("scoring", func(t *testing.T) {
		parts := map[string]interface{}{"parts": map[string]string{"CPU": product.ID.String()}}

		w := api.do(http.MethodPost, "/api/v1/compatibility/check", "", uuid.Nil, parts)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"score":100`)

		w = api.do(http.MethodPost, "/api/v1/ml/comfort/bundle", "", uuid.Nil, parts)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = api.do(http.MethodPost, "/api/v1/ml/comfort/bundle", "", uuid.Nil,
			map[string]interface{}{"parts": map[string]string{"GPU": uuid.NewString()}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodGet, "/api/v1/ml/comfort/product/"+product.ID.String(), "", uuid.Nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = api.do(http.MethodGet, "/api/v1/ml/status", "", uuid.Nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ready":true`)
	})

	t.Run("maintenance jobs", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/ml/train?async=true", "user-key", user, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = api.do(http.MethodPost, "/api/v1/ml/train?async=true", "admin-key", admin, nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var job struct {
			ID uuid.UUID `json:"job_id"`
		}
		decode(t, w, &job)

		app.Services().Jobs.Wait()

		w = api.do(http.MethodGet, "/api/v1/ml/jobs/"+job.ID.String(), "admin-key", admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"completed"`)
		assert.Contains(t, w.Body.String(), `"skipped":true`)

		w = api.do(http.MethodPost, "/api/v1/ml/reconcile", "admin-key", admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"merged":0`)

		w = api.do(http.MethodPost, "/api/v1/ml/comfort/update-all", "admin-key", admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"updated":1`)

		w = api.do(http.MethodGet, "/api/v1/admin/jobs", "admin-key", admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
	})
}

func TestAPI_TokenFlow(t *testing.T) {
	_, api := newTestApp(t)
	userID := uuid.New()

	w := api.do(http.MethodPost, "/api/v1/auth/token", "", uuid.Nil,
		map[string]interface{}{"api_key": "wrong", "user_id": userID.String()})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/v1/auth/token", "", uuid.Nil,
		map[string]interface{}{"api_key": "user-key", "user_id": userID.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "user", resp.Role)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bundles", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	_, api := newTestApp(t)

	w := api.do(http.MethodGet, "/health", "", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = api.do(http.MethodGet, "/metrics", "", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "comport_http_requests_total")
}

func TestHealthReady(t *testing.T) {
	app, api := newTestApp(t)

	w := api.do(http.MethodGet, "/health/ready", "", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, true, body["ready"])
	assert.True(t, app.services.Comfort.Ready())

	w = api.do(http.MethodGet, "/health", "", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"comfort_model_ready":true`)
}

func TestDocs(t *testing.T) {
	_, api := newTestApp(t)

	w := api.do(http.MethodGet, "/docs/schemas", "", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"part-selection"`)
}
