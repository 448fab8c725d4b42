package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

// MockRegressor stands in for the comfort network.
type MockRegressor struct {
	mock.Mock
}

func (m *MockRegressor) Predict(input []float64) ([]float64, error) {
	args := m.Called(input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

func (m *MockRegressor) Fit(inputs, outputs [][]float64, cfg ml.FitConfig) (*ml.TrainingLog, error) {
	args := m.Called(inputs, outputs, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ml.TrainingLog), args.Error(1)
}

func (m *MockRegressor) Save(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRegressor) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRegressor) Version() string {
	return m.Called().String(0)
}

// recordingPublisher keeps published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*messaging.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event *messaging.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ML.ModelName = "comfort_model"
	cfg.ML.BundleConcurrency = 2
	cfg.ML.Training = config.TrainingConfig{
		Epochs:          5,
		BatchSize:       4,
		ValidationSplit: 0.2,
		SampleLimit:     1000,
		MinSamples:      10,
	}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.APIKeys = []string{"user-key"}
	cfg.Auth.AdminKeys = []string{"admin-key"}
	return cfg
}

func intPtr(v int) *int { return &v }

func pricedProduct(category models.Category, brand, model string, price float64) *models.Product {
	p := &models.Product{
		Name:     brand + " " + model,
		Category: category,
		Brand:    brand,
		Model:    model,
		Sources:  []models.Source{{ShopName: "shop-a", ProductURL: "https://shop-a/" + model, Price: price, InStock: true}},
	}
	p.EnsureGroupKey()
	p.UpdatePriceRange()
	return p
}

func reviewFor(productID, userID uuid.UUID, rating, ease, performance int, age time.Duration) *models.Review {
	return &models.Review{
		UserID:    userID,
		ProductID: productID,
		Rating:    rating,
		Comment:   "ok",
		ComfortRatings: models.ComfortRatings{
			Ease:        intPtr(ease),
			Performance: intPtr(performance),
		},
		CreatedAt: time.Now().Add(-age),
	}
}

// hookedStore runs before once, just ahead of the first call to the write
// named by on, to interleave another operation with the caller's.
type hookedStore struct {
	*store.MemoryStore
	on     string
	before func()
	fired  bool
}

func (s *hookedStore) fire(op string) {
	if op == s.on && !s.fired {
		s.fired = true
		s.before()
	}
}

func (s *hookedStore) SetComfortScore(ctx context.Context, id uuid.UUID, score int) error {
	s.fire("SetComfortScore")
	return s.MemoryStore.SetComfortScore(ctx, id, score)
}

func (s *hookedStore) AppendReviewRef(ctx context.Context, id, reviewID uuid.UUID) error {
	s.fire("AppendReviewRef")
	return s.MemoryStore.AppendReviewRef(ctx, id, reviewID)
}

func (s *hookedStore) UpdateProductIfUnchanged(ctx context.Context, p *models.Product, readAt time.Time) error {
	s.fire("UpdateProductIfUnchanged")
	return s.MemoryStore.UpdateProductIfUnchanged(ctx, p, readAt)
}
