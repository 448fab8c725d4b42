package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

const (
	maxReviewWeight          = 0.7
	reviewsForFullWeight     = 10.0
	overallEaseWeight        = 0.2
	overallPerformanceWeight = 0.3

	bundleReviewsForConfidence = 20.0
	bundleConfidenceBase       = 0.85
	bundleConfidenceSpan       = 0.15
	defaultBundleWeight        = 0.05
	maxPriceAdjustment         = 1.2
	priceQualityScale          = 50000.0
)

var bundleCategoryWeights = map[models.Category]float64{
	models.CategoryCPU:         0.25,
	models.CategoryGPU:         0.25,
	models.CategoryRAM:         0.10,
	models.CategoryMotherboard: 0.10,
	models.CategoryStorage:     0.10,
	models.CategoryPSU:         0.15,
	models.CategoryCase:        0.05,
}

// BundleCategoryWeight returns the aggregation weight of c, 0.05 if unknown.
func BundleCategoryWeight(c models.Category) float64 {
	if w, ok := bundleCategoryWeights[c]; ok {
		return w
	}
	return defaultBundleWeight
}

type comfortStore interface {
	store.ProductStore
	store.ReviewStore
}

// ComfortRatingService scores products and bundles. It owns the comfort model;
// the model is loaded lazily on first use and concurrent first callers share
// a single load.
type ComfortRatingService struct {
	store       comfortStore
	model       ml.Regressor
	registry    *ml.ModelRegistry
	cache       *ScoreCache
	logger      *logrus.Logger
	modelName   string
	concurrency int
	now         func() time.Time

	initGroup singleflight.Group
	ready     atomic.Bool
}

func NewComfortRatingService(cfg *config.Config, logger *logrus.Logger, st comfortStore, model ml.Regressor, registry *ml.ModelRegistry, cache *ScoreCache) *ComfortRatingService {
	concurrency := cfg.ML.BundleConcurrency
	if concurrency <= 0 {
		concurrency = len(models.Categories)
	}

	s := &ComfortRatingService{
		store:       st,
		model:       model,
		registry:    registry,
		cache:       cache,
		logger:      logger,
		modelName:   cfg.ML.ModelName,
		concurrency: concurrency,
		now:         time.Now,
	}

	info := &ml.ModelInfo{
		Name:      s.modelName,
		Version:   model.Version(),
		Inputs:    ml.FeatureCount,
		Outputs:   ml.OutputCount,
		ModelType: "regression",
		Config: map[string]interface{}{
			"learning_rate":    cfg.ML.LearningRate,
			"epochs":           cfg.ML.Training.Epochs,
			"batch_size":       cfg.ML.Training.BatchSize,
			"validation_split": cfg.ML.Training.ValidationSplit,
		},
	}
	if sized, ok := model.(interface{ Sizes() []int }); ok {
		info.Layers = sized.Sizes()
	}
	if err := registry.RegisterModel(info); err != nil {
		logger.WithError(err).Warn("Failed to register comfort model")
	}

	return s
}

// EnsureModel loads persisted weights once. Missing weights are expected on a
// fresh install and leave the freshly initialised weights in place; any other
// load failure is returned and retried on the next call.
func (s *ComfortRatingService) EnsureModel(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (interface{}, error) {
		if s.ready.Load() {
			return nil, nil
		}

		if err := s.model.Load(ctx); err != nil {
			if !errors.Is(err, ml.ErrNoWeights) {
				return nil, fmt.Errorf("failed to initialize comfort model: %w", err)
			}
			s.logger.WithField("model", s.modelName).Info("No saved comfort model weights, using fresh weights")
		} else {
			s.logger.WithFields(logrus.Fields{
				"model":   s.modelName,
				"version": s.model.Version(),
			}).Info("Comfort model weights loaded")
		}

		s.ready.Store(true)
		_ = s.registry.SetVersion(s.modelName, s.model.Version())
		return nil, nil
	})
	return err
}

// Ready reports whether the model has been initialised.
func (s *ComfortRatingService) Ready() bool {
	return s.ready.Load()
}

// ModelInfo returns the registry entry of the comfort model.
func (s *ComfortRatingService) ModelInfo() (*ml.ModelInfo, error) {
	return s.registry.GetModelInfo(s.modelName)
}

// BlendComfortScore mixes the model prediction with observed review
// statistics. The review share grows with review count and is capped at 70%.
func BlendComfortScore(prediction []float64, stats ml.ReviewStats) models.ComfortScore {
	reviewWeight := math.Min(float64(stats.ReviewCount)/reviewsForFullWeight, maxReviewWeight)
	modelWeight := 1 - reviewWeight

	ease := int(math.Round(100 * (prediction[0]*modelWeight + stats.AvgEase*reviewWeight)))
	performance := int(math.Round(100 * (prediction[1]*modelWeight + stats.AvgPerformance*reviewWeight)))

	return models.ComfortScore{
		Overall:     overallComfort(float64(ease), float64(performance)),
		Ease:        ease,
		Performance: performance,
	}
}

// overallComfort weights sum to 0.5; the remainder is left for noise and
// temperature.
func overallComfort(ease, performance float64) int {
	return int(math.Round(ease*overallEaseWeight + performance*overallPerformanceWeight))
}

// ScoreProduct computes the comfort score of a product. Unknown ids yield
// ErrNotFound.
func (s *ComfortRatingService) ScoreProduct(ctx context.Context, id uuid.UUID) (*models.ComfortScore, error) {
	start := time.Now()
	score, _, err := s.scoreProduct(ctx, id)
	comfortScoreRequests.WithLabelValues("product", resultLabel(err)).Inc()
	comfortScoreLatency.WithLabelValues("product").Observe(time.Since(start).Seconds())
	return score, err
}

func (s *ComfortRatingService) scoreProduct(ctx context.Context, id uuid.UUID) (*models.ComfortScore, *models.Product, error) {
	if err := s.EnsureModel(ctx); err != nil {
		return nil, nil, err
	}

	// always resolve by id so a concurrent reconcile cannot leave us scoring a
	// merged-away record
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, nil, notFound("product", err)
	}

	version := s.model.Version()
	if cached, ok := s.cache.Get(ctx, id, version); ok {
		comfortCacheLookups.WithLabelValues("hit").Inc()
		return cached, product, nil
	}
	comfortCacheLookups.WithLabelValues("miss").Inc()

	reviews, err := s.store.ListReviewsByProduct(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load reviews: %w", err)
	}

	features := ml.ExtractProductFeatures(product)
	stats := ml.ExtractReviewStats(reviews, s.now())

	predictStart := time.Now()
	prediction, err := s.model.Predict(features.Vector())
	s.registry.RecordPrediction(s.modelName, time.Since(predictStart), err != nil)
	if err != nil {
		return nil, nil, fmt.Errorf("comfort model prediction failed: %w", err)
	}
	if len(prediction) < ml.OutputCount {
		return nil, nil, fmt.Errorf("comfort model returned %d outputs, expected %d", len(prediction), ml.OutputCount)
	}

	score := BlendComfortScore(prediction, stats)
	s.cache.Set(ctx, id, version, &score)

	s.logger.WithFields(logrus.Fields{
		"product_id":   id,
		"review_count": stats.ReviewCount,
		"overall":      score.Overall,
	}).Debug("Computed product comfort score")

	return &score, product, nil
}

type scoredPart struct {
	category models.Category
	score    *models.ComfortScore
	product  *models.Product
}

// ScoreBundle aggregates per-part comfort scores with category weights. A part
// that cannot be scored is logged and left out of the aggregate; a bundle with
// no scorable part scores zero.
func (s *ComfortRatingService) ScoreBundle(ctx context.Context, parts models.PartSet) (*models.BundleComfortResult, error) {
	start := time.Now()
	defer func() {
		comfortScoreLatency.WithLabelValues("bundle").Observe(time.Since(start).Seconds())
	}()

	categories := make([]models.Category, 0, len(parts))
	for category, p := range parts {
		if p != nil && p.ID != uuid.Nil {
			categories = append(categories, category)
		}
	}
	sortCategories(categories)

	results := make([]scoredPart, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, category := range categories {
		g.Go(func() error {
			score, product, err := s.scoreProduct(gctx, parts[category].ID)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"category":   category,
					"product_id": parts[category].ID,
				}).Warn("Failed to score bundle part, excluding it")
				bundlePartFailures.WithLabelValues(string(category)).Inc()
				return nil
			}
			results[i] = scoredPart{category: category, score: score, product: product}
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BundleComfortResult{
		Components: make(map[models.Category]models.ComfortScore),
	}

	var weightedEase, weightedPerformance, totalWeight float64
	for i, r := range results {
		if r.score == nil {
			result.Failed = append(result.Failed, categories[i])
			continue
		}
		result.Components[r.category] = *r.score

		result.TotalPrice += r.product.PriceRange.Average
		result.AvgShopRating += r.product.Ratings.Overall.Average
		result.TotalReviews += len(r.product.PlatformReviews)

		w := BundleCategoryWeight(r.category)
		weightedEase += float64(r.score.Ease) * w
		weightedPerformance += float64(r.score.Performance) * w
		totalWeight += w
	}

	scored := len(result.Components)
	if scored == 0 {
		comfortScoreRequests.WithLabelValues("bundle", "empty").Inc()
		return result, nil
	}

	result.AvgShopRating /= float64(scored)
	weightedEase /= totalWeight
	weightedPerformance /= totalWeight

	result.PriceQualityRatio = 1
	if result.AvgShopRating > 0 && result.TotalPrice > 0 {
		result.PriceQualityRatio = result.AvgShopRating / 5 / (result.TotalPrice / priceQualityScale)
	}
	// reported only, not applied
	result.PriceAdjustment = math.Min(result.PriceQualityRatio, maxPriceAdjustment)

	result.ReviewConfidence = math.Min(float64(result.TotalReviews)/bundleReviewsForConfidence, 1)
	nudge := bundleConfidenceBase + result.ReviewConfidence*bundleConfidenceSpan
	weightedEase *= nudge
	weightedPerformance *= nudge

	result.Ease = int(math.Round(weightedEase))
	result.Performance = int(math.Round(weightedPerformance))
	result.Overall = overallComfort(weightedEase, weightedPerformance)

	comfortScoreRequests.WithLabelValues("bundle", "ok").Inc()
	return result, nil
}

// sortCategories orders known categories by display order, unknown ones last
// by name, so aggregation is deterministic.
func sortCategories(categories []models.Category) {
	rank := func(c models.Category) int {
		for i, known := range models.Categories {
			if c == known {
				return i
			}
		}
		return len(models.Categories)
	}
	sort.Slice(categories, func(i, j int) bool {
		ri, rj := rank(categories[i]), rank(categories[j])
		if ri != rj {
			return ri < rj
		}
		return categories[i] < categories[j]
	})
}

// ResolveParts loads the products named by ids. Unknown ids are a
// validation failure naming the category.
func (s *ComfortRatingService) ResolveParts(ctx context.Context, ids map[models.Category]uuid.UUID) (models.PartSet, error) {
	parts := make(models.PartSet, len(ids))
	for category, id := range ids {
		if !category.Valid() {
			return nil, validationErrorf("parts", "unknown category %q", category)
		}
		p, err := s.store.GetProduct(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, validationErrorf(string(category), "product %s not found", id)
			}
			return nil, fmt.Errorf("failed to load %s: %w", category, err)
		}
		parts[category] = p
	}
	return parts, nil
}

// RescoreAll recomputes and stores the comfort score of every product.
// Individual failures are counted, not returned.
func (s *ComfortRatingService) RescoreAll(ctx context.Context) (*models.RescoreSummary, error) {
	if err := s.EnsureModel(ctx); err != nil {
		return nil, err
	}

	products, err := s.store.ListProducts(ctx, models.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	summary := &models.RescoreSummary{Total: len(products)}
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.RescoreProduct(ctx, p.ID); err != nil {
			s.logger.WithError(err).WithField("product_id", p.ID).Warn("Failed to update comfort score")
			summary.Failed++
			continue
		}
		summary.Updated++
	}

	s.logger.WithFields(logrus.Fields{
		"updated": summary.Updated,
		"failed":  summary.Failed,
		"total":   summary.Total,
	}).Info("Comfort scores updated")
	return summary, nil
}

// RescoreProduct scores a product and stores the overall value on it.
func (s *ComfortRatingService) RescoreProduct(ctx context.Context, id uuid.UUID) error {
	score, product, err := s.scoreProduct(ctx, id)
	if err != nil {
		return err
	}
	if product.ComfortScore == score.Overall {
		return nil
	}
	if err := s.store.SetComfortScore(ctx, id, score.Overall); err != nil {
		return notFound("product", err)
	}
	return nil
}

// Invalidate drops cached scores for the given products.
func (s *ComfortRatingService) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if s == nil {
		return
	}
	s.cache.Invalidate(ctx, ids...)
}
