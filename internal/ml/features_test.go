package ml

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/comport/pkg/models"
)

func intPtr(v int) *int { return &v }

func sampleProduct(category models.Category) *models.Product {
	p := &models.Product{
		ID:       uuid.New(),
		Category: category,
		Sources: []models.Source{
			{ShopName: "a", Price: 40000, InStock: true},
			{ShopName: "b", Price: 60000, InStock: true},
			{ShopName: "c", Price: 50000},
			{ShopName: "d", Price: 50000},
		},
		Ratings: models.Ratings{BySource: []models.SourceRating{
			{ShopName: "a", Average: 4, Count: 100},
			{ShopName: "b", Average: 5, Count: 100},
		}},
		PlatformReviews: []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()},
	}
	p.UpdatePriceRange()
	p.UpdateRatings()
	return p
}

func TestExtractProductFeatures(t *testing.T) {
	t.Run("NeutralCategory", func(t *testing.T) {
		f := ExtractProductFeatures(sampleProduct(models.CategoryMotherboard))

		assert.InDelta(t, 0.5, f.AvgPrice, 1e-9)
		assert.InDelta(t, 0.5, f.PriceRange, 1e-9)
		assert.InDelta(t, 0.9, f.OverallShopRating, 1e-9)
		assert.InDelta(t, 0.2, f.ShopRatingCount, 1e-9)
		assert.InDelta(t, 0.5, f.ShopAvailability, 1e-9)
		assert.InDelta(t, 0.1, f.PlatformReviewCount, 1e-9)
		assert.InDelta(t, 0.9, f.PriceToRatingRatio, 1e-9)
		assert.InDelta(t, 0.9, f.AvgShopRating, 1e-9)
	})

	t.Run("ReservedSlotsStayZero", func(t *testing.T) {
		f := ExtractProductFeatures(sampleProduct(models.CategoryCPU))
		assert.Zero(t, f.PlatformRating)
		assert.Zero(t, f.ReviewRecency)
		assert.Zero(t, f.ReviewConsistency)
		assert.Zero(t, f.AvgUserRating)
	})

	t.Run("CategoryWeightScalesNonZeroEntries", func(t *testing.T) {
		base := ExtractProductFeatures(sampleProduct(models.CategoryMotherboard)).Vector()
		cpu := ExtractProductFeatures(sampleProduct(models.CategoryCPU)).Vector()
		caseFeatures := ExtractProductFeatures(sampleProduct(models.CategoryCase)).Vector()

		require.Len(t, cpu, FeatureCount)
		for i := range base {
			assert.InDelta(t, base[i]*1.2, cpu[i], 1e-9, "feature %d", i)
			assert.InDelta(t, base[i]*0.85, caseFeatures[i], 1e-9, "feature %d", i)
		}
	})

	t.Run("EmptyProduct", func(t *testing.T) {
		f := ExtractProductFeatures(&models.Product{Category: models.CategoryGPU})
		for _, v := range f.Vector() {
			assert.Zero(t, v)
		}
		assert.Equal(t, make([]float64, FeatureCount), ExtractProductFeatures(nil).Vector())
	})
}

func TestCategoryFeatureWeight(t *testing.T) {
	assert.Equal(t, 1.2, CategoryFeatureWeight(models.CategoryGPU))
	assert.Equal(t, 1.1, CategoryFeatureWeight(models.CategoryPSU))
	assert.Equal(t, 0.95, CategoryFeatureWeight(models.CategoryStorage))
	assert.Equal(t, 1.0, CategoryFeatureWeight(models.Category("Monitor")))
}

func TestExtractReviewStats(t *testing.T) {
	now := time.Now()

	t.Run("NoReviewsUsesNeutralPrior", func(t *testing.T) {
		stats := ExtractReviewStats(nil, now)
		assert.Equal(t, 0.5, stats.AvgEase)
		assert.Equal(t, 0.5, stats.AvgPerformance)
		assert.Equal(t, 0.5, stats.Consistency)
		assert.Zero(t, stats.ReviewCount)
		assert.Zero(t, stats.Recency)
	})

	t.Run("MeansOverRatedFieldsOnly", func(t *testing.T) {
		reviews := []models.Review{
			{Rating: 5, ComfortRatings: models.ComfortRatings{Ease: intPtr(4), Performance: intPtr(5)}, CreatedAt: now.Add(-10 * day)},
			{Rating: 5, ComfortRatings: models.ComfortRatings{Ease: intPtr(2)}, CreatedAt: now.Add(-400 * day)},
			{Rating: 5, CreatedAt: now.Add(-5 * day)},
		}

		stats := ExtractReviewStats(reviews, now)
		assert.Equal(t, 3, stats.ReviewCount)
		assert.InDelta(t, 0.6, stats.AvgEase, 1e-9)
		assert.InDelta(t, 1.0, stats.AvgPerformance, 1e-9)
		assert.InDelta(t, (1.0+0.2+1.0)/3, stats.Recency, 1e-9)
		assert.Equal(t, 1.0, stats.Consistency)
		assert.Equal(t, []float64{stats.AvgEase, stats.AvgPerformance}, stats.Target())
	})
}
