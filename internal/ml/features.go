package ml

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/comport/pkg/models"
)

// FeatureCount is the width of the model input vector.
const FeatureCount = 12

// OutputCount is the width of the model output: ease and performance.
const OutputCount = 2

// categoryFeatureWeights scale every positive feature of a product.
var categoryFeatureWeights = map[models.Category]float64{
	models.CategoryCPU:         1.2,
	models.CategoryGPU:         1.2,
	models.CategoryRAM:         0.9,
	models.CategoryMotherboard: 1.0,
	models.CategoryStorage:     0.95,
	models.CategoryPSU:         1.1,
	models.CategoryCase:        0.85,
}

// CategoryFeatureWeight returns the feature multiplier for c, 1.0 if unknown.
func CategoryFeatureWeight(c models.Category) float64 {
	if w, ok := categoryFeatureWeights[c]; ok {
		return w
	}
	return 1.0
}

// ProductFeatures is the model input for one product. Field order matches
// Vector(). PlatformRating, ReviewRecency, ReviewConsistency and AvgUserRating
// are reserved slots and are always zero; the equivalent statistics live in
// ReviewStats and are used for blending only.
type ProductFeatures struct {
	AvgPrice            float64 `json:"avg_price"`
	PriceRange          float64 `json:"price_range"`
	OverallShopRating   float64 `json:"overall_shop_rating"`
	ShopRatingCount     float64 `json:"shop_rating_count"`
	ShopAvailability    float64 `json:"shop_availability"`
	PlatformRating      float64 `json:"platform_rating"`
	PlatformReviewCount float64 `json:"platform_review_count"`
	ReviewRecency       float64 `json:"review_recency"`
	ReviewConsistency   float64 `json:"review_consistency"`
	AvgUserRating       float64 `json:"avg_user_rating"`
	PriceToRatingRatio  float64 `json:"price_to_rating_ratio"`
	AvgShopRating       float64 `json:"avg_shop_rating"`
}

// Vector returns the features in model input order.
func (f ProductFeatures) Vector() []float64 {
	return []float64{
		f.AvgPrice,
		f.PriceRange,
		f.OverallShopRating,
		f.ShopRatingCount,
		f.ShopAvailability,
		f.PlatformRating,
		f.PlatformReviewCount,
		f.ReviewRecency,
		f.ReviewConsistency,
		f.AvgUserRating,
		f.PriceToRatingRatio,
		f.AvgShopRating,
	}
}

func (f *ProductFeatures) scalePositive(w float64) {
	for _, p := range []*float64{
		&f.AvgPrice, &f.PriceRange, &f.OverallShopRating, &f.ShopRatingCount,
		&f.ShopAvailability, &f.PlatformRating, &f.PlatformReviewCount,
		&f.ReviewRecency, &f.ReviewConsistency, &f.AvgUserRating,
		&f.PriceToRatingRatio, &f.AvgShopRating,
	} {
		if *p > 0 {
			*p *= w
		}
	}
}

// ExtractProductFeatures builds the 12-dimensional model input for p.
func ExtractProductFeatures(p *models.Product) ProductFeatures {
	var f ProductFeatures
	if p == nil {
		return f
	}

	avgPrice := p.PriceRange.Average
	f.AvgPrice = NormalizePrice(avgPrice)
	f.PriceRange = NormalizePriceSpread(p.PriceRange.Min, p.PriceRange.Max)

	if bySource := p.Ratings.BySource; len(bySource) > 0 {
		averages := make([]float64, len(bySource))
		counts := 0
		for i, r := range bySource {
			averages[i] = r.Average
			counts += r.Count
		}
		f.AvgShopRating = NormalizeRating(floats.Sum(averages) / float64(len(averages)))
		f.ShopRatingCount = math.Min(float64(counts)/1000, 1)
		f.OverallShopRating = NormalizeRating(p.Ratings.Overall.Average)
	}

	if p.AvailableAt > 0 && p.TotalSources > 0 {
		f.ShopAvailability = float64(p.AvailableAt) / float64(p.TotalSources)
	}

	if n := len(p.PlatformReviews); n > 0 {
		f.PlatformReviewCount = math.Min(float64(n)/50, 1)
	}

	if f.OverallShopRating > 0 && avgPrice > 0 {
		f.PriceToRatingRatio = f.OverallShopRating / (avgPrice / 50000)
	}

	f.scalePositive(CategoryFeatureWeight(p.Category))
	return f
}

// ReviewStats summarises the platform reviews of a product. It is used for
// blending with the model prediction and as the training target; it is never
// fed to the model.
type ReviewStats struct {
	AvgEase        float64 `json:"avg_ease"`
	AvgPerformance float64 `json:"avg_performance"`
	ReviewCount    int     `json:"review_count"`
	Recency        float64 `json:"recency"`
	Consistency    float64 `json:"consistency"`
}

// neutralPrior is used for a comfort axis that no review has rated.
const neutralPrior = 0.5

// ExtractReviewStats computes ReviewStats for reviews as of now.
func ExtractReviewStats(reviews []models.Review, now time.Time) ReviewStats {
	stats := ReviewStats{
		AvgEase:        neutralPrior,
		AvgPerformance: neutralPrior,
		ReviewCount:    len(reviews),
		Consistency:    neutralPrior,
	}
	if len(reviews) == 0 {
		return stats
	}

	var ease, performance []float64
	ratings := make([]float64, 0, len(reviews))
	for _, r := range reviews {
		if v := r.ComfortRatings.Ease; v != nil && *v > 0 {
			ease = append(ease, float64(*v))
		}
		if v := r.ComfortRatings.Performance; v != nil && *v > 0 {
			performance = append(performance, float64(*v))
		}
		ratings = append(ratings, float64(r.Rating))
	}

	if len(ease) > 0 {
		stats.AvgEase = NormalizeRating(floats.Sum(ease) / float64(len(ease)))
	}
	if len(performance) > 0 {
		stats.AvgPerformance = NormalizeRating(floats.Sum(performance) / float64(len(performance)))
	}
	stats.Recency = ReviewRecency(reviews, now)
	stats.Consistency = ReviewConsistency(ratings)

	return stats
}

// Target returns the training label for these stats.
func (s ReviewStats) Target() []float64 {
	return []float64{s.AvgEase, s.AvgPerformance}
}
