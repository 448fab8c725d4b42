package ml

import (
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/temcen/comport/pkg/models"
)

const (
	maxNormalizedPrice       = 100000.0
	maxNormalizedReviewCount = 100.0
	maxRating                = 5.0
	consistencyStdDevScale   = 2.5
	day                      = 24 * time.Hour
)

// NormalizePrice maps a price onto [0,1], saturating at 100,000.
func NormalizePrice(price float64) float64 {
	return math.Min(price/maxNormalizedPrice, 1)
}

// NormalizePriceSpread returns the relative spread (max-min)/min capped at 1.
// Unknown bounds yield 0.
func NormalizePriceSpread(lo, hi float64) float64 {
	if lo == 0 || hi == 0 {
		return 0
	}
	return math.Min((hi-lo)/lo, 1)
}

// NormalizeRating maps a 1-5 rating onto [0,1].
func NormalizeRating(rating float64) float64 {
	return rating / maxRating
}

// NormalizeReviewCount maps review volume onto [0,1], capped at maxNormalizedReviewCount.
// Not part of the feature vector; kept for callers that need the capped review volume.
func NormalizeReviewCount(count int) float64 {
	return math.Min(float64(count)/maxNormalizedReviewCount, 1)
}

// RecencyWeight scores a single review age: newer reviews count more.
func RecencyWeight(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days < 30:
		return 1.0
	case days < 90:
		return 0.8
	case days < 180:
		return 0.6
	case days < 365:
		return 0.4
	default:
		return 0.2
	}
}

// ReviewRecency is the mean RecencyWeight of the reviews relative to now.
func ReviewRecency(reviews []models.Review, now time.Time) float64 {
	if len(reviews) == 0 {
		return 0
	}
	weights := make([]float64, len(reviews))
	for i, r := range reviews {
		weights[i] = RecencyWeight(now.Sub(r.CreatedAt))
	}
	return stat.Mean(weights, nil)
}

// ReviewConsistency is 1 - stddev/2.5 over the star ratings, floored at 0.
// Fewer than two ratings carry no spread information and score a neutral 0.5.
func ReviewConsistency(ratings []float64) float64 {
	if len(ratings) < 2 {
		return 0.5
	}
	return math.Max(0, 1-stat.StdDev(ratings, nil)/consistencyStdDevScale)
}

// ParseSpecInt reads an integer spec value such as "65W", "300 mm" or "850".
// Trailing units are ignored; a missing or unparseable value yields fallback.
func ParseSpecInt(specs models.Specifications, key string, fallback int) int {
	raw, ok := specs.Get(key)
	if !ok {
		return fallback
	}
	n, ok := leadingInt(raw)
	if !ok || n == 0 {
		return fallback
	}
	return n
}

// SpecString returns the lower-cased, trimmed spec value or "".
func SpecString(specs models.Specifications, key string) string {
	raw, _ := specs.Get(key)
	return strings.ToLower(strings.TrimSpace(raw))
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && (s[end] == '-' || s[end] == '+')) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
