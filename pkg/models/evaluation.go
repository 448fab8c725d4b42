package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckResult is the outcome of one compatibility rule.
type CheckResult struct {
	Compatible bool     `json:"compatible"`
	Issues     []string `json:"issues"`
	Warnings   []string `json:"warnings,omitempty"`
}

type PSUCheckResult struct {
	CheckResult
	TotalWattage       int `json:"total_wattage"`
	PSUWattage         int `json:"psu_wattage"`
	RecommendedWattage int `json:"recommended_wattage"`
}

type CompatibilityChecks struct {
	CPUMotherboard CheckResult    `json:"cpu_motherboard"`
	RAMMotherboard CheckResult    `json:"ram_motherboard"`
	PSUWattage     PSUCheckResult `json:"psu_wattage"`
	GPUCase        CheckResult    `json:"gpu_case"`
}

type CompatibilityReport struct {
	Compatible bool                `json:"compatible"`
	Issues     []string            `json:"issues"`
	Warnings   []string            `json:"warnings"`
	Checks     CompatibilityChecks `json:"checks"`
	Score      int                 `json:"score"`
}

type ComfortScore struct {
	Overall     int `json:"overall"`
	Ease        int `json:"ease"`
	Performance int `json:"performance"`
}

// Profile widens a score into a cacheable comfort profile.
func (s ComfortScore) Profile() ComfortProfile {
	return ComfortProfile{Overall: s.Overall, Ease: s.Ease, Performance: s.Performance}
}

// BundleComfortResult carries the aggregated bundle score plus the intermediate
// values used to produce it. PriceQualityRatio and PriceAdjustment are reported
// only; they do not feed the final score.
type BundleComfortResult struct {
	ComfortScore
	Components        map[Category]ComfortScore `json:"components"`
	Failed            []Category                `json:"failed,omitempty"`
	TotalPrice        float64                   `json:"total_price"`
	AvgShopRating     float64                   `json:"avg_shop_rating"`
	TotalReviews      int                       `json:"total_reviews"`
	ReviewConfidence  float64                   `json:"review_confidence"`
	PriceQualityRatio float64                   `json:"price_quality_ratio"`
	PriceAdjustment   float64                   `json:"price_adjustment"`
}

type ReconcileSummary struct {
	TotalGroups int `json:"total_groups"`
	Merged      int `json:"merged"`
	Kept        int `json:"kept"`
}

type TrainingResult struct {
	Samples      int           `json:"samples"`
	Skipped      bool          `json:"skipped"`
	Reason       string        `json:"reason,omitempty"`
	Epochs       int           `json:"epochs"`
	FinalLoss    float64       `json:"final_loss"`
	FinalValLoss float64       `json:"final_val_loss"`
	Duration     time.Duration `json:"duration"`
	ModelVersion string        `json:"model_version,omitempty"`
}

type RescoreSummary struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// ScoreBundleRequest names the product chosen for each category.
type ScoreBundleRequest struct {
	Parts map[Category]uuid.UUID `json:"parts" validate:"required,min=1"`
}
