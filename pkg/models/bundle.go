package models

import (
	"time"

	"github.com/google/uuid"
)

// SelectedSource is a snapshot of the listing chosen for a bundle part, taken
// when the bundle is created.
type SelectedSource struct {
	ShopName   string   `json:"shop_name"`
	Price      float64  `json:"price"`
	ProductURL string   `json:"product_url"`
	Shipping   Shipping `json:"shipping"`
}

type BundleItem struct {
	ProductID      uuid.UUID      `json:"product_id"`
	Category       Category       `json:"category"`
	SelectedSource SelectedSource `json:"selected_source"`
}

// ComfortProfile is derived data. A copy cached on a bundle may be stale.
type ComfortProfile struct {
	Overall     int `json:"overall"`
	Ease        int `json:"ease"`
	Performance int `json:"performance"`
	Noise       int `json:"noise"`
	Temperature int `json:"temperature"`
}

type Bundle struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	UserID             uuid.UUID      `json:"user_id" db:"user_id"`
	Name               string         `json:"name" db:"name"`
	Items              []BundleItem   `json:"items" db:"items"`
	TotalPrice         float64        `json:"total_price" db:"total_price"`
	CompatibilityScore int            `json:"compatibility_score" db:"compatibility_score"`
	ComfortProfile     ComfortProfile `json:"comfort_profile" db:"comfort_profile"`
	IsPublic           bool           `json:"is_public" db:"is_public"`
	Notes              string         `json:"notes,omitempty" db:"notes"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// BundlePartRequest selects a product and the shop it will be bought from.
type BundlePartRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	ShopName  string    `json:"shop_name" validate:"required"`
}

type CreateBundleRequest struct {
	Name           string                         `json:"name" validate:"required,min=1,max=120"`
	Parts          map[Category]BundlePartRequest `json:"parts" validate:"required,min=1,dive,keys,oneof=CPU GPU RAM Motherboard Storage PSU Case,endkeys"`
	Notes          string                         `json:"notes,omitempty" validate:"max=1000"`
	IsPublic       bool                           `json:"is_public"`
	ComfortProfile *ComfortProfile                `json:"comfort_profile,omitempty"`
}

type UpdateBundleRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Notes    *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	IsPublic *bool   `json:"is_public,omitempty"`
}

// BundleEvaluation is the merged compatibility + comfort view of a bundle.
type BundleEvaluation struct {
	Bundle        *Bundle              `json:"bundle"`
	Compatibility *CompatibilityReport `json:"compatibility"`
	Comfort       *BundleComfortResult `json:"ml_comfort_rating,omitempty"`
}
