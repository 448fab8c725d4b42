package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

type Category string

const (
	CategoryCPU         Category = "CPU"
	CategoryGPU         Category = "GPU"
	CategoryRAM         Category = "RAM"
	CategoryMotherboard Category = "Motherboard"
	CategoryStorage     Category = "Storage"
	CategoryPSU         Category = "PSU"
	CategoryCase        Category = "Case"
)

// Categories lists every part category in display order.
var Categories = []Category{
	CategoryCPU,
	CategoryGPU,
	CategoryRAM,
	CategoryMotherboard,
	CategoryStorage,
	CategoryPSU,
	CategoryCase,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Specifications is the free-form key/value spec sheet of a part.
// Keys are matched case-insensitively because retailers disagree on casing
// ("TDP" vs "tdp").
type Specifications map[string]string

// Get returns the value for key, trying an exact match first.
func (s Specifications) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	if v, ok := s[key]; ok {
		return v, true
	}
	for k, v := range s {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

type Shipping struct {
	Available     bool    `json:"available"`
	Cost          float64 `json:"cost"`
	EstimatedDays string  `json:"estimated_days,omitempty"`
}

// Source is one retailer's listing of a product.
type Source struct {
	ShopName    string    `json:"shop_name" validate:"required"`
	ShopURL     string    `json:"shop_url,omitempty"`
	ProductURL  string    `json:"product_url" validate:"required"`
	Price       float64   `json:"price" validate:"gte=0"`
	InStock     bool      `json:"in_stock"`
	Shipping    Shipping  `json:"shipping"`
	LastUpdated time.Time `json:"last_updated"`
}

type PriceRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

type RatingSummary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type SourceRating struct {
	ShopName string  `json:"shop_name"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
}

type Ratings struct {
	Overall  RatingSummary  `json:"overall"`
	BySource []SourceRating `json:"by_source"`
}

type Product struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Category        Category       `json:"category" db:"category"`
	Brand           string         `json:"brand" db:"brand"`
	Model           string         `json:"model" db:"model"`
	Specifications  Specifications `json:"specifications,omitempty" db:"specifications"`
	ImageURL        string         `json:"image_url,omitempty" db:"image_url"`
	Sources         []Source       `json:"sources" db:"sources"`
	PriceRange      PriceRange     `json:"price_range" db:"price_range"`
	AvailableAt     int            `json:"available_at" db:"available_at"`
	TotalSources    int            `json:"total_sources" db:"total_sources"`
	Ratings         Ratings        `json:"ratings" db:"ratings"`
	PlatformReviews []uuid.UUID    `json:"platform_reviews" db:"platform_reviews"`
	ComfortScore    int            `json:"comfort_score" db:"comfort_score"`
	GroupKey        string         `json:"group_key" db:"group_key"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// GroupKey builds the duplicate-detection key for a brand and model.
func GroupKey(brand, model string) string {
	return normalizeKeyPart(brand) + "_" + normalizeKeyPart(model)
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// EnsureGroupKey sets GroupKey from brand and model if it has not been set.
// Once set the key is never recomputed.
func (p *Product) EnsureGroupKey() {
	if p.GroupKey == "" {
		p.GroupKey = GroupKey(p.Brand, p.Model)
	}
}

// UpdatePriceRange re-derives PriceRange, AvailableAt and TotalSources from Sources.
func (p *Product) UpdatePriceRange() {
	p.TotalSources = len(p.Sources)
	p.AvailableAt = 0
	if len(p.Sources) == 0 {
		p.PriceRange = PriceRange{}
		return
	}

	lo, hi, sum := p.Sources[0].Price, p.Sources[0].Price, 0.0
	for _, s := range p.Sources {
		if s.Price < lo {
			lo = s.Price
		}
		if s.Price > hi {
			hi = s.Price
		}
		sum += s.Price
		if s.InStock {
			p.AvailableAt++
		}
	}

	p.PriceRange = PriceRange{
		Min:     lo,
		Max:     hi,
		Average: sum / float64(len(p.Sources)),
	}
}

// UpdateRatings re-derives Ratings.Overall from Ratings.BySource. The overall
// average is weighted by each shop's rating count; shops reporting no count
// fall back to an unweighted mean.
func (p *Product) UpdateRatings() {
	bySource := p.Ratings.BySource
	if len(bySource) == 0 {
		p.Ratings.Overall = RatingSummary{}
		return
	}

	var weighted, plain float64
	total := 0
	for _, r := range bySource {
		weighted += r.Average * float64(r.Count)
		plain += r.Average
		total += r.Count
	}

	if total > 0 {
		p.Ratings.Overall = RatingSummary{Average: weighted / float64(total), Count: total}
		return
	}
	p.Ratings.Overall = RatingSummary{Average: plain / float64(len(bySource)), Count: 0}
}

// UpsertSource replaces the source with the same shop name or appends a new one,
// then re-derives the price range.
func (p *Product) UpsertSource(src Source) {
	if src.LastUpdated.IsZero() {
		src.LastUpdated = time.Now()
	}
	replaced := false
	for i := range p.Sources {
		if p.Sources[i].ShopName == src.ShopName {
			p.Sources[i] = src
			replaced = true
			break
		}
	}
	if !replaced {
		p.Sources = append(p.Sources, src)
	}
	p.UpdatePriceRange()
}

// FindSource returns the listing of the given shop.
func (p *Product) FindSource(shopName string) (Source, bool) {
	for _, s := range p.Sources {
		if s.ShopName == shopName {
			return s, true
		}
	}
	return Source{}, false
}

// SourceRatingFor returns the shop rating for shopName if one exists.
func (p *Product) SourceRatingFor(shopName string) *SourceRating {
	for i := range p.Ratings.BySource {
		if p.Ratings.BySource[i].ShopName == shopName {
			return &p.Ratings.BySource[i]
		}
	}
	return nil
}

// HasReviewRef reports whether id is in the platform review reference list.
func (p *Product) HasReviewRef(id uuid.UUID) bool {
	for _, r := range p.PlatformReviews {
		if r == id {
			return true
		}
	}
	return false
}

// PartSet maps a category to the product chosen for it. Absent categories are
// simply missing from the map.
type PartSet map[Category]*Product

// Get returns the part for c or nil.
func (ps PartSet) Get(c Category) *Product {
	if ps == nil {
		return nil
	}
	return ps[c]
}

type ProductFilter struct {
	Category    Category `form:"category"`
	MinPrice    *float64 `form:"min_price"`
	MaxPrice    *float64 `form:"max_price"`
	Search      string   `form:"search"`
	ShopName    string   `form:"shop_name"`
	InStockOnly bool     `form:"in_stock_only"`
	Sort        string   `form:"sort" validate:"omitempty,oneof=price_asc price_desc rating availability newest"`
	Limit       int      `form:"limit" validate:"omitempty,min=1,max=1000"`
}

type CreateProductRequest struct {
	Name           string         `json:"name" validate:"required,min=1,max=255"`
	Category       Category       `json:"category" validate:"required,oneof=CPU GPU RAM Motherboard Storage PSU Case"`
	Brand          string         `json:"brand" validate:"required"`
	Model          string         `json:"model" validate:"required"`
	Specifications Specifications `json:"specifications,omitempty"`
	ImageURL       string         `json:"image_url,omitempty"`
	Sources        []Source       `json:"sources,omitempty" validate:"dive"`
	Ratings        []SourceRating `json:"ratings,omitempty"`
}

type ProductGroup struct {
	GroupKey string     `json:"group_key"`
	Name     string     `json:"name"`
	Brand    string     `json:"brand"`
	Model    string     `json:"model"`
	Category Category   `json:"category"`
	Products []*Product `json:"products"`
}

type SourceComparison struct {
	ShopName    string        `json:"shop"`
	Price       float64       `json:"price"`
	InStock     bool          `json:"in_stock"`
	URL         string        `json:"url"`
	Shipping    Shipping      `json:"shipping"`
	Rating      *SourceRating `json:"rating,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
	TotalCost   float64       `json:"total_cost"`
}

type ProductComparison struct {
	ProductName string             `json:"product_name"`
	Brand       string             `json:"brand"`
	Model       string             `json:"model"`
	PriceRange  PriceRange         `json:"price_range"`
	Sources     []SourceComparison `json:"sources"`
	BestDeal    *SourceComparison  `json:"best_deal"`
}

type ShopSummary struct {
	Name           string `json:"name"`
	ProductCount   int    `json:"product_count"`
	AvailableCount int    `json:"available_count"`
}
