package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

// CatalogService serves the product catalog: listings, per-shop sources and
// platform reviews.
type CatalogService struct {
	store     store.Store
	comfort   *ComfortRatingService
	publisher messaging.Publisher
	guard     *ReviewGuard
	logger    *logrus.Logger
	now       func() time.Time
}

func NewCatalogService(logger *logrus.Logger, st store.Store, comfort *ComfortRatingService, publisher messaging.Publisher) *CatalogService {
	return &CatalogService{
		store:     st,
		comfort:   comfort,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// UseReviewGuard screens new reviews with g before they are stored.
func (s *CatalogService) UseReviewGuard(g *ReviewGuard) {
	s.guard = g
}

// ListProducts returns products matching filter. When filtering by shop the
// returned sources are narrowed to that shop and availability is recounted.
func (s *CatalogService) ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, validationErrorf("category", "unknown category %q", filter.Category)
	}

	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	if filter.ShopName != "" {
		for _, p := range products {
			var sources []models.Source
			available := 0
			for _, src := range p.Sources {
				if src.ShopName != filter.ShopName {
					continue
				}
				sources = append(sources, src)
				if src.InStock {
					available++
				}
			}
			p.Sources = sources
			p.AvailableAt = available
		}
	}
	return products, nil
}

// GetProduct returns a product with its sources ordered by price.
func (s *CatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, notFound("product", err)
	}
	sort.SliceStable(p.Sources, func(i, j int) bool { return p.Sources[i].Price < p.Sources[j].Price })
	return p, nil
}

// CreateProduct stores a new product with its derived fields computed.
func (s *CatalogService) CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error) {
	if !req.Category.Valid() {
		return nil, validationErrorf("category", "unknown category %q", req.Category)
	}

	now := s.now()
	p := &models.Product{
		ID:             uuid.New(),
		Name:           req.Name,
		Category:       req.Category,
		Brand:          req.Brand,
		Model:          req.Model,
		Specifications: req.Specifications,
		ImageURL:       req.ImageURL,
		Ratings:        models.Ratings{BySource: req.Ratings},
	}
	for _, src := range req.Sources {
		if src.LastUpdated.IsZero() {
			src.LastUpdated = now
		}
		p.UpsertSource(src)
	}
	p.EnsureGroupKey()
	p.UpdatePriceRange()
	p.UpdateRatings()

	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"product_id": p.ID,
		"group_key":  p.GroupKey,
		"sources":    p.TotalSources,
	}).Info("Product created")
	publishEvent(ctx, s.publisher, s.logger, messaging.NewEvent(messaging.EventProductCreated, p.ID))
	return p, nil
}

// UpsertSource adds or replaces the listing of src.ShopName on a product.
func (s *CatalogService) UpsertSource(ctx context.Context, productID uuid.UUID, src models.Source) (*models.Product, error) {
	src.LastUpdated = s.now()
	p, err := modifyProduct(ctx, s.store, productID, func(p *models.Product) {
		p.UpsertSource(src)
	})
	if err != nil {
		return nil, notFound("product", err)
	}

	s.comfort.Invalidate(ctx, p.ID)
	event := messaging.NewEvent(messaging.EventSourceUpdated, p.ID)
	event.Attributes = map[string]interface{}{"shop_name": src.ShopName, "price": src.Price, "in_stock": src.InStock}
	publishEvent(ctx, s.publisher, s.logger, event)
	return p, nil
}

const maxWriteAttempts = 5

// modifyProduct applies mutate to the current record and writes it back,
// re-reading and retrying when another writer got there first.
func modifyProduct(ctx context.Context, st store.ProductStore, id uuid.UUID, mutate func(*models.Product)) (*models.Product, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		p, err := st.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		readAt := p.UpdatedAt
		mutate(p)

		err = st.UpdateProductIfUnchanged(ctx, p, readAt)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("product %s kept changing: %w", id, store.ErrConflict)
}

// CompareSources lists a product's shops cheapest first. The best deal is
// the in-stock listing with the lowest price plus shipping.
func (s *CatalogService) CompareSources(ctx context.Context, productID uuid.UUID) (*models.ProductComparison, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, notFound("product", err)
	}

	cmp := &models.ProductComparison{
		ProductName: p.Name,
		Brand:       p.Brand,
		Model:       p.Model,
		PriceRange:  p.PriceRange,
		Sources:     make([]models.SourceComparison, 0, len(p.Sources)),
	}
	for _, src := range p.Sources {
		cmp.Sources = append(cmp.Sources, models.SourceComparison{
			ShopName:    src.ShopName,
			Price:       src.Price,
			InStock:     src.InStock,
			URL:         src.ProductURL,
			Shipping:    src.Shipping,
			Rating:      p.SourceRatingFor(src.ShopName),
			LastUpdated: src.LastUpdated,
			TotalCost:   src.Price + src.Shipping.Cost,
		})
	}
	sort.SliceStable(cmp.Sources, func(i, j int) bool { return cmp.Sources[i].Price < cmp.Sources[j].Price })

	for i := range cmp.Sources {
		c := &cmp.Sources[i]
		if !c.InStock {
			continue
		}
		if cmp.BestDeal == nil || c.TotalCost < cmp.BestDeal.TotalCost {
			best := *c
			cmp.BestDeal = &best
		}
	}
	return cmp, nil
}

// GroupedProducts buckets the catalog by group key. Each group is labelled
// with its first product.
func (s *CatalogService) GroupedProducts(ctx context.Context, filter models.ProductFilter) ([]models.ProductGroup, error) {
	products, err := s.ListProducts(ctx, models.ProductFilter{Category: filter.Category, Search: filter.Search})
	if err != nil {
		return nil, err
	}

	groups := make([]models.ProductGroup, 0)
	for _, members := range GroupProducts(products) {
		first := members[0]
		groups = append(groups, models.ProductGroup{
			GroupKey: first.GroupKey,
			Name:     first.Name,
			Brand:    first.Brand,
			Model:    first.Model,
			Category: first.Category,
			Products: members,
		})
	}
	return groups, nil
}

// Shops lists every shop with a listing, with product and in-stock counts.
func (s *CatalogService) Shops(ctx context.Context) ([]models.ShopSummary, error) {
	products, err := s.store.ListProducts(ctx, models.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	index := make(map[string]*models.ShopSummary)
	for _, p := range products {
		counted := make(map[string]bool)
		inStock := make(map[string]bool)
		for _, src := range p.Sources {
			counted[src.ShopName] = true
			if src.InStock {
				inStock[src.ShopName] = true
			}
		}
		for name := range counted {
			summary, ok := index[name]
			if !ok {
				summary = &models.ShopSummary{Name: name}
				index[name] = summary
			}
			summary.ProductCount++
			if inStock[name] {
				summary.AvailableCount++
			}
		}
	}

	shops := make([]models.ShopSummary, 0, len(index))
	for _, summary := range index {
		shops = append(shops, *summary)
	}
	sort.Slice(shops, func(i, j int) bool { return shops[i].Name < shops[j].Name })
	return shops, nil
}

// CreateReview records a user's platform review. A user may review a product
// once; a second attempt yields ErrDuplicateReview.
func (s *CatalogService) CreateReview(ctx context.Context, productID, userID uuid.UUID, req *models.CreateReviewRequest) (*models.Review, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, notFound("product", err)
	}
	if err := s.guard.Check(ctx, userID, req); err != nil {
		return nil, err
	}

	review := &models.Review{
		ID:             uuid.New(),
		UserID:         userID,
		ProductID:      productID,
		Rating:         req.Rating,
		Comment:        req.Comment,
		ComfortRatings: req.ComfortRatings,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicateReview
		}
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	if err := s.store.AppendReviewRef(ctx, productID, review.ID); err != nil {
		return nil, fmt.Errorf("failed to reference review: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"product_id": productID,
		"user_id":    userID,
		"rating":     review.Rating,
	}).Info("Review created")

	s.comfort.Invalidate(ctx, productID)
	event := messaging.NewEvent(messaging.EventReviewCreated, productID)
	event.UserID = userID
	event.Attributes = map[string]interface{}{"review_id": review.ID.String(), "rating": review.Rating}
	publishEvent(ctx, s.publisher, s.logger, event)
	return review, nil
}

// ListReviews returns a product's platform reviews, newest first.
func (s *CatalogService) ListReviews(ctx context.Context, productID uuid.UUID) ([]models.Review, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, notFound("product", err)
	}
	reviews, err := s.store.ListReviewsByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	return reviews, nil
}

