package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/comport/pkg/models"
)

// MemoryStore is a process-local Store. Records are copied on the way in and
// out so callers never share state with the store, matching the per-document
// semantics of the Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	products map[uuid.UUID]*productRecord
	reviews  map[uuid.UUID]*models.Review
	bundles  map[uuid.UUID]*models.Bundle
}

type productRecord struct {
	seq     int64
	product *models.Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[uuid.UUID]*productRecord),
		reviews:  make(map[uuid.UUID]*models.Review),
		bundles:  make(map[uuid.UUID]*models.Bundle),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*productRecord, 0, len(s.products))
	search := strings.ToLower(filter.Search)
	for _, rec := range s.products {
		p := rec.product
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.MinPrice != nil && p.PriceRange.Average < *filter.MinPrice {
			continue
		}
		if filter.MaxPrice != nil && p.PriceRange.Average > *filter.MaxPrice {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Brand), search) &&
			!strings.Contains(strings.ToLower(p.Model), search) {
			continue
		}
		if filter.ShopName != "" {
			if _, ok := p.FindSource(filter.ShopName); !ok {
				continue
			}
		}
		if filter.InStockOnly && p.AvailableAt == 0 {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if less, decided := compareProducts(filter.Sort, a.product, b.product); decided {
			return less
		}
		if !a.product.CreatedAt.Equal(b.product.CreatedAt) {
			return a.product.CreatedAt.Before(b.product.CreatedAt)
		}
		return a.seq < b.seq
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	products := make([]*models.Product, len(records))
	for i, rec := range records {
		products[i] = cloneProduct(rec.product)
	}
	return products, nil
}

// compareProducts orders by the requested sort key; decided is false on ties.
func compareProducts(sortKey string, a, b *models.Product) (less, decided bool) {
	var x, y float64
	desc := true
	switch sortKey {
	case "price_asc":
		x, y, desc = a.PriceRange.Average, b.PriceRange.Average, false
	case "price_desc":
		x, y = a.PriceRange.Average, b.PriceRange.Average
	case "rating":
		x, y = a.Ratings.Overall.Average, b.Ratings.Overall.Average
	case "availability":
		x, y = float64(a.AvailableAt), float64(b.AvailableAt)
	case "newest":
		x, y = float64(a.CreatedAt.UnixNano()), float64(b.CreatedAt.UnixNano())
	default:
		return false, false
	}
	if x == y {
		return false, false
	}
	if desc {
		return x > y, true
	}
	return x < y, true
}

func (s *MemoryStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProduct(rec.product), nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := s.products[p.ID]; exists {
		return ErrConflict
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.seq++
	s.products[p.ID] = &productRecord{seq: s.seq, product: cloneProduct(p)}
	return nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = rec.product.CreatedAt
	p.UpdatedAt = time.Now()
	rec.product = cloneProduct(p)
	return nil
}

func (s *MemoryStore) UpdateProductIfUnchanged(ctx context.Context, p *models.Product, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	if !rec.product.UpdatedAt.Equal(readAt) {
		return ErrConflict
	}
	p.CreatedAt = rec.product.CreatedAt
	p.UpdatedAt = time.Now()
	rec.product = cloneProduct(p)
	return nil
}

func (s *MemoryStore) SetComfortScore(ctx context.Context, id uuid.UUID, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	rec.product.ComfortScore = score
	rec.product.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AppendReviewRef(ctx context.Context, id, reviewID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	if rec.product.HasReviewRef(reviewID) {
		return nil
	}
	rec.product.PlatformReviews = append(rec.product.PlatformReviews, reviewID)
	rec.product.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetReviewRefs(ctx context.Context, id uuid.UUID, refs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	rec.product.PlatformReviews = append([]uuid.UUID(nil), refs...)
	rec.product.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	// mirrors ON DELETE CASCADE
	for rid, r := range s.reviews {
		if r.ProductID == id {
			delete(s.reviews, rid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateReview(ctx context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasReviewLocked(r.UserID, r.ProductID, uuid.Nil) {
		return ErrConflict
	}

	now := time.Now()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	cp := cloneReview(*r)
	s.reviews[r.ID] = &cp
	return nil
}

func (s *MemoryStore) hasReviewLocked(userID, productID, except uuid.UUID) bool {
	for id, existing := range s.reviews {
		if id != except && existing.UserID == userID && existing.ProductID == productID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListReviewsByProduct(ctx context.Context, productID uuid.UUID) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reviews []models.Review
	for _, r := range s.reviews {
		if r.ProductID == productID {
			reviews = append(reviews, cloneReview(*r))
		}
	}
	sortReviews(reviews)
	return reviews, nil
}

func (s *MemoryStore) ListReviewsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool, len(ids))
	var reviews []models.Review
	for _, id := range ids {
		if r, ok := s.reviews[id]; ok && !seen[id] {
			seen[id] = true
			reviews = append(reviews, cloneReview(*r))
		}
	}
	sortReviews(reviews)
	return reviews, nil
}

func sortReviews(reviews []models.Review) {
	sort.Slice(reviews, func(i, j int) bool {
		if !reviews[i].CreatedAt.Equal(reviews[j].CreatedAt) {
			return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
		}
		return reviews[i].ID.String() < reviews[j].ID.String()
	})
}

func (s *MemoryStore) ReassignReview(ctx context.Context, id, productID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[id]
	if !ok {
		return ErrNotFound
	}
	if s.hasReviewLocked(r.UserID, productID, id) {
		return ErrConflict
	}
	r.ProductID = productID
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteReview(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviews[id]; !ok {
		return ErrNotFound
	}
	delete(s.reviews, id)
	return nil
}

func (s *MemoryStore) CreateBundle(ctx context.Context, b *models.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt, b.UpdatedAt = now, now
	s.bundles[b.ID] = cloneBundle(b)
	return nil
}

func (s *MemoryStore) GetBundle(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBundle(b), nil
}

func (s *MemoryStore) ListBundlesByUser(ctx context.Context, userID uuid.UUID) ([]*models.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bundles []*models.Bundle
	for _, b := range s.bundles {
		if b.UserID == userID {
			bundles = append(bundles, cloneBundle(b))
		}
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].CreatedAt.After(bundles[j].CreatedAt) })
	return bundles, nil
}

func (s *MemoryStore) UpdateBundle(ctx context.Context, b *models.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bundles[b.ID]
	if !ok {
		return ErrNotFound
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now()
	s.bundles[b.ID] = cloneBundle(b)
	return nil
}

func (s *MemoryStore) DeleteBundle(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bundles[id]; !ok {
		return ErrNotFound
	}
	delete(s.bundles, id)
	return nil
}

func (s *MemoryStore) ReassignBundleItems(ctx context.Context, from, to uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, b := range s.bundles {
		touched := false
		for i := range b.Items {
			if b.Items[i].ProductID == from {
				b.Items[i].ProductID = to
				touched = true
			}
		}
		if touched {
			b.UpdatedAt = time.Now()
			changed++
		}
	}
	return changed, nil
}

func cloneProduct(p *models.Product) *models.Product {
	cp := *p
	if p.Specifications != nil {
		cp.Specifications = make(models.Specifications, len(p.Specifications))
		for k, v := range p.Specifications {
			cp.Specifications[k] = v
		}
	}
	cp.Sources = append([]models.Source(nil), p.Sources...)
	cp.Ratings.BySource = append([]models.SourceRating(nil), p.Ratings.BySource...)
	cp.PlatformReviews = append([]uuid.UUID(nil), p.PlatformReviews...)
	return &cp
}

func cloneReview(r models.Review) models.Review {
	cr := &r.ComfortRatings
	cr.Ease = cloneInt(cr.Ease)
	cr.Performance = cloneInt(cr.Performance)
	cr.Noise = cloneInt(cr.Noise)
	cr.Temperature = cloneInt(cr.Temperature)
	return r
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneBundle(b *models.Bundle) *models.Bundle {
	cp := *b
	cp.Items = append([]models.BundleItem(nil), b.Items...)
	return &cp
}
