package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

// ReconcilerService merges duplicate products (same group key) into the
// earliest created one. The merge is a sequence of individually atomic
// writes ordered so that re-running after a failure at any step converges
// on the same catalog:
//
//  1. collect every review attached to the group, by product and by reference
//  2. keep the newest review per user and delete the rest
//  3. move surviving reviews and bundle items onto the primary
//  4. clear the duplicates' review references
//  5. re-read the group, then save the primary with merged sources, shop
//     ratings and references
//  6. delete the duplicates
type ReconcilerService struct {
	store     store.Store
	comfort   *ComfortRatingService
	publisher messaging.Publisher
	logger    *logrus.Logger

	mu sync.Mutex
}

func NewReconcilerService(logger *logrus.Logger, st store.Store, comfort *ComfortRatingService, publisher messaging.Publisher) *ReconcilerService {
	return &ReconcilerService{
		store:     st,
		comfort:   comfort,
		publisher: publisher,
		logger:    logger,
	}
}

// GroupProducts buckets products by group key preserving their order.
// Products without a stored key are grouped by the key their brand and model
// would produce.
func GroupProducts(products []*models.Product) [][]*models.Product {
	index := make(map[string]int)
	var groups [][]*models.Product
	for _, p := range products {
		key := p.GroupKey
		if key == "" {
			key = models.GroupKey(p.Brand, p.Model)
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], p)
	}
	return groups
}

// Reconcile merges every duplicate group in the catalog.
func (s *ReconcilerService) Reconcile(ctx context.Context) (*models.ReconcileSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	products, err := s.store.ListProducts(ctx, models.ProductFilter{})
	if err != nil {
		reconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	groups := GroupProducts(products)
	summary := &models.ReconcileSummary{TotalGroups: len(groups)}
	var touched []uuid.UUID

	for _, group := range groups {
		if len(group) > 1 {
			deleted, err := s.mergeGroup(ctx, group)
			if err != nil {
				reconcileRuns.WithLabelValues("error").Inc()
				return summary, fmt.Errorf("failed to merge group %q: %w", group[0].GroupKey, err)
			}
			summary.Merged += len(group) - 1
			reconcileMerged.Add(float64(len(group) - 1))
			reconcileDeletedReviews.Add(float64(deleted))
			for _, p := range group {
				touched = append(touched, p.ID)
			}
		}
		summary.Kept++
	}

	reconcileRuns.WithLabelValues("ok").Inc()
	s.logger.WithFields(logrus.Fields{
		"total_groups": summary.TotalGroups,
		"merged":       summary.Merged,
		"kept":         summary.Kept,
		"duration":     time.Since(start),
	}).Info("Catalog reconciled")

	if len(touched) > 0 {
		if s.comfort != nil {
			s.comfort.Invalidate(ctx, touched...)
		}
		publishEvent(ctx, s.publisher, s.logger, messaging.NewEvent(messaging.EventCatalogReconciled, touched...))
	}
	return summary, nil
}

// mergeGroup folds group[1:] into group[0] and returns the number of reviews
// deleted as same-user duplicates.
func (s *ReconcilerService) mergeGroup(ctx context.Context, group []*models.Product) (int, error) {
	primary, duplicates := group[0], group[1:]
	logger := s.logger.WithFields(logrus.Fields{
		"group_key":  primary.GroupKey,
		"primary_id": primary.ID,
		"duplicates": len(duplicates),
	})

	reviews, err := s.collectGroupReviews(ctx, group)
	if err != nil {
		return 0, err
	}

	survivors, stale := newestReviewPerUser(reviews)
	for _, r := range stale {
		if err := s.store.DeleteReview(ctx, r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("failed to delete duplicate review %s: %w", r.ID, err)
		}
	}

	for _, r := range survivors {
		if r.ProductID == primary.ID {
			continue
		}
		if err := s.store.ReassignReview(ctx, r.ID, primary.ID); err != nil {
			return 0, fmt.Errorf("failed to move review %s: %w", r.ID, err)
		}
	}

	for _, dup := range duplicates {
		moved, err := s.store.ReassignBundleItems(ctx, dup.ID, primary.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to move bundle items of %s: %w", dup.ID, err)
		}
		if moved > 0 {
			logger.WithFields(logrus.Fields{"duplicate_id": dup.ID, "bundles": moved}).Info("Moved bundle items to primary")
		}
	}

	for _, dup := range duplicates {
		if len(dup.PlatformReviews) == 0 {
			continue
		}
		if err := s.store.SetReviewRefs(ctx, dup.ID, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("failed to clear review references of %s: %w", dup.ID, err)
		}
	}

	duplicates, err = s.savePrimary(ctx, primary.ID, duplicates, survivors)
	if err != nil {
		return 0, err
	}

	for _, dup := range duplicates {
		if err := s.store.DeleteProduct(ctx, dup.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("failed to delete duplicate %s: %w", dup.ID, err)
		}
	}

	logger.WithField("deleted_reviews", len(stale)).Info("Merged duplicate products")
	return len(stale), nil
}

// savePrimary merges the freshly read group into the primary and writes it,
// starting over when a concurrent write lands in between. It returns the
// duplicates that still exist.
func (s *ReconcilerService) savePrimary(ctx context.Context, primaryID uuid.UUID, duplicates []*models.Product, survivors []models.Review) ([]*models.Product, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		primary, current, merged, err := s.refreshGroup(ctx, primaryID, duplicates, survivors)
		if err != nil {
			return nil, err
		}
		readAt := primary.UpdatedAt

		mergeInto(primary, current, merged)
		err = s.store.UpdateProductIfUnchanged(ctx, primary, readAt)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("failed to save primary %s: %w", primaryID, err)
		}
	}
	return nil, fmt.Errorf("failed to save primary %s: %w", primaryID, store.ErrConflict)
}

// refreshGroup re-reads the group so writes that landed after the catalog was
// listed (sources, comfort score, new reviews) are carried into the merge.
// Reviews referenced by the fresh primary but created after collection are
// added to survivors.
func (s *ReconcilerService) refreshGroup(ctx context.Context, primaryID uuid.UUID, duplicates []*models.Product, survivors []models.Review) (*models.Product, []*models.Product, []models.Review, error) {
	fresh, err := s.store.GetProduct(ctx, primaryID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to reload primary %s: %w", primaryID, err)
	}

	current := make([]*models.Product, 0, len(duplicates))
	for _, dup := range duplicates {
		p, err := s.store.GetProduct(ctx, dup.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, nil, nil, fmt.Errorf("failed to reload duplicate %s: %w", dup.ID, err)
		}
		current = append(current, p)
	}

	known := make(map[uuid.UUID]bool, len(survivors))
	for _, r := range survivors {
		known[r.ID] = true
	}
	var unknown []uuid.UUID
	for _, id := range fresh.PlatformReviews {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		late, err := s.store.ListReviewsByIDs(ctx, unknown)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load new reviews of %s: %w", fresh.ID, err)
		}
		merged := append([]models.Review(nil), survivors...)
		for _, r := range late {
			if r.ProductID == fresh.ID {
				merged = append(merged, r)
			}
		}
		survivors = merged
	}
	return fresh, current, survivors, nil
}

// collectGroupReviews returns the reviews attached to any member of the group
// either by product id or through a member's reference list. Referenced
// reviews that belong to a product outside the group are left alone.
func (s *ReconcilerService) collectGroupReviews(ctx context.Context, group []*models.Product) ([]models.Review, error) {
	members := make(map[uuid.UUID]bool, len(group))
	var refs []uuid.UUID
	for _, p := range group {
		members[p.ID] = true
		refs = append(refs, p.PlatformReviews...)
	}

	seen := make(map[uuid.UUID]bool)
	var reviews []models.Review
	add := func(rs []models.Review) {
		for _, r := range rs {
			if !seen[r.ID] && members[r.ProductID] {
				seen[r.ID] = true
				reviews = append(reviews, r)
			}
		}
	}

	for _, p := range group {
		rs, err := s.store.ListReviewsByProduct(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load reviews of %s: %w", p.ID, err)
		}
		add(rs)
	}
	if len(refs) > 0 {
		rs, err := s.store.ListReviewsByIDs(ctx, refs)
		if err != nil {
			return nil, fmt.Errorf("failed to load referenced reviews: %w", err)
		}
		add(rs)
	}
	return reviews, nil
}

// newestReviewPerUser splits reviews into the newest per user and the rest.
// Ties on creation time are broken by id so repeated runs agree.
func newestReviewPerUser(reviews []models.Review) (survivors, stale []models.Review) {
	sorted := append([]models.Review(nil), reviews...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID.String() > sorted[j].ID.String()
	})

	users := make(map[uuid.UUID]bool)
	for _, r := range sorted {
		if users[r.UserID] {
			stale = append(stale, r)
			continue
		}
		users[r.UserID] = true
		survivors = append(survivors, r)
	}
	return survivors, stale
}

// mergeInto unions sources and shop ratings into primary (first shop name
// seen wins), points its review references at survivors and re-derives the
// aggregate fields.
func mergeInto(primary *models.Product, duplicates []*models.Product, survivors []models.Review) {
	shops := make(map[string]bool)
	var sources []models.Source
	ratingShops := make(map[string]bool)
	var bySource []models.SourceRating

	for _, p := range append([]*models.Product{primary}, duplicates...) {
		for _, src := range p.Sources {
			if !shops[src.ShopName] {
				shops[src.ShopName] = true
				sources = append(sources, src)
			}
		}
		for _, r := range p.Ratings.BySource {
			if !ratingShops[r.ShopName] {
				ratingShops[r.ShopName] = true
				bySource = append(bySource, r)
			}
		}
	}

	alive := make(map[uuid.UUID]bool, len(survivors))
	for _, r := range survivors {
		alive[r.ID] = true
	}
	// keep the primary's existing order, then append moved reviews oldest first
	var refs []uuid.UUID
	listed := make(map[uuid.UUID]bool)
	for _, id := range primary.PlatformReviews {
		if alive[id] && !listed[id] {
			listed[id] = true
			refs = append(refs, id)
		}
	}
	for i := len(survivors) - 1; i >= 0; i-- {
		if id := survivors[i].ID; !listed[id] {
			listed[id] = true
			refs = append(refs, id)
		}
	}

	primary.Sources = sources
	primary.Ratings.BySource = bySource
	primary.PlatformReviews = refs
	primary.EnsureGroupKey()
	primary.UpdatePriceRange()
	primary.UpdateRatings()
}

// RunPeriodically reconciles every interval until ctx is done.
func (s *ReconcilerService) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.WithError(err).Error("Scheduled reconcile failed")
			}
		}
	}
}
