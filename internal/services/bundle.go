package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

// BundleService manages saved PC bundles. A bundle caches its compatibility
// score and comfort profile at creation time; both are recomputable from the
// referenced products.
type BundleService struct {
	store     store.Store
	comfort   *ComfortRatingService
	publisher messaging.Publisher
	logger    *logrus.Logger
}

func NewBundleService(logger *logrus.Logger, st store.Store, comfort *ComfortRatingService, publisher messaging.Publisher) *BundleService {
	return &BundleService{
		store:     st,
		comfort:   comfort,
		publisher: publisher,
		logger:    logger,
	}
}

// CheckParts runs the compatibility checker and records the outcome.
func CheckParts(parts models.PartSet) *models.CompatibilityReport {
	report := CheckCompatibility(parts)
	compatibilityChecks.WithLabelValues(strconv.FormatBool(report.Compatible)).Inc()
	return report
}

// Create validates the requested parts and shop selections, then stores the
// bundle with its price, compatibility score and comfort profile. When the
// comfort model cannot score any part the caller's profile is kept.
func (s *BundleService) Create(ctx context.Context, userID uuid.UUID, req *models.CreateBundleRequest) (*models.Bundle, *models.CompatibilityReport, *models.BundleComfortResult, error) {
	if len(req.Parts) == 0 {
		return nil, nil, nil, validationErrorf("parts", "at least one part is required")
	}

	categories := make([]models.Category, 0, len(req.Parts))
	for c := range req.Parts {
		categories = append(categories, c)
	}
	sortCategories(categories)

	parts := make(models.PartSet, len(req.Parts))
	bundle := &models.Bundle{
		ID:       uuid.New(),
		UserID:   userID,
		Name:     req.Name,
		Notes:    req.Notes,
		IsPublic: req.IsPublic,
		Items:    make([]models.BundleItem, 0, len(req.Parts)),
	}

	for _, category := range categories {
		part := req.Parts[category]
		if !category.Valid() {
			return nil, nil, nil, validationErrorf("parts", "unknown category %q", category)
		}

		p, err := s.store.GetProduct(ctx, part.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil, nil, validationErrorf(string(category), "product %s not found", part.ProductID)
			}
			return nil, nil, nil, fmt.Errorf("failed to load %s: %w", category, err)
		}
		if p.Category != category {
			return nil, nil, nil, validationErrorf(string(category), "product %s is a %s", p.ID, p.Category)
		}

		src, ok := p.FindSource(part.ShopName)
		if !ok {
			return nil, nil, nil, validationErrorf(string(category), "product %s is not sold by %q", p.ID, part.ShopName)
		}

		parts[category] = p
		bundle.TotalPrice += src.Price
		bundle.Items = append(bundle.Items, models.BundleItem{
			ProductID: p.ID,
			Category:  category,
			SelectedSource: models.SelectedSource{
				ShopName:   src.ShopName,
				Price:      src.Price,
				ProductURL: src.ProductURL,
				Shipping:   src.Shipping,
			},
		})
	}

	report := CheckParts(parts)
	bundle.CompatibilityScore = report.Score

	comfort, err := s.comfort.ScoreBundle(ctx, parts)
	switch {
	case err == nil && len(comfort.Components) > 0:
		bundle.ComfortProfile = comfort.Profile()
	case req.ComfortProfile != nil:
		s.logger.WithError(err).WithField("bundle_id", bundle.ID).Warn("Comfort scoring unavailable, keeping provided profile")
		bundle.ComfortProfile = *req.ComfortProfile
	}

	if err := s.store.CreateBundle(ctx, bundle); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create bundle: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bundle_id":     bundle.ID,
		"user_id":       userID,
		"parts":         len(bundle.Items),
		"total_price":   bundle.TotalPrice,
		"compatibility": bundle.CompatibilityScore,
	}).Info("Bundle created")

	event := messaging.NewEvent(messaging.EventBundleCreated, productIDs(bundle)...)
	event.BundleID = bundle.ID
	event.UserID = userID
	publishEvent(ctx, s.publisher, s.logger, event)

	return bundle, report, comfort, nil
}

// ListOwn returns the user's bundles, newest first.
func (s *BundleService) ListOwn(ctx context.Context, userID uuid.UUID) ([]*models.Bundle, error) {
	bundles, err := s.store.ListBundlesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	if bundles == nil {
		bundles = []*models.Bundle{}
	}
	return bundles, nil
}

// Get returns a bundle the user owns or that is public. A bundle saved
// without a comfort profile gets one computed and stored on read.
func (s *BundleService) Get(ctx context.Context, id, userID uuid.UUID) (*models.Bundle, error) {
	b, err := s.store.GetBundle(ctx, id)
	if err != nil {
		return nil, notFound("bundle", err)
	}
	if b.UserID != userID && !b.IsPublic {
		return nil, ErrForbidden
	}

	if b.ComfortProfile.Overall == 0 {
		if err := s.refreshComfort(ctx, b); err != nil {
			s.logger.WithError(err).WithField("bundle_id", b.ID).Warn("Failed to recalculate bundle comfort")
		}
	}
	return b, nil
}

func (s *BundleService) refreshComfort(ctx context.Context, b *models.Bundle) error {
	parts, _, err := s.loadParts(ctx, b)
	if err != nil {
		return err
	}
	comfort, err := s.comfort.ScoreBundle(ctx, parts)
	if err != nil {
		return err
	}
	if comfort.Overall == 0 {
		return nil
	}
	b.ComfortProfile = comfort.Profile()
	return s.store.UpdateBundle(ctx, b)
}

// loadParts resolves a bundle's items. Products removed since the bundle
// was saved are left out and their categories returned as missing.
func (s *BundleService) loadParts(ctx context.Context, b *models.Bundle) (models.PartSet, []models.Category, error) {
	parts := make(models.PartSet, len(b.Items))
	var missing []models.Category
	for _, item := range b.Items {
		p, err := s.store.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.logger.WithFields(logrus.Fields{
					"bundle_id":  b.ID,
					"product_id": item.ProductID,
				}).Warn("Bundle references a missing product")
				missing = append(missing, item.Category)
				continue
			}
			return nil, nil, fmt.Errorf("failed to load %s: %w", item.Category, err)
		}
		parts[item.Category] = p
	}
	return parts, missing, nil
}

// Update changes the owner-editable fields of a bundle.
func (s *BundleService) Update(ctx context.Context, id, userID uuid.UUID, req *models.UpdateBundleRequest) (*models.Bundle, error) {
	b, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, validationErrorf("name", "must not be empty")
		}
		b.Name = *req.Name
	}
	if req.Notes != nil {
		b.Notes = *req.Notes
	}
	if req.IsPublic != nil {
		b.IsPublic = *req.IsPublic
	}

	if err := s.store.UpdateBundle(ctx, b); err != nil {
		return nil, notFound("bundle", err)
	}
	return b, nil
}

func (s *BundleService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	if err := s.store.DeleteBundle(ctx, id); err != nil {
		return notFound("bundle", err)
	}
	s.logger.WithFields(logrus.Fields{"bundle_id": id, "user_id": userID}).Info("Bundle deleted")
	return nil
}

func (s *BundleService) owned(ctx context.Context, id, userID uuid.UUID) (*models.Bundle, error) {
	b, err := s.store.GetBundle(ctx, id)
	if err != nil {
		return nil, notFound("bundle", err)
	}
	if b.UserID != userID {
		return nil, ErrForbidden
	}
	return b, nil
}

// Evaluate recomputes compatibility and comfort for a bundle from the current
// state of its products.
func (s *BundleService) Evaluate(ctx context.Context, id, userID uuid.UUID) (*models.BundleEvaluation, error) {
	b, err := s.store.GetBundle(ctx, id)
	if err != nil {
		return nil, notFound("bundle", err)
	}
	if b.UserID != userID && !b.IsPublic {
		return nil, ErrForbidden
	}

	parts, missing, err := s.loadParts(ctx, b)
	if err != nil {
		return nil, err
	}

	eval := &models.BundleEvaluation{
		Bundle:        b,
		Compatibility: CheckParts(parts),
	}
	for _, category := range missing {
		eval.Compatibility.Warnings = append(eval.Compatibility.Warnings,
			fmt.Sprintf("%s product is no longer in the catalog and was not checked", category))
	}
	comfort, err := s.comfort.ScoreBundle(ctx, parts)
	if err != nil {
		s.logger.WithError(err).WithField("bundle_id", b.ID).Warn("Comfort scoring failed during evaluation")
	} else {
		eval.Comfort = comfort
	}
	return eval, nil
}

func productIDs(b *models.Bundle) []uuid.UUID {
	ids := make([]uuid.UUID, len(b.Items))
	for i, item := range b.Items {
		ids[i] = item.ProductID
	}
	return ids
}
