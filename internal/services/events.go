package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/messaging"
)

// HandleEvent refreshes derived comfort data after catalog events. Products
// that no longer exist (merged away by a reconcile) are skipped.
func (s *ComfortRatingService) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventReviewCreated, messaging.EventSourceUpdated, messaging.EventProductCreated, messaging.EventCatalogReconciled:
	case messaging.EventModelTrained:
		// every cached entry is keyed by the old version and simply stops matching
		s.ready.Store(false)
		return s.EnsureModel(ctx)
	default:
		return nil
	}

	s.Invalidate(ctx, event.ProductIDs...)

	var errs []error
	for _, id := range event.ProductIDs {
		if err := s.RescoreProduct(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			errs = append(errs, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"products":   len(event.ProductIDs),
		"failed":     len(errs),
	}).Debug("Handled catalog event")
	return errors.Join(errs...)
}

// publishEvent publishes best effort; a lost event only delays derived data.
func publishEvent(ctx context.Context, publisher messaging.Publisher, logger *logrus.Logger, event *messaging.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
	}
}
