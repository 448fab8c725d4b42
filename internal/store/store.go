package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/comport/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a uniqueness constraint is violated,
	// e.g. a second review by the same user on the same product.
	ErrConflict = errors.New("record conflicts with an existing one")
)

// ProductStore persists products. UpdateProduct replaces the whole record;
// callers that change a single field use the narrow setters so a concurrent
// merge is not overwritten by a stale copy.
// A zero filter lists every product ordered by creation time.
type ProductStore interface {
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	// UpdateProductIfUnchanged replaces the record only if it has not been
	// written since it was read with UpdatedAt == readAt. Otherwise it
	// returns ErrConflict and the caller re-reads.
	UpdateProductIfUnchanged(ctx context.Context, p *models.Product, readAt time.Time) error

	SetComfortScore(ctx context.Context, id uuid.UUID, score int) error
	// AppendReviewRef adds reviewID to the product's references unless it is
	// already there.
	AppendReviewRef(ctx context.Context, id, reviewID uuid.UUID) error
	SetReviewRefs(ctx context.Context, id uuid.UUID, refs []uuid.UUID) error
}

// ReviewStore persists reviews with a uniqueness constraint on (user, product).
type ReviewStore interface {
	CreateReview(ctx context.Context, r *models.Review) error
	ListReviewsByProduct(ctx context.Context, productID uuid.UUID) ([]models.Review, error)
	ListReviewsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Review, error)
	ReassignReview(ctx context.Context, id, productID uuid.UUID) error
	DeleteReview(ctx context.Context, id uuid.UUID) error
}

type BundleStore interface {
	CreateBundle(ctx context.Context, b *models.Bundle) error
	GetBundle(ctx context.Context, id uuid.UUID) (*models.Bundle, error)
	ListBundlesByUser(ctx context.Context, userID uuid.UUID) ([]*models.Bundle, error)
	UpdateBundle(ctx context.Context, b *models.Bundle) error
	DeleteBundle(ctx context.Context, id uuid.UUID) error
	// ReassignBundleItems points every bundle item referencing from at to and
	// returns the number of bundles changed. Running it twice is a no-op.
	ReassignBundleItems(ctx context.Context, from, to uuid.UUID) (int, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	ProductStore
	ReviewStore
	BundleStore
	Ping(ctx context.Context) error
}
