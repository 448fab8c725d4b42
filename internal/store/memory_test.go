package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/comport/pkg/models"
)

func TestMemoryStore_Products(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cheap := &models.Product{Name: "Cheap", Category: models.CategoryRAM, Brand: "A", Model: "1",
		Sources: []models.Source{{ShopName: "shop-a", Price: 50, InStock: true}}}
	cheap.UpdatePriceRange()
	pricey := &models.Product{Name: "Pricey", Category: models.CategoryRAM, Brand: "B", Model: "2",
		Sources: []models.Source{{ShopName: "shop-b", Price: 150}}}
	pricey.UpdatePriceRange()
	gpu := &models.Product{Name: "GPU", Category: models.CategoryGPU, Brand: "C", Model: "3"}

	for _, p := range []*models.Product{cheap, pricey, gpu} {
		require.NoError(t, s.CreateProduct(ctx, p))
		require.NotEqual(t, uuid.Nil, p.ID)
	}

	t.Run("InsertionOrderByDefault", func(t *testing.T) {
		all, err := s.ListProducts(ctx, models.ProductFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uuid.UUID{cheap.ID, pricey.ID, gpu.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})
	})

	t.Run("Filters", func(t *testing.T) {
		ram, _ := s.ListProducts(ctx, models.ProductFilter{Category: models.CategoryRAM, Sort: "price_desc"})
		require.Len(t, ram, 2)
		assert.Equal(t, pricey.ID, ram[0].ID)

		inStock, _ := s.ListProducts(ctx, models.ProductFilter{InStockOnly: true})
		require.Len(t, inStock, 1)
		assert.Equal(t, cheap.ID, inStock[0].ID)

		byShop, _ := s.ListProducts(ctx, models.ProductFilter{ShopName: "shop-b"})
		require.Len(t, byShop, 1)
		assert.Equal(t, pricey.ID, byShop[0].ID)

		max := 100.0
		underMax, _ := s.ListProducts(ctx, models.ProductFilter{Category: models.CategoryRAM, MaxPrice: &max})
		require.Len(t, underMax, 1)

		search, _ := s.ListProducts(ctx, models.ProductFilter{Search: "pRic"})
		require.Len(t, search, 1)

		limited, _ := s.ListProducts(ctx, models.ProductFilter{Limit: 2})
		assert.Len(t, limited, 2)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		got, err := s.GetProduct(ctx, cheap.ID)
		require.NoError(t, err)
		got.Sources[0].Price = 1
		got.Name = "mutated"

		again, _ := s.GetProduct(ctx, cheap.ID)
		assert.Equal(t, "Cheap", again.Name)
		assert.Equal(t, 50.0, again.Sources[0].Price)
	})

	t.Run("UpdateKeepsCreatedAt", func(t *testing.T) {
		got, _ := s.GetProduct(ctx, gpu.ID)
		created := got.CreatedAt
		got.CreatedAt = time.Time{}
		got.ComfortScore = 42
		require.NoError(t, s.UpdateProduct(ctx, got))

		again, _ := s.GetProduct(ctx, gpu.ID)
		assert.Equal(t, 42, again.ComfortScore)
		assert.Equal(t, created, again.CreatedAt)
	})

	t.Run("MissingProduct", func(t *testing.T) {
		_, err := s.GetProduct(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateProduct(ctx, &models.Product{ID: uuid.New()}), ErrNotFound)
		assert.ErrorIs(t, s.DeleteProduct(ctx, uuid.New()), ErrNotFound)
	})
}

func TestMemoryStore_Reviews(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p1 := &models.Product{Name: "p1"}
	p2 := &models.Product{Name: "p2"}
	require.NoError(t, s.CreateProduct(ctx, p1))
	require.NoError(t, s.CreateProduct(ctx, p2))

	user := uuid.New()

	t.Run("OnePerUserPerProduct", func(t *testing.T) {
		require.NoError(t, s.CreateReview(ctx, &models.Review{UserID: user, ProductID: p1.ID, Rating: 5}))
		err := s.CreateReview(ctx, &models.Review{UserID: user, ProductID: p1.ID, Rating: 1})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("ReassignRespectsUniqueness", func(t *testing.T) {
		other := &models.Review{UserID: user, ProductID: p2.ID, Rating: 3}
		require.NoError(t, s.CreateReview(ctx, other))

		assert.ErrorIs(t, s.ReassignReview(ctx, other.ID, p1.ID), ErrConflict)
		assert.ErrorIs(t, s.ReassignReview(ctx, uuid.New(), p1.ID), ErrNotFound)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		older := &models.Review{UserID: uuid.New(), ProductID: p1.ID, Rating: 2, CreatedAt: time.Now().Add(-48 * time.Hour)}
		require.NoError(t, s.CreateReview(ctx, older))

		reviews, err := s.ListReviewsByProduct(ctx, p1.ID)
		require.NoError(t, err)
		require.Len(t, reviews, 2)
		assert.Equal(t, older.ID, reviews[1].ID)

		byIDs, err := s.ListReviewsByIDs(ctx, []uuid.UUID{older.ID, older.ID, uuid.New()})
		require.NoError(t, err)
		assert.Len(t, byIDs, 1)
	})

	t.Run("DeleteProductCascades", func(t *testing.T) {
		require.NoError(t, s.DeleteProduct(ctx, p2.ID))
		reviews, _ := s.ListReviewsByProduct(ctx, p2.ID)
		assert.Empty(t, reviews)
	})
}

func TestMemoryStore_Bundles(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()

	b := &models.Bundle{UserID: owner, Name: "first", Items: []models.BundleItem{{Category: models.CategoryCPU}}}
	require.NoError(t, s.CreateBundle(ctx, b))
	require.NoError(t, s.CreateBundle(ctx, &models.Bundle{UserID: uuid.New(), Name: "someone else"}))

	mine, err := s.ListBundlesByUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	mine[0].Name = "renamed"
	require.NoError(t, s.UpdateBundle(ctx, mine[0]))
	got, _ := s.GetBundle(ctx, b.ID)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, s.DeleteBundle(ctx, b.ID))
	_, err = s.GetBundle(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteBundle(ctx, b.ID), ErrNotFound)
}

func TestMemoryStore_NarrowProductWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &models.Product{Name: "RX 7800 XT", Category: models.CategoryGPU, Brand: "AMD", Model: "RX 7800 XT",
		Sources: []models.Source{{ShopName: "shop-a", Price: 52000}}}
	require.NoError(t, s.CreateProduct(ctx, p))

	require.NoError(t, s.SetComfortScore(ctx, p.ID, 61))

	ref := uuid.New()
	require.NoError(t, s.AppendReviewRef(ctx, p.ID, ref))
	require.NoError(t, s.AppendReviewRef(ctx, p.ID, ref))

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 61, got.ComfortScore)
	assert.Equal(t, []uuid.UUID{ref}, got.PlatformReviews)
	// untouched fields survive
	assert.Len(t, got.Sources, 1)

	require.NoError(t, s.SetReviewRefs(ctx, p.ID, nil))
	got, _ = s.GetProduct(ctx, p.ID)
	assert.Empty(t, got.PlatformReviews)

	missing := uuid.New()
	assert.ErrorIs(t, s.SetComfortScore(ctx, missing, 1), ErrNotFound)
	assert.ErrorIs(t, s.AppendReviewRef(ctx, missing, ref), ErrNotFound)
	assert.ErrorIs(t, s.SetReviewRefs(ctx, missing, nil), ErrNotFound)
}

func TestMemoryStore_ReassignBundleItems(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	from, to, other := uuid.New(), uuid.New(), uuid.New()

	b := &models.Bundle{UserID: uuid.New(), Name: "build", Items: []models.BundleItem{
		{ProductID: from, Category: models.CategoryCPU},
		{ProductID: other, Category: models.CategoryGPU},
	}}
	require.NoError(t, s.CreateBundle(ctx, b))
	require.NoError(t, s.CreateBundle(ctx, &models.Bundle{UserID: uuid.New(), Name: "unrelated",
		Items: []models.BundleItem{{ProductID: other, Category: models.CategoryGPU}}}))

	n, err := s.ReassignBundleItems(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetBundle(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, to, got.Items[0].ProductID)
	assert.Equal(t, other, got.Items[1].ProductID)

	n, err = s.ReassignBundleItems(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
