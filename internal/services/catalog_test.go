package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

func newCatalog(st store.Store) (*CatalogService, *recordingPublisher) {
	publisher := &recordingPublisher{}
	return NewCatalogService(testLogger(), st, nil, publisher), publisher
}

func TestCatalogService_CreateProduct(t *testing.T) {
	ctx := context.Background()
	catalog, published := newCatalog(store.NewMemoryStore())

	p, err := catalog.CreateProduct(ctx, &models.CreateProductRequest{
		Name:     "Ryzen 5 7600",
		Category: models.CategoryCPU,
		Brand:    "AMD",
		Model:    " Ryzen 5 7600 ",
		Sources: []models.Source{
			{ShopName: "shop-a", ProductURL: "https://a/7600", Price: 20000, InStock: true},
			{ShopName: "shop-b", ProductURL: "https://b/7600", Price: 22000},
		},
		Ratings: []models.SourceRating{{ShopName: "shop-a", Average: 4.5, Count: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, "amd_ryzen 5 7600", p.GroupKey)
	assert.Equal(t, models.PriceRange{Min: 20000, Max: 22000, Average: 21000}, p.PriceRange)
	assert.Equal(t, 1, p.AvailableAt)
	assert.Equal(t, 2, p.TotalSources)
	assert.Equal(t, models.RatingSummary{Average: 4.5, Count: 2}, p.Ratings.Overall)
	assert.False(t, p.Sources[0].LastUpdated.IsZero())
	assert.Equal(t, []string{messaging.EventProductCreated}, published.types())

	_, err = catalog.CreateProduct(ctx, &models.CreateProductRequest{Name: "x", Category: "Monitor", Brand: "b", Model: "m"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCatalogService_GetProductSortsSources(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, _ := newCatalog(st)

	p := pricedProduct(models.CategoryRAM, "Kingston", "Fury 32GB", 9000)
	p.Sources = append(p.Sources, models.Source{ShopName: "shop-b", Price: 8000})
	p.UpdatePriceRange()
	require.NoError(t, st.CreateProduct(ctx, p))

	got, err := catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop-b", got.Sources[0].ShopName)

	_, err = catalog.GetProduct(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogService_ListProductsNarrowsToShop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, _ := newCatalog(st)

	p := pricedProduct(models.CategoryGPU, "MSI", "RTX 4060", 30000)
	p.Sources = append(p.Sources, models.Source{ShopName: "shop-b", Price: 29000, InStock: false})
	p.UpdatePriceRange()
	require.NoError(t, st.CreateProduct(ctx, p))
	require.NoError(t, st.CreateProduct(ctx, pricedProduct(models.CategoryCPU, "Intel", "i3", 9000)))

	products, err := catalog.ListProducts(ctx, models.ProductFilter{ShopName: "shop-b"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Len(t, products[0].Sources, 1)
	assert.Equal(t, "shop-b", products[0].Sources[0].ShopName)
	assert.Equal(t, 0, products[0].AvailableAt)

	_, err = catalog.ListProducts(ctx, models.ProductFilter{Category: "Keyboard"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCatalogService_UpsertSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, published := newCatalog(st)

	p := pricedProduct(models.CategoryPSU, "Corsair", "RM750e", 10000)
	require.NoError(t, st.CreateProduct(ctx, p))

	updated, err := catalog.UpsertSource(ctx, p.ID, models.Source{ShopName: "shop-a", ProductURL: "https://a/rm750e", Price: 9000, InStock: true})
	require.NoError(t, err)
	assert.Len(t, updated.Sources, 1)
	assert.Equal(t, 9000.0, updated.PriceRange.Average)

	updated, err = catalog.UpsertSource(ctx, p.ID, models.Source{ShopName: "shop-b", ProductURL: "https://b/rm750e", Price: 11000})
	require.NoError(t, err)
	assert.Equal(t, models.PriceRange{Min: 9000, Max: 11000, Average: 10000}, updated.PriceRange)
	assert.Equal(t, 2, updated.TotalSources)

	stored, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.PriceRange, stored.PriceRange)
	assert.Equal(t, []string{messaging.EventSourceUpdated, messaging.EventSourceUpdated}, published.types())
	assert.Equal(t, []uuid.UUID{p.ID}, published.events[0].ProductIDs)

	_, err = catalog.UpsertSource(ctx, uuid.New(), models.Source{ShopName: "shop-a"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogService_CompareSources(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, _ := newCatalog(st)

	p := pricedProduct(models.CategoryCase, "Fractal", "North", 12000)
	p.Sources[0].Shipping = models.Shipping{Available: true, Cost: 2500}
	p.Sources = append(p.Sources,
		models.Source{ShopName: "shop-b", Price: 13000, InStock: true, Shipping: models.Shipping{Cost: 0}},
		models.Source{ShopName: "shop-c", Price: 10000, InStock: false},
	)
	p.Ratings.BySource = []models.SourceRating{{ShopName: "shop-b", Average: 4.8, Count: 12}}
	p.UpdatePriceRange()
	require.NoError(t, st.CreateProduct(ctx, p))

	cmp, err := catalog.CompareSources(ctx, p.ID)
	require.NoError(t, err)

	shops := make([]string, len(cmp.Sources))
	for i, s := range cmp.Sources {
		shops[i] = s.ShopName
	}
	assert.Equal(t, []string{"shop-c", "shop-a", "shop-b"}, shops)

	require.NotNil(t, cmp.BestDeal)
	assert.Equal(t, "shop-b", cmp.BestDeal.ShopName)
	assert.Equal(t, 13000.0, cmp.BestDeal.TotalCost)
	require.NotNil(t, cmp.BestDeal.Rating)
	assert.Equal(t, 4.8, cmp.BestDeal.Rating.Average)
	assert.Nil(t, cmp.Sources[1].Rating)
}

func TestCatalogService_CompareSourcesNothingInStock(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, _ := newCatalog(st)

	p := pricedProduct(models.CategoryCase, "Lian Li", "O11", 15000)
	p.Sources[0].InStock = false
	require.NoError(t, st.CreateProduct(ctx, p))

	cmp, err := catalog.CompareSources(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, cmp.BestDeal)
}

func TestCatalogService_GroupedAndShops(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, _ := newCatalog(st)

	a := pricedProduct(models.CategoryStorage, "WD", "SN850X", 8000)
	b := pricedProduct(models.CategoryStorage, "wd", "sn850x", 8500)
	b.Sources[0].ShopName = "shop-b"
	b.Sources[0].InStock = false
	c := pricedProduct(models.CategoryCPU, "AMD", "7800X3D", 40000)
	for _, p := range []*models.Product{a, b, c} {
		require.NoError(t, st.CreateProduct(ctx, p))
	}

	groups, err := catalog.GroupedProducts(ctx, models.ProductFilter{Category: models.CategoryStorage})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "wd_sn850x", groups[0].GroupKey)
	assert.Equal(t, "WD", groups[0].Brand)
	assert.Len(t, groups[0].Products, 2)

	shops, err := catalog.Shops(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ShopSummary{
		{Name: "shop-a", ProductCount: 2, AvailableCount: 2},
		{Name: "shop-b", ProductCount: 1, AvailableCount: 0},
	}, shops)
}

func TestCatalogService_CreateReview(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, published := newCatalog(st)

	p := pricedProduct(models.CategoryMotherboard, "ASUS", "B650-A", 19000)
	require.NoError(t, st.CreateProduct(ctx, p))
	user := uuid.New()

	req := &models.CreateReviewRequest{Rating: 4, Comment: "solid board", ComfortRatings: models.ComfortRatings{Ease: intPtr(5)}}
	review, err := catalog.CreateReview(ctx, p.ID, user, req)
	require.NoError(t, err)
	assert.Equal(t, user, review.UserID)

	stored, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{review.ID}, stored.PlatformReviews)

	_, err = catalog.CreateReview(ctx, p.ID, user, req)
	assert.ErrorIs(t, err, ErrDuplicateReview)

	_, err = catalog.CreateReview(ctx, uuid.New(), user, req)
	assert.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, []string{messaging.EventReviewCreated}, published.types())
	assert.Equal(t, user, published.events[0].UserID)

	reviews, err := catalog.ListReviews(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestCatalogService_CreateReviewDuringReconcile(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	c := seedDuplicates(t, mem)

	hooked := &hookedStore{MemoryStore: mem, on: "AppendReviewRef", before: func() {
		_, err := newReconciler(mem).Reconcile(ctx)
		require.NoError(t, err)
	}}
	catalog, _ := newCatalog(hooked)

	review, err := catalog.CreateReview(ctx, c.primary.ID, uuid.New(),
		&models.CreateReviewRequest{Rating: 5, Comment: "quiet and cool"})
	require.NoError(t, err)
	require.True(t, hooked.fired)

	merged, err := mem.GetProduct(ctx, c.primary.ID)
	require.NoError(t, err)
	assert.Len(t, merged.Sources, 3)
	assert.Len(t, merged.PlatformReviews, 4)
	assert.True(t, merged.HasReviewRef(review.ID))
}

func TestCatalogService_ConcurrentReviewsKeepEveryReference(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	catalog, _ := newCatalog(st)

	p := pricedProduct(models.CategoryPSU, "Corsair", "RM850x", 14000)
	require.NoError(t, st.CreateProduct(ctx, p))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := catalog.CreateReview(ctx, p.ID, uuid.New(), &models.CreateReviewRequest{Rating: 4, Comment: "fine"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := st.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.PlatformReviews, writers)
}

func TestCatalogService_UpsertSourceDuringReconcile(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	c := seedDuplicates(t, mem)

	hooked := &hookedStore{MemoryStore: mem, on: "UpdateProductIfUnchanged", before: func() {
		_, err := newReconciler(mem).Reconcile(ctx)
		require.NoError(t, err)
	}}
	catalog, _ := newCatalog(hooked)

	got, err := catalog.UpsertSource(ctx, c.primary.ID, models.Source{ShopName: "shop-d", Price: 30000, InStock: true})
	require.NoError(t, err)
	require.True(t, hooked.fired)
	assert.Equal(t, 4, got.TotalSources)

	merged, err := mem.GetProduct(ctx, c.primary.ID)
	require.NoError(t, err)
	shops := make([]string, len(merged.Sources))
	for i, s := range merged.Sources {
		shops[i] = s.ShopName
	}
	assert.Equal(t, []string{"shop-a", "shop-b", "shop-c", "shop-d"}, shops)
	assert.Len(t, merged.PlatformReviews, 3)
}
