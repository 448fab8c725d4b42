package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/database"
	"github.com/temcen/comport/internal/docs"
	"github.com/temcen/comport/internal/handlers"
	"github.com/temcen/comport/internal/middleware"
	"github.com/temcen/comport/internal/services"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/internal/validation"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	store     store.Store
	services  *services.Services
	handlers  *handlers.Handlers
	validator *validation.SchemaValidator
	router    *gin.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, SetupLogger(cfg))
}

// NewWithLogger wires the application around an existing logger.
func NewWithLogger(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db
	app.store = OpenStore(cfg, db)

	svc, err := services.New(cfg, app.logger, db, app.store)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	schemas, err := validation.Default()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load request schemas: %w", err)
	}
	app.validator = schemas

	app.handlers = handlers.New(cfg, app.logger, svc)
	app.setupRouter()

	return app, nil
}

// OpenStore picks the catalog store for the configured driver.
func OpenStore(cfg *config.Config, db *database.Database) store.Store {
	if cfg.Database.Driver == "memory" || db.PG == nil {
		return store.NewMemoryStore()
	}
	return store.NewPostgresStore(db.PG)
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Services() *services.Services {
	return a.services
}

// Start launches background work: metric collectors, the startup and
// periodic reconcile runs and, with Kafka enabled, the event consumer.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.services.Health.Start(ctx)

	if a.config.Reconcile.OnStartup {
		if _, err := a.services.Reconciler.Reconcile(ctx); err != nil {
			a.logger.WithError(err).Error("Startup reconcile failed")
		}
	}

	if interval := a.config.Reconcile.Interval; interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.services.Reconciler.RunPeriodically(ctx, interval)
		}()
	}

	if bus := a.services.MessageBus; bus != nil {
		a.services.Health.AttachBus(bus)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := bus.Consume(ctx, a.services.Comfort.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("Event consumer stopped")
			}
		}()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		a.services.Jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Background work did not finish before shutdown deadline")
	}

	var errs []error
	if a.services.MessageBus != nil {
		if err := a.services.MessageBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close message bus: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.WithError(err).Error("Error during shutdown")
		return err
	}
	return nil
}

func SetupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	h := a.handlers
	schema := middleware.NewValidationMiddleware(a.validator)
	warm := a.db.WarmRedis()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(a.config))

	// Health check endpoints (no auth required)
	router.GET("/health", h.Health.Check)
	router.GET("/health/ready", h.Health.Ready)
	docs.NewHandler(docs.DefaultConfig(), a.validator).RegisterRoutes(router)

	if a.config.Monitoring.Enabled {
		path := a.config.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	rateLimit := middleware.RateLimit(a.services.RateLimit, a.logger)
	auth := middleware.Auth(a.services.Auth, a.logger)
	invalidate := middleware.InvalidateCache(warm, "", a.logger)

	api.POST("/auth/token", rateLimit, schema.Body(validation.SchemaAuthToken), h.Auth.Token)

	// Public catalog reads, cached in the warm tier
	public := api.Group("", rateLimit, middleware.ResponseCache(warm, middleware.CacheConfig{}, a.logger))
	{
		public.GET("/products", h.Products.List)
		public.GET("/products/grouped", h.Products.Grouped)
		public.GET("/products/shops", h.Products.Shops)
		public.GET("/products/:id", h.Products.Get)
		public.GET("/products/:id/compare", h.Products.Compare)
		public.GET("/products/:id/reviews", h.Products.ListReviews)
	}

	// Scoring endpoints, public and uncached
	scoring := api.Group("", rateLimit)
	{
		scoring.GET("/ml/status", h.ML.Status)
		scoring.GET("/ml/comfort/product/:id", h.ML.ComfortProduct)
		scoring.POST("/ml/comfort/bundle", schema.Body(validation.SchemaPartSelection), h.ML.ComfortBundle)
		scoring.POST("/compatibility/check", schema.Body(validation.SchemaPartSelection), h.ML.CheckCompatibility)
	}

	users := api.Group("", auth, rateLimit, invalidate)
	{
		users.POST("/products/:id/reviews", schema.Body(validation.SchemaReview), h.Products.CreateReview)

		bundles := users.Group("/bundles")
		bundles.POST("", schema.Body(validation.SchemaBundle), h.Bundles.Create)
		bundles.GET("", h.Bundles.List)
		bundles.GET("/:id", h.Bundles.Get)
		bundles.PUT("/:id", schema.Body(validation.SchemaBundleUpdate), h.Bundles.Update)
		bundles.DELETE("/:id", h.Bundles.Delete)
		bundles.POST("/:id/evaluate", h.Bundles.Evaluate)
	}

	admin := api.Group("", auth, middleware.RequireAdmin(), rateLimit, invalidate)
	{
		admin.POST("/products", schema.Body(validation.SchemaProduct), h.Products.Create)
		admin.POST("/products/:id/sources", schema.Body(validation.SchemaSource), h.Products.UpsertSource)

		admin.POST("/ml/comfort/update-all", h.ML.UpdateAll)
		admin.POST("/ml/train", h.ML.Train)
		admin.POST("/ml/reconcile", h.ML.Reconcile)
		admin.GET("/ml/jobs/:id", h.ML.GetJob)

		admin.GET("/admin/config", h.Admin.GetSystemConfiguration)
		admin.GET("/admin/jobs", h.Admin.ListJobs)
		admin.DELETE("/admin/jobs", h.Admin.CleanupJobs)
	}

	a.router = router
}
