package services

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/database"
	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/internal/store"
)

type Services struct {
	Auth       *AuthService
	Health     *HealthService
	RateLimit  *RateLimitService
	Comfort    *ComfortRatingService
	Trainer    *TrainerService
	Catalog    *CatalogService
	Bundles    *BundleService
	Reconciler *ReconcilerService
	Jobs       *JobManager
	Registry   *ml.ModelRegistry

	// Publisher is the bus when Kafka is enabled and an in-process
	// LogPublisher otherwise. MessageBus is nil without Kafka.
	Publisher  messaging.Publisher
	MessageBus *messaging.MessageBus
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, st store.Store) (*Services, error) {
	var weights ml.WeightStore
	if cfg.ML.WeightsBackend == "postgres" && db.PG != nil {
		weights = ml.NewPostgresWeightStore(db.PG)
	} else {
		weights = ml.NewFileWeightStore(cfg.ML.WeightsPath)
	}

	netCfg := ml.DefaultNetworkConfig()
	if cfg.ML.ModelName != "" {
		netCfg.Name = cfg.ML.ModelName
	}
	if cfg.ML.LearningRate > 0 {
		netCfg.LearningRate = cfg.ML.LearningRate
	}
	netCfg.Seed = cfg.ML.Seed
	network := ml.NewComfortNetwork(netCfg, weights, logger)

	registry := ml.NewModelRegistry(logger)
	cache := NewScoreCache(db.WarmRedis(), cfg.ML.ScoreCacheTTL, logger)
	comfort := NewComfortRatingService(cfg, logger, st, network, registry, cache)

	var (
		publisher messaging.Publisher
		bus       *messaging.MessageBus
	)
	if cfg.Kafka.Enabled {
		var err error
		bus, err = messaging.NewMessageBus(cfg, logger)
		if err != nil {
			return nil, err
		}
		publisher = bus
	} else {
		local := messaging.NewLogPublisher(logger)
		local.Attach(comfort.HandleEvent)
		publisher = local
	}

	catalog := NewCatalogService(logger, st, comfort, publisher)
	catalog.UseReviewGuard(NewReviewGuard(db.HotRedis(), logger))

	return &Services{
		Auth:       NewAuthService(cfg, logger, db.HotRedis()),
		Health:     NewHealthService(cfg, logger, db, st, comfort),
		RateLimit:  NewRateLimitService(cfg, logger, db.HotRedis()),
		Comfort:    comfort,
		Trainer:    NewTrainerService(cfg, logger, st, comfort, network, registry, publisher),
		Catalog:    catalog,
		Bundles:    NewBundleService(logger, st, comfort, publisher),
		Reconciler: NewReconcilerService(logger, st, comfort, publisher),
		Jobs:       NewJobManager(db.WarmRedis(), logger),
		Registry:   registry,
		Publisher:  publisher,
		MessageBus: bus,
	}, nil
}
