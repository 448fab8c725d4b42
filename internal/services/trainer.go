package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/pkg/models"
)

// TrainerService retrains the comfort model from the reviewed part of the
// catalog. Each run retrains from a full snapshot; nothing is incremental.
type TrainerService struct {
	store     comfortStore
	comfort   *ComfortRatingService
	model     ml.Regressor
	registry  *ml.ModelRegistry
	publisher messaging.Publisher
	cfg       config.TrainingConfig
	logger    *logrus.Logger
	now       func() time.Time

	// one training run at a time per process
	mu sync.Mutex
}

func NewTrainerService(cfg *config.Config, logger *logrus.Logger, st comfortStore, comfort *ComfortRatingService, model ml.Regressor, registry *ml.ModelRegistry, publisher messaging.Publisher) *TrainerService {
	return &TrainerService{
		store:     st,
		comfort:   comfort,
		model:     model,
		registry:  registry,
		publisher: publisher,
		cfg:       cfg.ML.Training,
		logger:    logger,
		now:       time.Now,
	}
}

// TrainingSet holds aligned model inputs and targets.
type TrainingSet struct {
	Inputs  [][]float64
	Outputs [][]float64
}

func (t *TrainingSet) Len() int { return len(t.Inputs) }

// BuildTrainingSet pairs the feature vector of each reviewed product with its
// observed ease and performance. Products without reviews carry no signal and
// are skipped.
func (s *TrainerService) BuildTrainingSet(ctx context.Context) (*TrainingSet, error) {
	products, err := s.store.ListProducts(ctx, models.ProductFilter{Limit: s.cfg.SampleLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	set := &TrainingSet{}
	now := s.now()
	for _, p := range products {
		reviews, err := s.store.ListReviewsByProduct(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load reviews for %s: %w", p.ID, err)
		}

		stats := ml.ExtractReviewStats(reviews, now)
		if stats.ReviewCount == 0 {
			continue
		}
		set.Inputs = append(set.Inputs, ml.ExtractProductFeatures(p).Vector())
		set.Outputs = append(set.Outputs, stats.Target())
	}
	return set, nil
}

// Train fits the model on the current catalog and persists the new weights.
// Too few reviewed products is not an error: the run is skipped and reported
// as such. A failed save is returned.
func (s *TrainerService) Train(ctx context.Context) (*models.TrainingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.comfort.EnsureModel(ctx); err != nil {
		trainingRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	set, err := s.BuildTrainingSet(ctx)
	if err != nil {
		trainingRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	result := &models.TrainingResult{Samples: set.Len()}
	if set.Len() < s.cfg.MinSamples {
		result.Skipped = true
		result.Reason = fmt.Sprintf("%s: %d reviewed products, need %d", ErrInsufficientData, set.Len(), s.cfg.MinSamples)
		result.ModelVersion = s.model.Version()
		s.logger.WithFields(logrus.Fields{
			"samples":     set.Len(),
			"min_samples": s.cfg.MinSamples,
		}).Info("Not enough training data, skipping training")
		trainingRuns.WithLabelValues("skipped").Inc()
		return result, nil
	}

	s.logger.WithFields(logrus.Fields{
		"samples": set.Len(),
		"epochs":  s.cfg.Epochs,
	}).Info("Training comfort model")

	log, err := s.model.Fit(set.Inputs, set.Outputs, ml.FitConfig{
		Epochs:          s.cfg.Epochs,
		BatchSize:       s.cfg.BatchSize,
		ValidationSplit: s.cfg.ValidationSplit,
	})
	if err != nil {
		trainingRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to train comfort model: %w", err)
	}

	if err := s.model.Save(ctx); err != nil {
		trainingRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("trained weights were not persisted: %w", err)
	}

	version := s.model.Version()
	_ = s.registry.SetVersion(s.comfort.modelName, version)
	_ = s.registry.RecordTraining(s.comfort.modelName, log)
	trainingLoss.WithLabelValues("train").Set(log.FinalLoss)
	trainingLoss.WithLabelValues("validation").Set(log.FinalValLoss)
	trainingRuns.WithLabelValues("trained").Inc()

	result.Epochs = len(log.Epochs)
	result.FinalLoss = log.FinalLoss
	result.FinalValLoss = log.FinalValLoss
	result.ModelVersion = version
	result.Duration = time.Since(start)

	s.logger.WithFields(logrus.Fields{
		"samples":        result.Samples,
		"final_loss":     result.FinalLoss,
		"final_val_loss": result.FinalValLoss,
		"version":        version,
		"duration":       result.Duration,
	}).Info("Comfort model training completed and saved")

	if s.publisher != nil {
		event := messaging.NewEvent(messaging.EventModelTrained)
		event.Attributes = map[string]interface{}{
			"version": version,
			"samples": result.Samples,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WithError(err).Warn("Failed to publish model.trained event")
		}
	}

	return result, nil
}
