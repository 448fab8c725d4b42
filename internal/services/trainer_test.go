package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/comport/internal/messaging"
	"github.com/temcen/comport/internal/ml"
	"github.com/temcen/comport/internal/store"
	"github.com/temcen/comport/pkg/models"
)

// seedReviewedCatalog creates reviewed products plus one product without reviews.
func seedReviewedCatalog(t *testing.T, st *store.MemoryStore, reviewed int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < reviewed; i++ {
		p := pricedProduct(models.CategoryStorage, "Samsung", fmt.Sprintf("990-%d", i), float64(3000+i*500))
		require.NoError(t, st.CreateProduct(ctx, p))
		require.NoError(t, st.CreateReview(ctx, reviewFor(p.ID, uuid.New(), 4, 1+i%5, 5-i%5, 24*time.Hour)))
	}
	require.NoError(t, st.CreateProduct(ctx, pricedProduct(models.CategoryCase, "NZXT", "H5", 5000)))
}

func newTrainer(t *testing.T, st *store.MemoryStore, model ml.Regressor) *TrainerService {
	t.Helper()
	cfg := testConfig()
	logger := testLogger()
	registry := ml.NewModelRegistry(logger)
	comfort := NewComfortRatingService(cfg, logger, st, model, registry, nil)
	return NewTrainerService(cfg, logger, st, comfort, model, registry, &recordingPublisher{})
}

func TestTrainerService_BuildTrainingSetSkipsUnreviewed(t *testing.T) {
	st := store.NewMemoryStore()
	seedReviewedCatalog(t, st, 3)

	trainer := newTrainer(t, st, readyModel([]float64{0.5, 0.5}))
	set, err := trainer.BuildTrainingSet(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, set.Len())
	assert.Len(t, set.Inputs[0], ml.FeatureCount)
	assert.Equal(t, []float64{0.2, 1.0}, set.Outputs[0])
}

func TestTrainerService_SkipsWithInsufficientData(t *testing.T) {
	st := store.NewMemoryStore()
	seedReviewedCatalog(t, st, 9)

	model := readyModel([]float64{0.5, 0.5})
	trainer := newTrainer(t, st, model)

	result, err := trainer.Train(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 9, result.Samples)
	assert.Contains(t, result.Reason, "insufficient data")
	model.AssertNotCalled(t, "Fit", mock.Anything, mock.Anything, mock.Anything)
	model.AssertNotCalled(t, "Save", mock.Anything)
}

func TestTrainerService_TrainsAndSaves(t *testing.T) {
	st := store.NewMemoryStore()
	seedReviewedCatalog(t, st, 12)

	model := &MockRegressor{}
	model.On("Load", mock.Anything).Return(ml.ErrNoWeights)
	model.On("Version").Return("abc123")
	var fitInputs [][]float64
	model.On("Fit", mock.Anything, mock.Anything, ml.FitConfig{Epochs: 5, BatchSize: 4, ValidationSplit: 0.2}).
		Run(func(args mock.Arguments) { fitInputs = args.Get(0).([][]float64) }).
		Return(&ml.TrainingLog{
			Epochs:       make([]ml.EpochLog, 5),
			FinalLoss:    0.02,
			FinalValLoss: 0.03,
			Samples:      10,
			Validation:   2,
		}, nil).Once()
	model.On("Save", mock.Anything).Return(nil).Once()

	trainer := newTrainer(t, st, model)
	result, err := trainer.Train(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 12, result.Samples)
	assert.Equal(t, 5, result.Epochs)
	assert.Equal(t, 0.02, result.FinalLoss)
	assert.Equal(t, "abc123", result.ModelVersion)

	assert.Len(t, fitInputs, 12)
	model.AssertExpectations(t)

	info, err := trainer.comfort.ModelInfo()
	require.NoError(t, err)
	assert.Equal(t, 10, info.Performance.TrainingSamples)
	assert.Equal(t, "abc123", info.Version)

	published := trainer.publisher.(*recordingPublisher)
	require.Equal(t, []string{messaging.EventModelTrained}, published.types())
	assert.Equal(t, "abc123", published.events[0].Attributes["version"])
}

func TestTrainerService_SaveFailureSurfaces(t *testing.T) {
	st := store.NewMemoryStore()
	seedReviewedCatalog(t, st, 10)

	model := &MockRegressor{}
	model.On("Load", mock.Anything).Return(ml.ErrNoWeights)
	model.On("Version").Return("v1")
	model.On("Fit", mock.Anything, mock.Anything, mock.Anything).Return(&ml.TrainingLog{}, nil)
	model.On("Save", mock.Anything).Return(errors.New("disk full"))

	trainer := newTrainer(t, st, model)
	_, err := trainer.Train(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestTrainerService_WithComfortNetwork(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedReviewedCatalog(t, st, 12)

	dir := t.TempDir()
	cfg := ml.DefaultNetworkConfig()
	network := ml.NewComfortNetwork(cfg, ml.NewFileWeightStore(dir), testLogger())
	trainer := newTrainer(t, st, network)

	before := network.Version()
	result, err := trainer.Train(ctx)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.NotEqual(t, before, result.ModelVersion)

	// a fresh process picks the saved weights up on first use
	reloaded := ml.NewComfortNetwork(cfg, ml.NewFileWeightStore(dir), testLogger())
	comfort := NewComfortRatingService(testConfig(), testLogger(), st, reloaded, ml.NewModelRegistry(testLogger()), nil)
	require.NoError(t, comfort.EnsureModel(ctx))
	assert.Equal(t, result.ModelVersion, reloaded.Version())
}
