package ml

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ModelInfo contains metadata about a registered model
type ModelInfo struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Inputs      int                    `json:"inputs"`
	Outputs     int                    `json:"outputs"`
	Layers      []int                  `json:"layers"`
	ModelType   string                 `json:"model_type"` // "regression"
	Initialized bool                   `json:"initialized"`
	LoadedAt    time.Time              `json:"loaded_at"`
	Performance ModelMetrics           `json:"performance"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// ModelMetrics tracks inference and training metrics for a model
type ModelMetrics struct {
	InferenceLatencyMs float64   `json:"inference_latency_ms"`
	Predictions        int64     `json:"predictions"`
	Errors             int64     `json:"errors"`
	ErrorRate          float64   `json:"error_rate"`
	TrainingSamples    int       `json:"training_samples"`
	TrainingLoss       float64   `json:"training_loss"`
	ValidationLoss     float64   `json:"validation_loss"`
	LastTrainedAt      time.Time `json:"last_trained_at,omitempty"`
	LastUpdated        time.Time `json:"last_updated"`
}

// ModelRegistry tracks the models served by the process and their metrics
type ModelRegistry struct {
	models map[string]*ModelInfo
	mutex  sync.RWMutex
	logger *logrus.Logger
}

// NewModelRegistry creates a new model registry
func NewModelRegistry(logger *logrus.Logger) *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelInfo),
		logger: logger,
	}
}

// RegisterModel registers or replaces a model in the registry
func (mr *ModelRegistry) RegisterModel(info *ModelInfo) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	if info.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	validTypes := map[string]bool{
		"regression":     true,
		"classification": true,
	}
	if !validTypes[info.ModelType] {
		return fmt.Errorf("invalid model type: %s", info.ModelType)
	}

	if info.LoadedAt.IsZero() {
		info.LoadedAt = time.Now()
	}
	mr.models[info.Name] = info
	mr.logger.WithFields(logrus.Fields{
		"model_name": info.Name,
		"model_type": info.ModelType,
		"version":    info.Version,
	}).Info("Model registered successfully")

	return nil
}

// GetModelInfo returns a copy of the information about a registered model
func (mr *ModelRegistry) GetModelInfo(name string) (*ModelInfo, error) {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	info, exists := mr.models[name]
	if !exists {
		return nil, fmt.Errorf("model not found: %s", name)
	}

	cp := *info
	return &cp, nil
}

// ListModels returns copies of all registered models ordered by name
func (mr *ModelRegistry) ListModels() []ModelInfo {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	result := make([]ModelInfo, 0, len(mr.models))
	for _, info := range mr.models {
		result = append(result, *info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return result
}

// SetVersion records a new published version, e.g. after training or loading
func (mr *ModelRegistry) SetVersion(name, version string) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	info, exists := mr.models[name]
	if !exists {
		return fmt.Errorf("model not found: %s", name)
	}
	info.Version = version
	info.Initialized = true
	info.LoadedAt = time.Now()
	return nil
}

// RecordPrediction folds one inference into the running metrics
func (mr *ModelRegistry) RecordPrediction(name string, latency time.Duration, failed bool) {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	info, exists := mr.models[name]
	if !exists {
		return
	}

	m := &info.Performance
	m.Predictions++
	if failed {
		m.Errors++
	}
	ms := float64(latency) / float64(time.Millisecond)
	// exponential moving average
	if m.Predictions == 1 {
		m.InferenceLatencyMs = ms
	} else {
		m.InferenceLatencyMs = 0.9*m.InferenceLatencyMs + 0.1*ms
	}
	m.ErrorRate = float64(m.Errors) / float64(m.Predictions)
	m.LastUpdated = time.Now()
}

// RecordTraining stores the outcome of a completed training run
func (mr *ModelRegistry) RecordTraining(name string, log *TrainingLog) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	info, exists := mr.models[name]
	if !exists {
		return fmt.Errorf("model not found: %s", name)
	}

	now := time.Now()
	info.Performance.TrainingSamples = log.Samples
	info.Performance.TrainingLoss = log.FinalLoss
	info.Performance.ValidationLoss = log.FinalValLoss
	info.Performance.LastTrainedAt = now
	info.Performance.LastUpdated = now

	return nil
}

// GenerateModelHash creates a hash for model versioning
func GenerateModelHash(name string, config map[string]interface{}) string {
	hasher := sha256.New()
	hasher.Write([]byte(name))

	keys := make([]string, 0, len(config))
	for key := range config {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		hasher.Write([]byte(fmt.Sprintf("%s:%v", key, config[key])))
	}

	return fmt.Sprintf("%x", hasher.Sum(nil))[:16]
}
