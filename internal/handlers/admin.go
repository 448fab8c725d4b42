package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/services"
)

// AdminHandler exposes operational views for admin callers.
type AdminHandler struct {
	logger *logrus.Logger
	config *config.Config
	jobs   *services.JobManager
}

func NewAdminHandler(logger *logrus.Logger, cfg *config.Config, jobs *services.JobManager) *AdminHandler {
	return &AdminHandler{
		logger: logger,
		config: cfg,
		jobs:   jobs,
	}
}

// SystemConfiguration is the effective configuration with secrets left out.
type SystemConfiguration struct {
	Server struct {
		Port string `json:"port"`
		Mode string `json:"mode"`
	} `json:"server"`
	Storage struct {
		Driver       string `json:"driver"`
		RedisEnabled bool   `json:"redis_enabled"`
		KafkaEnabled bool   `json:"kafka_enabled"`
	} `json:"storage"`
	ML struct {
		ModelName         string        `json:"model_name"`
		WeightsBackend    string        `json:"weights_backend"`
		Epochs            int           `json:"epochs"`
		BatchSize         int           `json:"batch_size"`
		ValidationSplit   float64       `json:"validation_split"`
		MinSamples        int           `json:"min_samples"`
		ScoreCacheTTL     time.Duration `json:"score_cache_ttl"`
		BundleConcurrency int           `json:"bundle_concurrency"`
	} `json:"ml"`
	Reconcile struct {
		OnStartup bool          `json:"on_startup"`
		Interval  time.Duration `json:"interval"`
	} `json:"reconcile"`
	RateLimit struct {
		Default int           `json:"default"`
		Admin   int           `json:"admin"`
		Window  time.Duration `json:"window"`
	} `json:"rate_limit"`
}

// GetSystemConfiguration returns the running configuration
func (h *AdminHandler) GetSystemConfiguration(c *gin.Context) {
	cfg := h.config
	var out SystemConfiguration

	out.Server.Port = cfg.Server.Port
	out.Server.Mode = cfg.Server.Mode
	out.Storage.Driver = cfg.Database.Driver
	out.Storage.RedisEnabled = cfg.Redis.Enabled
	out.Storage.KafkaEnabled = cfg.Kafka.Enabled
	out.ML.ModelName = cfg.ML.ModelName
	out.ML.WeightsBackend = cfg.ML.WeightsBackend
	out.ML.Epochs = cfg.ML.Training.Epochs
	out.ML.BatchSize = cfg.ML.Training.BatchSize
	out.ML.ValidationSplit = cfg.ML.Training.ValidationSplit
	out.ML.MinSamples = cfg.ML.Training.MinSamples
	out.ML.ScoreCacheTTL = cfg.ML.ScoreCacheTTL
	out.ML.BundleConcurrency = cfg.ML.BundleConcurrency
	out.Reconcile.OnStartup = cfg.Reconcile.OnStartup
	out.Reconcile.Interval = cfg.Reconcile.Interval
	out.RateLimit.Default = cfg.Auth.RateLimit.Default
	out.RateLimit.Admin = cfg.Auth.RateLimit.Admin
	out.RateLimit.Window = cfg.Auth.RateLimit.Window

	c.JSON(http.StatusOK, gin.H{
		"config":    out,
		"timestamp": time.Now().UTC(),
	})
}

// ListJobs returns the maintenance jobs known to this instance
func (h *AdminHandler) ListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CleanupJobs forgets finished jobs older than ?older_than (default 1h)
func (h *AdminHandler) CleanupJobs(c *gin.Context) {
	olderThan := time.Hour
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			errorResponse(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "older_than must be a non-negative duration", nil)
			return
		}
		olderThan = d
	}

	removed := h.jobs.Cleanup(olderThan)
	h.logger.WithField("removed", removed).Info("Finished jobs cleaned up")
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
