package services

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/internal/database"
	"github.com/temcen/comport/internal/store"
)

type HealthService struct {
	config  *config.Config
	logger  *logrus.Logger
	db      *database.Database
	store   store.Store
	comfort *ComfortRatingService
	bus     interface{ GetMetrics() map[string]interface{} }

	healthCheckStatus   *prometheus.GaugeVec
	lastHealthCheck     *prometheus.GaugeVec
	systemMetrics       *prometheus.GaugeVec
	dbConnectionMetrics *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func NewHealthService(cfg *config.Config, logger *logrus.Logger, db *database.Database, st store.Store, comfort *ComfortRatingService) *HealthService {
	hs := &HealthService{
		config:  cfg,
		logger:  logger,
		db:      db,
		store:   st,
		comfort: comfort,
	}

	hs.healthCheckStatus = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.systemMetrics = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, []string{"metric_type"})

	hs.dbConnectionMetrics = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "database_connection_pool_usage",
		Help: "Database connection pool usage",
	}, []string{"database", "state"})

	return hs
}

// registerGaugeVec registers a gauge, reusing the existing collector when
// another instance already registered it.
func registerGaugeVec(logger *logrus.Logger, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(opts, labels)
	if err := prometheus.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		logger.WithError(err).Warnf("Failed to register %s metric", opts.Name)
	}
	return gauge
}

// AttachBus adds message bus consumer statistics to health details.
func (s *HealthService) AttachBus(bus interface{ GetMetrics() map[string]interface{} }) {
	s.bus = bus
}

// Start runs the background metric collectors until ctx is done.
func (s *HealthService) Start(ctx context.Context) {
	go s.collectSystemMetrics(ctx)
	go s.collectDatabaseMetrics(ctx)
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Details:   make(map[string]interface{}),
	}

	critical := map[string]func(context.Context) error{
		"store": s.store.Ping,
	}
	nonCritical := map[string]func(context.Context) error{}
	if s.db != nil && s.db.Redis != nil {
		nonCritical["redis_hot"] = redisPing(s.db.Redis.Hot)
		nonCritical["redis_warm"] = redisPing(s.db.Redis.Warm)
	}

	allCriticalHealthy := true
	for _, name := range sortedKeys(critical) {
		if err := s.runCheck(ctx, critical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	for _, name := range sortedKeys(nonCritical) {
		if err := s.runCheck(ctx, nonCritical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	if s.comfort != nil {
		status.Details["comfort_model_ready"] = s.comfort.Ready()
	}
	if s.bus != nil {
		status.Details["kafka"] = s.bus.GetMetrics()
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	return status
}

func (s *HealthService) runCheck(ctx context.Context, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return check(ctx)
}

func redisPing(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func sortedKeys(m map[string]func(context.Context) error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *HealthService) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var memStats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runtime.ReadMemStats(&memStats)
		s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
		s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
		s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
		s.systemMetrics.WithLabelValues("gc_pause_ns").Set(float64(memStats.PauseNs[(memStats.NumGC+255)%256]))
	}
}

func (s *HealthService) collectDatabaseMetrics(ctx context.Context) {
	if s.db == nil || s.db.PG == nil {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := s.db.PG.Stat()
		s.dbConnectionMetrics.WithLabelValues("postgresql", "acquired_conns").Set(float64(stats.AcquiredConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "idle_conns").Set(float64(stats.IdleConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "max_conns").Set(float64(stats.MaxConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "total_conns").Set(float64(stats.TotalConns()))
		if stats.MaxConns() > 0 {
			usage := float64(stats.AcquiredConns()) / float64(stats.MaxConns()) * 100
			s.dbConnectionMetrics.WithLabelValues("postgresql", "usage_percent").Set(usage)
		}
	}
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	s.healthCheckStatus.WithLabelValues(serviceName).Set(value)
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
