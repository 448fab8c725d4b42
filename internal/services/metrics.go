package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Business metrics. Registered once on the default registry and served by
// the /metrics endpoint.
var (
	comfortScoreRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_comfort_score_requests_total",
		Help: "Comfort score computations by kind and result",
	}, []string{"kind", "result"})

	comfortScoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "comport_comfort_score_duration_seconds",
		Help:    "Comfort score computation latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"kind"})

	comfortCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_comfort_cache_lookups_total",
		Help: "Comfort score cache lookups by result",
	}, []string{"result"})

	bundlePartFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_bundle_part_failures_total",
		Help: "Bundle parts excluded from comfort aggregation by category",
	}, []string{"category"})

	compatibilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_compatibility_checks_total",
		Help: "Compatibility evaluations by outcome",
	}, []string{"compatible"})

	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_model_training_runs_total",
		Help: "Comfort model training runs by result",
	}, []string{"result"})

	trainingLoss = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "comport_model_training_loss",
		Help: "Final loss of the last training run",
	}, []string{"split"})

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comport_reconcile_runs_total",
		Help: "Catalog reconcile runs by result",
	}, []string{"result"})

	reconcileMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comport_reconcile_merged_products_total",
		Help: "Duplicate products merged away by the reconciler",
	})

	reconcileDeletedReviews = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comport_reconcile_deleted_reviews_total",
		Help: "Duplicate per-user reviews removed while merging products",
	})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
