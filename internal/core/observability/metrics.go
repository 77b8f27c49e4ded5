// Package observability holds the heatmap's Prometheus collectors and the
// helpers that update them. Every helper is safe to call before Init; samples
// are only exported once the collectors are registered.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var datasetLabel atomic.Value

func init() {
	datasetLabel.Store("default")
}

// SetDataset sets the dataset label applied to run and record metrics.
func SetDataset(s string) {
	if s == "" {
		s = "default"
	}
	datasetLabel.Store(s)
}

func getDataset() string {
	if v := datasetLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "default"
}

var (
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_records_total",
			Help: "Records mapped onto the grid, by outcome.",
		},
		[]string{"outcome", "dataset"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_runs_total",
			Help: "Aggregation runs by result.",
		},
		[]string{"result", "dataset"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heatmap_run_duration_seconds",
			Help:    "Wall time of one aggregation run.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	populatedCells = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heatmap_populated_cells",
			Help: "Non-zero cells in the most recent grid.",
		},
	)

	cellsByTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heatmap_cells_by_tier",
			Help: "Populated cells per intensity tier in the most recent grid.",
		},
		[]string{"tier"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Grid cache operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Grid lookups by outcome (memo_hit, redis_hit, miss).",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	kafkaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_errors_total",
			Help: "Kafka source and publisher errors by stage.",
		},
		[]string{"stage"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		recordsTotal, runsTotal, runDurationSeconds, populatedCells, cellsByTier,
		cacheOpTotal, redisOpDuration, cacheResults,
		httpRequestsTotal, httpRequestDurationSeconds, kafkaErrors, invalidationsTotal,
	}
}

// Init registers the collectors with reg. Registering twice with the same
// registry is a no-op; a nil reg or enabled=false leaves metrics unexported.
func Init(reg prometheus.Registerer, enabled bool) error {
	if reg == nil || !enabled {
		return nil
	}
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// AddRecords counts n records with the given outcome label.
func AddRecords(outcome string, n int) {
	if n <= 0 {
		return
	}
	recordsTotal.WithLabelValues(outcome, getDataset()).Add(float64(n))
}

// ObserveRun records one finished run; result is "ok" or an error class.
func ObserveRun(result string, d time.Duration) {
	runsTotal.WithLabelValues(result, getDataset()).Inc()
	if result == "ok" {
		runDurationSeconds.Observe(d.Seconds())
	}
}

// SetGrid publishes the populated-cell gauges of the latest grid.
func SetGrid(populated int, byTier map[string]int) {
	populatedCells.Set(float64(populated))
	cellsByTier.Reset()
	for tier, n := range byTier {
		cellsByTier.WithLabelValues(tier).Set(float64(n))
	}
}

// ObserveCacheOp records a Redis operation. A nil err counts as "ok".
func ObserveCacheOp(op string, err error, seconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpTotal.WithLabelValues(op, res).Inc()
	redisOpDuration.WithLabelValues(op).Observe(seconds)
}

func IncCacheResult(outcome string) {
	cacheResults.WithLabelValues(outcome).Inc()
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncKafkaError(stage string) {
	kafkaErrors.WithLabelValues(stage).Inc()
}

// ObserveInvalidation counts one invalidation event; an empty op is "unknown".
func ObserveInvalidation(op, result string) {
	if op == "" {
		op = "unknown"
	}
	invalidationsTotal.WithLabelValues(op, result).Inc()
}
