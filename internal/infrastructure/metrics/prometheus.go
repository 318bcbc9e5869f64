package metrics

import (
	"strconv"
	"time"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHitRate       prometheus.Gauge
	cacheKeys          prometheus.Gauge
	cacheMemoryBytes   prometheus.Gauge
	grpcRequests       *prometheus.CounterVec
	grpcDuration       *prometheus.HistogramVec
	grpcErrors         *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
}

// NewPrometheusExporter registers the portaria metrics with reg.
// A nil reg uses the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	// Cache counters are read from the collector at scrape time
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "portaria_cache_hits_total",
		Help: "Total number of rule and period cache hits",
	}, func() float64 { return float64(collector.GetCacheMetrics().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "portaria_cache_misses_total",
		Help: "Total number of rule and period cache misses",
	}, func() float64 { return float64(collector.GetCacheMetrics().Misses) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "portaria_cache_evictions_total",
		Help: "Total number of cache evictions due to memory limits",
	}, func() float64 { return float64(collector.GetCacheMetrics().Evictions) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "portaria_cache_errors_total",
		Help: "Total number of shared cache backend errors",
	}, func() float64 { return float64(collector.GetCacheMetrics().Errors) })

	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portaria_cache_hit_rate",
			Help: "Current cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portaria_cache_keys_current",
			Help: "Current number of keys in the in-process cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portaria_cache_memory_bytes",
			Help: "Current memory usage of the in-process cache in bytes",
		}),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portaria_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portaria_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portaria_grpc_errors_total",
				Help: "Total number of rejected gRPC calls by status code",
			},
			[]string{"method", "code"},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portaria_decisions_total",
				Help: "Total number of access decisions by reason",
			},
			[]string{"reason", "allowed"},
		),
		evaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portaria_evaluation_duration_seconds",
				Help:    "Duration of access evaluations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"reason"},
		),
	}
}

// Update refreshes gauges from the collector.
// Call periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records a rejected call with its status code.
func (e *PrometheusExporter) RecordError(method, code string) {
	e.grpcErrors.WithLabelValues(method, code).Inc()
}

// RecordDecision records a decision and its evaluation time.
func (e *PrometheusExporter) RecordDecision(reason string, allowed bool, duration time.Duration) {
	e.decisions.WithLabelValues(reason, strconv.FormatBool(allowed)).Inc()
	e.evaluationDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// DecisionObserver feeds engine decisions into the collector and exporter.
type DecisionObserver struct {
	collector *Collector
	exporter  *PrometheusExporter
}

// NewDecisionObserver creates an observer. exporter may be nil.
func NewDecisionObserver(collector *Collector, exporter *PrometheusExporter) *DecisionObserver {
	return &DecisionObserver{collector: collector, exporter: exporter}
}

// ObserveDecision records one decision
func (o *DecisionObserver) ObserveDecision(decision *entities.Decision, duration time.Duration) {
	o.collector.RecordDecision(decision.Reason, decision.Allowed)
	if o.exporter != nil {
		o.exporter.RecordDecision(decision.Reason, decision.Allowed, duration)
	}
}
