package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/creditapproval/internal/logger"
)

const namespace = "credit"

// Error kinds reported on predictions_failed_total
const (
	KindValidation     = "validation"
	KindModelNotLoaded = "model_not_available"
	KindUnexpected     = "unexpected"
)

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	predictions      *prometheus.CounterVec
	failures         *prometheus.CounterVec
	predictDuration  prometheus.Histogram
	approvalProb     prometheus.Histogram
	modelLoads       *prometheus.CounterVec
	modelLoadSeconds prometheus.Histogram
	modelLoaded      prometheus.Gauge
	auditDropped     prometheus.Counter
}

// New registers all collectors, including Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Completed predictions by risk level and outcome.",
		}, []string{"risk_level", "approved"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_failed_total",
			Help:      "Prediction requests that did not produce a decision, by kind.",
		}, []string{"kind"}),
		predictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent serving a prediction, including validation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		approvalProb: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_probability",
			Help:      "Distribution of predicted approval probabilities.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by result.",
		}, []string{"result"}),
		modelLoadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent reading and validating model artifacts.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		modelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 once a model bundle is in memory.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Decisions not written to the audit trail because the buffer was full.",
		}),
	}

	m.registry.MustRegister(
		m.predictions,
		m.failures,
		m.predictDuration,
		m.approvalProb,
		m.modelLoads,
		m.modelLoadSeconds,
		m.modelLoaded,
		m.auditDropped,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_warnings_total",
			Help:      "Warnings emitted, including those dropped by sampling.",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Errors emitted.",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePrediction records a completed prediction
func (m *Metrics) ObservePrediction(riskLevel string, approved bool, probability float64, took time.Duration) {
	outcome := "false"
	if approved {
		outcome = "true"
	}
	m.predictions.WithLabelValues(riskLevel, outcome).Inc()
	m.approvalProb.Observe(probability)
	m.predictDuration.Observe(took.Seconds())
}

// ObserveFailure records a prediction request that failed with the given kind
func (m *Metrics) ObserveFailure(kind string, took time.Duration) {
	m.failures.WithLabelValues(kind).Inc()
	m.predictDuration.Observe(took.Seconds())
}

// ObserveLoad records a model load attempt
func (m *Metrics) ObserveLoad(ok bool, took time.Duration) {
	result := "error"
	if ok {
		result = "success"
		m.modelLoaded.Set(1)
	}
	m.modelLoads.WithLabelValues(result).Inc()
	m.modelLoadSeconds.Observe(took.Seconds())
}

// AuditDropped counts one decision lost from the audit trail
func (m *Metrics) AuditDropped() {
	m.auditDropped.Inc()
}
