package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aqi_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	CycleDuration   prometheus.Histogram

	// Fetch metrics.
	FetchRequests *prometheus.CounterVec   // labels: outcome={success,error,circuit_open}
	FetchDuration prometheus.Histogram     // upstream API latency
	FetchCache    *prometheus.CounterVec   // labels: result={hit,miss}
	FetchFallback prometheus.Counter       // simulated data substituted

	// Transform metrics.
	RecordsReceived prometheus.Counter
	RecordsSkipped  *prometheus.CounterVec // labels: reason
	AdvisoryLevel   *prometheus.GaugeVec   // labels: location, parameter; value = level ordinal

	// Load metrics.
	ReportsLoaded prometheus.Counter
	LoadErrors    prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one poll cycle across all queries.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Measurement API requests by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Measurement API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FetchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cache_total",
			Help:      "Fetch cache lookups by result.",
		}, []string{"result"}),
		FetchFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_fallback_total",
			Help:      "Fetches answered with simulated data after an upstream failure.",
		}),
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_received_total",
			Help:      "Raw measurement records received from the source.",
		}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Raw records dropped during normalization, by reason.",
		}, []string{"reason"}),
		AdvisoryLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "advisory_level",
			Help:      "Latest advisory level (0=Good .. 4=Hazardous) per location and parameter.",
		}, []string{"location", "parameter"}),
		ReportsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_loaded_total",
			Help:      "Reports written to all sinks.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_errors_total",
			Help:      "Reports that failed to load into at least one sink.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.CycleDuration,
		m.FetchRequests,
		m.FetchDuration,
		m.FetchCache,
		m.FetchFallback,
		m.RecordsReceived,
		m.RecordsSkipped,
		m.AdvisoryLevel,
		m.ReportsLoaded,
		m.LoadErrors,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
