package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/ili.report/internal/ili/match"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
)

// Metrics holds the collectors describing reconciliation runs. A CLI
// invocation is short lived, so the registry is written to a node-exporter
// textfile rather than scraped.
type Metrics struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	matchRecords  *prometheus.CounterVec
	landmarks     prometheus.Gauge
	meanResidual  prometheus.Gauge
	maxResidual   prometheus.Gauge
	extrapolated  prometheus.Counter
	negative      prometheus.Counter
	critical      prometheus.Counter
	maxSeverity   prometheus.Gauge
	clusters      prometheus.Gauge
	lineages      prometheus.Gauge
	accelerating  prometheus.Gauge
	fitFailures   prometheus.Counter
	lastRunUnixTs prometheus.Gauge
}

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the metric namespace. The default is "ili".
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets the run duration buckets, in seconds.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Metrics) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry registers the collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Metrics) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// NewMetrics creates and registers the collectors. Go runtime and process
// collectors are not included.
func NewMetrics(opts ...Option) *Metrics {
	m := &Metrics{
		namespace: "ili",
		buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Survey pair reconciliations by outcome",
	}, []string{"outcome"})
	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of one survey pair reconciliation",
		Buckets:   m.buckets,
	})
	m.matchRecords = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "match",
		Name:      "records_total",
		Help:      "Match records by status",
	}, []string{"status"})
	m.landmarks = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "alignment",
		Name:      "matched_landmarks",
		Help:      "Landmark pairs used by the latest alignment",
	})
	m.meanResidual = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "alignment",
		Name:      "mean_abs_residual_feet",
		Help:      "Mean absolute landmark residual of the latest alignment",
	})
	m.maxResidual = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "alignment",
		Name:      "max_abs_residual_feet",
		Help:      "Maximum absolute landmark residual of the latest alignment",
	})
	m.extrapolated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "alignment",
		Name:      "extrapolated_records_total",
		Help:      "Records corrected outside the landmark range",
	})
	m.negative = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "growth",
		Name:      "negative_total",
		Help:      "Matched pairs with zero or negative depth growth",
	})
	m.critical = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "growth",
		Name:      "already_critical_total",
		Help:      "Matched pairs already at or beyond critical depth",
	})
	m.maxSeverity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "growth",
		Name:      "max_severity",
		Help:      "Highest severity score of the latest run",
	})
	m.clusters = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "cluster",
		Name:      "clusters",
		Help:      "Clusters found in the latest run",
	})
	m.lineages = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "lineage",
		Name:      "lineages",
		Help:      "Lineages analysed in the latest series",
	})
	m.accelerating = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "lineage",
		Name:      "accelerating",
		Help:      "Lineages flagged as accelerating in the latest series",
	})
	m.fitFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "lineage",
		Name:      "fit_failures_total",
		Help:      "Growth model fits that failed and were excluded",
	})
	m.lastRunUnixTs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the latest reconciliation",
	})

	// Pre-create status series so a run with no UNCERTAIN records still
	// reports a zero.
	for _, s := range []match.Status{match.Matched, match.Uncertain, match.Missing, match.New} {
		m.matchRecords.WithLabelValues(string(s))
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun records one pair reconciliation. A nil result with a non-nil
// error counts as a failed run.
func (m *Metrics) ObserveRun(res *pipeline.Result, elapsed time.Duration, err error) {
	m.runDuration.Observe(elapsed.Seconds())
	m.lastRunUnixTs.SetToCurrentTime()
	if err != nil || res == nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()

	s := res.Summary
	m.matchRecords.WithLabelValues(string(match.Matched)).Add(float64(s.Matched))
	m.matchRecords.WithLabelValues(string(match.Uncertain)).Add(float64(s.Uncertain))
	m.matchRecords.WithLabelValues(string(match.Missing)).Add(float64(s.Missing))
	m.matchRecords.WithLabelValues(string(match.New)).Add(float64(s.New))

	m.landmarks.Set(float64(res.Alignment.MatchedLandmarks))
	m.meanResidual.Set(res.Alignment.MeanAbsResidual)
	m.maxResidual.Set(res.Alignment.MaxAbsResidual)
	m.extrapolated.Add(float64(res.Alignment.Extrapolated))

	m.negative.Add(float64(res.GrowthSummary.Negative))
	m.critical.Add(float64(res.GrowthSummary.Critical))
	m.maxSeverity.Set(res.GrowthSummary.MaxSeverity)

	if res.Clusters != nil {
		m.clusters.Set(float64(len(res.Clusters.Clusters)))
	}
}

// ObserveSeries records the lineage stage of a multi-survey run. Pair
// results are observed separately through ObserveRun.
func (m *Metrics) ObserveSeries(res *pipeline.SeriesResult) {
	if res == nil || res.Lineages == nil {
		return
	}
	m.lineages.Set(float64(len(res.Lineages.Records)))
	m.accelerating.Set(float64(res.Lineages.Accelerating))
	m.fitFailures.Add(float64(res.Lineages.FitFailures))
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node-exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	Logf("metrics written to %s", path)
	return nil
}
