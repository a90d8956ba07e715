package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geotrigger_bridge"

// Metrics holds the Prometheus counters, histograms, and gauges for the bridge.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	DecodeErrors     prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Correlation metrics.
	CheckIns      *prometheus.CounterVec // labels: kind={fence,beacon}
	CheckOuts     *prometheus.CounterVec // labels: kind={fence,beacon}
	DwellMinutes  *prometheus.HistogramVec
	Anomalies     *prometheus.CounterVec // labels: kind={duplicate_enter,stray_exit,negative_dwell,unauthenticated,expired_exit}
	OpenInstances prometheus.Gauge

	// Session metrics.
	SessionState prometheus.Gauge // 0 logged out, 1 authenticating, 2 authenticated
	AuthAttempts *prometheus.CounterVec // labels: outcome={success,failure,stale}

	// Tag publishing metrics.
	TagUpdates        *prometheus.CounterVec // labels: outcome={success,error}
	TagQueueDropped   prometheus.Counter
	TagUpdateDuration prometheus.Histogram
	OrphanedTagSets   prometheus.Counter // tag sets left registered by logout

	// Zone lookup metrics.
	ZoneLookups *prometheus.CounterVec // labels: outcome={success,error}
	ZoneCache   *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all bridge metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.DecodeErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.CheckIns,
		m.CheckOuts,
		m.DwellMinutes,
		m.Anomalies,
		m.OpenInstances,
		m.SessionState,
		m.AuthAttempts,
		m.TagUpdates,
		m.TagQueueDropped,
		m.TagUpdateDuration,
		m.OrphanedTagSets,
		m.ZoneLookups,
		m.ZoneCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}

	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      help("Total messages read from the source topic."),
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      help("Total trigger events that could not be decoded."),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the pipeline is active, 0 when shut down."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of messages per batch extracted from Kafka."),
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      help("Duration of a complete extract-correlate-commit cycle."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		CheckIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_ins_total",
			Help:      help("Check-ins delivered by trigger kind."),
		}, []string{"kind"}),
		CheckOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_outs_total",
			Help:      help("Check-outs delivered by trigger kind."),
		}, []string{"kind"}),
		DwellMinutes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dwell_minutes",
			Help:      help("Dwell duration reported on check-out, in whole minutes."),
			Buckets:   []float64{0, 1, 2, 5, 10, 15, 30, 60, 120, 240},
		}, []string{"kind"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_anomalies_total",
			Help:      help("Suppressed or clamped trigger events by anomaly kind."),
		}, []string{"kind"}),
		OpenInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_trigger_instances",
			Help:      help("Trigger instances currently checked in."),
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      help("0 logged out, 1 authenticating, 2 authenticated."),
		}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      help("Completed authentication attempts by outcome."),
		}, []string{"outcome"}),
		TagUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_updates_total",
			Help:      help("Tag updates handed to the registrar by outcome."),
		}, []string{"outcome"}),
		TagQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_queue_dropped_total",
			Help:      help("Tag deltas dropped because the publish queue was full."),
		}),
		TagUpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tag_update_duration_seconds",
			Help:      help("Registrar call duration in seconds."),
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		OrphanedTagSets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_tag_sets_total",
			Help:      help("Tag sets still registered when logout discarded their instances."),
		}),
		ZoneLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_lookups_total",
			Help:      help("Zone lookups against the location backend by outcome."),
		}, []string{"outcome"}),
		ZoneCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_cache_total",
			Help:      help("Zone cache lookups by result."),
		}, []string{"result"}),
	}
}
