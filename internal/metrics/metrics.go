package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleet_"

	TelemetryApplied    = "applied"
	TelemetryStale      = "stale"
	TelemetryInvalid    = "invalid"
	TelemetryOverloaded = "overloaded"
)

var (
	registerOnce sync.Once

	telemetryTotal *prometheus.CounterVec
	applyLatency   prometheus.Histogram

	alertsTotal   *prometheus.CounterVec
	alertsDropped prometheus.Counter

	commandRequests *prometheus.CounterVec
	commandResults  *prometheus.CounterVec

	snapshotsPublished prometheus.Counter
	snapshotsDropped   prometheus.Counter

	historyFailures *prometheus.CounterVec
	workerPanics    prometheus.Counter
	evictions       prometheus.Counter
)

// Init registers the engine metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		telemetryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_samples_total",
				Help: "Telemetry samples by outcome",
			},
			[]string{"result"},
		)
		applyLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "telemetry_apply_seconds",
				Help:    "Time from enqueue to applied state",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Alerts emitted by severity",
			},
			[]string{"severity"},
		)
		alertsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_dropped_total",
				Help: "Alerts dropped from the snapshot buffer on overflow",
			},
		)
		commandRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Command issue attempts by kind and result",
			},
			[]string{"kind", "result"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Commands reaching a terminal state",
			},
			[]string{"state"},
		)
		snapshotsPublished = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshots_published_total",
				Help: "Snapshots built and fanned out",
			},
		)
		snapshotsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshots_dropped_total",
				Help: "Snapshots dropped from a full subscriber backlog",
			},
		)
		historyFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_failures_total",
				Help: "History writes that failed or were shed",
			},
			[]string{"reason"},
		)
		workerPanics = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "worker_panics_total",
				Help: "Recovered panics in drone workers",
			},
		)
		evictions = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "drones_evicted_total",
				Help: "Drones removed after the silence window",
			},
		)

		prometheus.MustRegister(
			telemetryTotal,
			applyLatency,
			alertsTotal,
			alertsDropped,
			commandRequests,
			commandResults,
			snapshotsPublished,
			snapshotsDropped,
			historyFailures,
			workerPanics,
			evictions,
		)
	})
}

// RegisterGauge exposes a value computed on scrape, such as fleet size or
// outbox backlog. Registration errors are returned for duplicate names.
func RegisterGauge(name, help string, fn func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: metricPrefix + name, Help: help},
		fn,
	))
}

func IncTelemetry(result string) {
	if result == "" {
		result = TelemetryApplied
	}
	if telemetryTotal != nil {
		telemetryTotal.WithLabelValues(result).Inc()
	}
}

func ObserveApply(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if applyLatency != nil {
		applyLatency.Observe(d.Seconds())
	}
}

func IncAlert(severity string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(severity).Inc()
	}
}

func IncAlertsDropped(n int) {
	if n <= 0 {
		return
	}
	if alertsDropped != nil {
		alertsDropped.Add(float64(n))
	}
}

func IncCommandRequest(kind, result string) {
	if result == "" {
		result = "accepted"
	}
	if commandRequests != nil {
		commandRequests.WithLabelValues(kind, result).Inc()
	}
}

func IncCommandResult(state string) {
	if state == "" {
		state = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(state).Inc()
	}
}

func IncSnapshotPublished() {
	if snapshotsPublished != nil {
		snapshotsPublished.Inc()
	}
}

func IncSnapshotDropped() {
	if snapshotsDropped != nil {
		snapshotsDropped.Inc()
	}
}

func IncHistoryFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if historyFailures != nil {
		historyFailures.WithLabelValues(reason).Inc()
	}
}

func IncWorkerPanic() {
	if workerPanics != nil {
		workerPanics.Inc()
	}
}

func IncEviction() {
	if evictions != nil {
		evictions.Inc()
	}
}
