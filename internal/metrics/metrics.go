package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "url_scanner"

var (
	// ProviderVerdicts counts provider classifications by provider and verdict.
	ProviderVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_verdicts_total",
			Help:      "Number of provider classifications by verdict",
		},
		[]string{"provider", "verdict"},
	)

	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Duration of a single provider classification",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"provider"},
	)

	URLStatuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "url_statuses_total",
			Help:      "Number of aggregate URL classifications by status",
		},
		[]string{"status"},
	)

	ScanFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Number of URL scans whose results could not be stored",
		},
	)

	BlacklistInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blacklist_inserted_total",
			Help:      "Number of blacklist entries added by feed synchronization",
		},
		[]string{"source"},
	)

	// LoopFailures counts failed scheduler iterations by loop name.
	LoopFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_failures_total",
			Help:      "Number of scheduler iterations that ended with an error",
		},
		[]string{"loop"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ProviderVerdicts,
		ProviderDuration,
		URLStatuses,
		ScanFailures,
		BlacklistInserted,
		LoopFailures,
	)
}
