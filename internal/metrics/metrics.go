// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatches_sent_total",
			Help: "Total messages confirmed sent by the provider",
		},
	)

	DispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_failures_total",
			Help: "Total terminal dispatch failures",
		},
	)

	EntriesClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_entries_claimed_total",
			Help: "Total queue entries claimed by dispatch workers",
		},
	)

	EntriesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_entries_skipped_total",
			Help: "Total entries skipped (cancelled race or duplicate claim)",
		},
	)

	ProviderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_events_total",
			Help: "Total provider webhook events received, by type",
		},
		[]string{"event_type"},
	)

	ReconciliationMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_mismatches_total",
			Help: "Total provider events that matched no prospect",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		DispatchesSent,
		DispatchFailures,
		EntriesClaimed,
		EntriesSkipped,
		ProviderEvents,
		ReconciliationMismatches,
	)
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
