// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal   *prometheus.CounterVec
	staleRetriesTotal    prometheus.Counter
	postsPersistedTotal  prometheus.Counter
	persistFailuresTotal prometheus.Counter
	notificationsTotal   *prometheus.CounterVec
	cyclesTotal          *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwatch_fetch_attempts_total",
				Help: "Fetch attempts, labeled by strategy and outcome (ok, empty, error).",
			},
			[]string{"strategy", "outcome"},
		)

		staleRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "postwatch_stale_retries_total",
				Help: "Forced re-fetches triggered by an all-stale primary batch.",
			},
		)

		postsPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "postwatch_posts_persisted_total",
				Help: "Posts upserted into the store.",
			},
		)

		persistFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "postwatch_persist_failures_total",
				Help: "Store upserts that failed and were rolled back.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwatch_notifications_total",
				Help: "Notification dispatch attempts, labeled by outcome (sent, failed).",
			},
			[]string{"outcome"},
		)

		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwatch_cycles_total",
				Help: "Per-account polling cycles, labeled by outcome (ok, empty, error).",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns the HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one strategy attempt.
func ObserveFetch(strategy, outcome string) {
	if fetchAttemptsTotal != nil {
		fetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	}
}

// ObserveStaleRetry counts a forced refresh after staleness detection.
func ObserveStaleRetry() {
	if staleRetriesTotal != nil {
		staleRetriesTotal.Inc()
	}
}

// ObservePersist counts one upsert result.
func ObservePersist(ok bool) {
	if postsPersistedTotal == nil {
		return
	}
	if ok {
		postsPersistedTotal.Inc()
	} else {
		persistFailuresTotal.Inc()
	}
}

// ObserveNotification counts one dispatch attempt.
func ObserveNotification(sent bool) {
	if notificationsTotal == nil {
		return
	}
	if sent {
		notificationsTotal.WithLabelValues("sent").Inc()
	} else {
		notificationsTotal.WithLabelValues("failed").Inc()
	}
}

// ObserveCycle counts one completed account cycle.
func ObserveCycle(outcome string) {
	if cyclesTotal != nil {
		cyclesTotal.WithLabelValues(outcome).Inc()
	}
}
