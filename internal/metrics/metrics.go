// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelforge"

var (
	// Registry is scraped by the ops listener; collectors register here rather
	// than on prometheus.DefaultRegisterer.
	Registry = prometheus.NewRegistry()

	JobTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions, partitioned by job kind and target status.",
		},
		[]string{"kind", "status"},
	)

	ProviderSubmissions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_submissions_total",
			Help:      "Submissions to generation providers, partitioned by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	ProviderWaits = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_wait_seconds",
			Help:      "Time spent waiting for provider completion.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"provider", "outcome"},
	)

	QueueClaims = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_claims_total",
			Help:      "Queue claim attempts, partitioned by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	PlatformPublishes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_publishes_total",
			Help:      "Publish attempts per platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	TokenRefreshes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes per platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
