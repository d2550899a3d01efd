// Package metrics exposes the relay's Prometheus metrics on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linerelay"

// Registry holds every metric below plus Go runtime and process collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	WebhooksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_total",
		Help:      "LINE webhook deliveries by result (accepted, unauthorized, bad_request).",
	}, []string{"result"})

	EventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound events by outcome (created, failed, duplicate, ignored, malformed).",
	}, []string{"outcome"})

	CaseFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "case_failures_total",
		Help:      "Case creation failures by reason (auth, submission, panic).",
	}, []string{"reason"})

	ContactLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contact_lookups_total",
		Help:      "Contact lookups by result (found, missing, error).",
	}, []string{"result"})

	RepliesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_total",
		Help:      "LINE replies by result (sent, failed).",
	}, []string{"result"})

	LoginsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "crm_logins_total",
		Help:      "Salesforce logins by method and result.",
	}, []string{"method", "result"})

	SessionInvalidations = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "crm_session_invalidations_total",
		Help:      "Cached Salesforce sessions dropped after an auth failure.",
	})

	CRMRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "crm_request_duration_seconds",
		Help:      "Salesforce REST request latency by operation.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	InflightDeliveries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_deliveries",
		Help:      "Webhook deliveries currently being processed in the background.",
	})
)

// Handler renders the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
