package mediator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "discoverer"

// Removal reasons recorded by the removals counter.
const (
	ReasonUnregistered = "unregistered"
	ReasonExpired      = "expired"
	ReasonTerminated   = "terminated"
	ReasonReplaced     = "replaced"
)

// Metrics are the registry's Prometheus collectors.
type Metrics struct {
	components      prometheus.Gauge
	registrations   prometheus.Counter
	removals        *prometheus.CounterVec
	queries         prometheus.Counter
	queryDuration   prometheus.Histogram
	reconfirmations prometheus.Counter
	recovered       *prometheus.CounterVec
	journalErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		components: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "components",
			Help:      "Number of registered components.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Count of successful registrations, including re-registrations.",
		}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Count of components removed from the registry, by reason.",
		}, []string{"reason"}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Count of registry searches.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Registry search latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		reconfirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_reconfirmations_total",
			Help:      "Count of reconfirmation pings sent for ending leases.",
		}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_candidates_total",
			Help:      "Count of journal recovery candidates, by outcome.",
		}, []string{"outcome"}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Count of failed journal appends.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.components,
			m.registrations,
			m.removals,
			m.queries,
			m.queryDuration,
			m.reconfirmations,
			m.recovered,
			m.journalErrors,
		)
	}
	return m
}
