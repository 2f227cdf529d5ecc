package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is shared by every session's engine. A nil *Metrics records
// nothing.
type Metrics struct {
	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	fetchTotal       *prometheus.CounterVec
	staleDiscards    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_mutations_total",
			Help: "Optimistic mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobsync_mutation_duration_seconds",
			Help:    "Time from optimistic apply to server confirmation or rollback.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_fetch_total",
			Help: "Reconciliation fetches by collection and outcome.",
		}, []string{"collection", "outcome"}),
		staleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_stale_discards_total",
			Help: "Fetched updates discarded because the record held a newer version.",
		}, []string{"collection"}),
	}
	reg.MustRegister(
		m.mutationsTotal,
		m.mutationDuration,
		m.fetchTotal,
		m.staleDiscards,
	)
	return m
}

func (m *Metrics) mutation(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(kind, outcome).Inc()
	if seconds >= 0 {
		m.mutationDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func (m *Metrics) fetch(collection Collection, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetchTotal.WithLabelValues(string(collection), outcome).Inc()
}

func (m *Metrics) stale(collection Collection) {
	if m == nil {
		return
	}
	m.staleDiscards.WithLabelValues(string(collection)).Inc()
}
