package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	expiryChecksTotal *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer, activeSessions func() float64) *metrics {
	m := &metrics{
		expiryChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsync_worker_session_expiry_checks_total",
			Help: "Session expiry checks by result.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobsync_worker_task_duration_seconds",
			Help:    "Worker task handling duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.expiryChecksTotal,
		m.taskDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "jobsync_active_sessions",
			Help: "Sessions currently held in memory.",
		}, activeSessions),
	)
	return m
}
