package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careadmin_audit_entries_recorded_total",
		Help: "Audit entries handed to the persistence worker",
	})
	entriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careadmin_audit_entries_dropped_total",
		Help: "Audit entries dropped because the persistence buffer was full",
	})
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careadmin_audit_persist_failures_total",
		Help: "Audit entry writes that failed and were logged locally",
	})
	persistDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "careadmin_audit_persist_duration_ms",
		Help:    "Latency of audit entry writes in milliseconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
	})
)
