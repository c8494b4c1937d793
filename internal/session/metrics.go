package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careadmin_sessions_created_total",
		Help: "Session records created on first contact",
	})
	sessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careadmin_sessions_expired_total",
		Help: "Session records evicted after exceeding the inactivity timeout",
	})
	sessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "careadmin_sessions_rejected_total",
		Help: "Requests rejected by the inactivity gate",
	})
)
