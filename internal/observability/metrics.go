package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersExtended = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "offers_extended_total", Help: "Total offers extended to drivers"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "offers_accepted_total", Help: "Total offers accepted"})
	OffersDeclined = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "offers_declined_total", Help: "Total offers declined"})
	OffersExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "offers_expired_total", Help: "Total offers expired by the sweeper"})
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "claim_conflicts_total", Help: "Total claims lost to a concurrent session"})
	StaleActions   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "stale_actions_total", Help: "Total accept/decline calls rejected as stale"})

	TripsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "trips_terminal_total", Help: "Trips reaching a terminal state"},
		[]string{"state"},
	)

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "active_sessions", Help: "Dispatch sessions currently running"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "session_duration_seconds",
		Help:      "Time from session start to terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
