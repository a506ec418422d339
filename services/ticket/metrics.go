package ticket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_upstream_requests_total",
		Help: "Calls to the ticketing API by operation and outcome.",
	}, []string{"op", "outcome"})
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticket_upstream_duration_seconds",
		Help:    "Latency of ticketing API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_cache_lookups_total",
		Help: "Ticket detail cache lookups by result.",
	}, []string{"result"})
	detailShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_detail_shared_total",
		Help: "Detail requests answered by another in-flight call.",
	})
)
