package aitask

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aitask_tasks_created_total",
		Help: "AI tasks accepted through the API.",
	})
	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitask_sweeps_total",
		Help: "Sweeps by result (done, skipped, error).",
	}, []string{"result"})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aitask_sweep_duration_seconds",
		Help:    "Wall time of one sweep.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitask_tasks_processed_total",
		Help: "Per-task sweep outcomes.",
	}, []string{"outcome"})
	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aitask_gateway_duration_seconds",
		Help:    "Latency of AI gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "outcome"})
)
