package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued tracks accepted submissions per priority tier
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neviso_jobs_enqueued_total",
			Help: "Total number of jobs accepted into the queue",
		},
		[]string{"priority"},
	)

	// JobsCompleted tracks finished jobs by outcome
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neviso_jobs_completed_total",
			Help: "Total number of jobs finished, by outcome",
		},
		[]string{"outcome"},
	)

	// JobsRetried tracks retry re-enqueues by failure category
	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neviso_jobs_retried_total",
			Help: "Total number of retry re-enqueues",
		},
		[]string{"category"},
	)

	// RateLimited tracks rejected submissions per limit window
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neviso_rate_limited_total",
			Help: "Total number of submissions rejected by rate limiting",
		},
		[]string{"window"},
	)

	// CreditsDeducted tracks total minutes deducted
	CreditsDeducted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neviso_credits_deducted_minutes_total",
			Help: "Total credit minutes deducted",
		},
	)

	// CreditsRefunded tracks total minutes refunded
	CreditsRefunded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neviso_credits_refunded_minutes_total",
			Help: "Total credit minutes refunded",
		},
	)

	// QueueWaiting tracks the current waiting queue depth
	QueueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neviso_queue_waiting",
			Help: "Current number of waiting jobs",
		},
	)

	// QueueProcessing tracks the current in-flight job count
	QueueProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neviso_queue_processing",
			Help: "Current number of jobs being processed",
		},
	)

	// TransformLatency tracks external transformation call latency
	TransformLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neviso_transform_latency_seconds",
			Help:    "External transformation call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// StaleJobsSwept tracks jobs reclaimed by the stale sweep
	StaleJobsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neviso_stale_jobs_swept_total",
			Help: "Total number of stuck processing jobs reclaimed",
		},
	)
)
