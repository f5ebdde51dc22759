// Package metrics exposes the Prometheus counters and histograms the
// pipeline's components record against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts ingress HTTP requests by status.
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_webhook_requests_total",
			Help: "Total webhook ingress requests, by outcome.",
		},
		[]string{"outcome"},
	)

	// EventsProcessedTotal counts TransferEvents the alert engine evaluated.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_events_processed_total",
			Help: "Total TransferEvents evaluated by the alert engine, by direction.",
		},
		[]string{"direction"},
	)

	// AlertsDispatchedTotal counts notification dispatches by rule and channel.
	AlertsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_alerts_dispatched_total",
			Help: "Total alert dispatches, by rule and channel.",
		},
		[]string{"rule", "channel"},
	)

	// PayloadsSkippedTotal counts malformed or non-matching payloads dropped
	// before an event is ever produced.
	PayloadsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_payloads_skipped_total",
			Help: "Total webhook payload elements skipped, by reason.",
		},
		[]string{"reason"},
	)

	// PriceResolutionDuration times price-oracle lookups, separating cache
	// hits from upstream fetches.
	PriceResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chainwatch_price_resolution_duration_seconds",
			Help: "Duration of price resolution calls.",
		},
		[]string{"source"},
	)

	// WorkerPoolQueueDepth tracks how many tasks are queued for the ingress
	// worker pool at any point in time.
	WorkerPoolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainwatch_worker_pool_queue_depth",
		Help: "Current depth of the ingress worker pool's task queue.",
	})

	// ConnectedPushClients tracks live push-hub connections.
	ConnectedPushClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainwatch_connected_push_clients",
		Help: "The current number of connected push-notification clients.",
	})

	// SchedulerJobDuration times each scheduler job run.
	SchedulerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chainwatch_scheduler_job_duration_seconds",
			Help: "Duration of scheduler job runs, by job name.",
		},
		[]string{"job"},
	)
)
