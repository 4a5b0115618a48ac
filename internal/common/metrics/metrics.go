// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_sent_total",
			Help: "Total number of messages dispatched",
		},
		[]string{"segment", "variant"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_failed_total",
			Help: "Total number of message sends that failed permanently",
		},
		[]string{"segment", "error_code"},
	)

	MessagesDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_deferred_total",
			Help: "Total number of sends deferred by rate limits or send windows",
		},
		[]string{"segment", "reason"},
	)

	ConsentBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consent_blocked_total",
			Help: "Total number of sends blocked by consent state",
		},
		[]string{"segment", "consent_state"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dispatch_send_duration_seconds",
			Help: "Duration of a single gateway send in seconds",
		},
		[]string{"gateway"},
	)

	DispatchQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Number of jobs waiting in the dispatch queue",
		},
		[]string{"campaign_id"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_alerts_raised_total",
			Help: "Total number of alerts raised by the campaign monitor",
		},
		[]string{"type", "severity"},
	)

	FollowUpSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "followup_sweeps_total",
			Help: "Total number of follow-up scheduler sweeps",
		},
	)

	SequencesStopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_sequences_stopped_total",
			Help: "Total number of follow-up sequences stopped, by reason",
		},
		[]string{"reason"},
	)
)
