// Package metrics provides Prometheus instrumentation for the ChatHub call
// and subscription services. It exposes gauges for connection and call
// counts, counters for signaling failures and sync retries, and histograms
// for call setup and duration tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveCalls tracks the current number of live call sessions, labeled by
	// media type: "audio" or "video".
	ActiveCalls = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chathub_active_calls",
		Help: "Current number of live call sessions",
	}, []string{"media"})

	// CallSetupDuration records the time from call start to the call going
	// active (peer joined the media channel).
	CallSetupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chathub_call_setup_seconds",
		Help:    "Time from call start to active",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 45, 60},
	})

	// CallDuration records how long calls stayed active before teardown.
	CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chathub_call_duration_seconds",
		Help:    "Duration of calls from active to ended",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
	})

	// CallsEnded counts ended calls labeled by teardown reason.
	CallsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_calls_ended_total",
		Help: "Total number of ended calls by reason",
	}, []string{"reason"})

	// SignalingFailures counts signaling store write failures.
	SignalingFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chathub_signaling_failures_total",
		Help: "Total number of failed signaling record writes",
	})

	// SyncQueueDepth tracks the current depth of the pending subscription
	// sync queue.
	SyncQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_sync_queue_depth",
		Help: "Current number of pending subscription sync updates",
	})

	// SyncRetries counts background subscription sync retries, labeled by
	// outcome: "ok" or "failed".
	SyncRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_sync_retries_total",
		Help: "Total number of subscription sync retry attempts",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveCalls,
		CallSetupDuration,
		CallDuration,
		CallsEnded,
		SignalingFailures,
		SyncQueueDepth,
		SyncRetries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SyncReporter adapts the package-level sync metrics to the
// subscription.SyncMetrics port.
type SyncReporter struct{}

// SetQueueDepth updates the pending-queue depth gauge.
func (SyncReporter) SetQueueDepth(n int) {
	SyncQueueDepth.Set(float64(n))
}

// RetryAttempted counts one retry attempt by outcome.
func (SyncReporter) RetryAttempted(success bool) {
	if success {
		SyncRetries.WithLabelValues("ok").Inc()
	} else {
		SyncRetries.WithLabelValues("failed").Inc()
	}
}
