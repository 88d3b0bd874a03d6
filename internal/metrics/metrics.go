// Package metrics exposes prometheus metrics for the offline queues.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Message queue
	MessagesQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_messages_queued_total",
			Help: "Total number of messages enqueued for offline delivery.",
		},
	)
	MessagesEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_messages_evicted_total",
			Help: "Total number of queued messages dropped by quota eviction.",
		},
		[]string{"reason"}, // age, capacity
	)
	MessagesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_messages_pending",
			Help: "Number of messages currently pending transmission.",
		},
	)

	// Media queue
	MediaUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_media_uploads_total",
			Help: "Total number of media upload attempts by outcome.",
		},
		[]string{"outcome"}, // success, failure
	)
	MediaPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_media_pending",
			Help: "Number of media uploads currently pending.",
		},
	)

	// Connectivity
	ProbeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connectivity_probe_failures_total",
			Help: "Total number of failed heartbeat probes.",
		},
	)
	OnlineTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectivity_transitions_total",
			Help: "Total number of online/offline edge transitions.",
		},
		[]string{"to"}, // online, offline
	)
)

// Register registers all sync metrics on the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		MessagesQueued,
		MessagesEvicted,
		MessagesPending,
		MediaUploads,
		MediaPending,
		ProbeFailures,
		OnlineTransitions,
	)
}
