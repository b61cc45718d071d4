// Package metrics holds the Prometheus collectors for sync and grouping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal counts finished sync runs by trigger and final status.
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tourdesk_sync_runs_total",
		Help: "Total number of booking sync runs by trigger and status",
	}, []string{"trigger", "status"})

	// SyncDuration measures wall time of a sync run.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tourdesk_sync_duration_seconds",
		Help:    "Booking sync run duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"trigger"})

	// BookingsProcessed counts reconciled bookings by outcome.
	BookingsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tourdesk_sync_bookings_total",
		Help: "Bookings processed by sync, by outcome (inserted, updated, unchanged, error)",
	}, []string{"outcome"})

	// PagesFetched counts channel pages fetched.
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tourdesk_sync_pages_fetched_total",
		Help: "Total number of booking pages fetched from the channel",
	})

	// SyncInProgress is 1 while a run holds the sync lock in this process.
	SyncInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tourdesk_sync_in_progress",
		Help: "Whether a booking sync is running in this process",
	})

	// GroupsCreated counts groups created by auto-grouping and manual merges.
	GroupsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tourdesk_groups_created_total",
		Help: "Total number of tour groups created, by source (auto, manual)",
	}, []string{"source"})

	// GroupsDissolved counts groups dissolved after dropping to one live member.
	GroupsDissolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tourdesk_groups_dissolved_total",
		Help: "Total number of tour groups dissolved",
	})

	// EventsPublished counts domain events handed to the broker, by result.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tourdesk_events_published_total",
		Help: "Domain events published to the message broker, by routing key and result",
	}, []string{"routing_key", "result"})
)
