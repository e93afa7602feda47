package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarmotion_commands_accepted_total",
			Help: "Commands forwarded to the avatar controller",
		},
		[]string{"command"},
	)

	CommandsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarmotion_commands_dropped_total",
			Help: "Commands dropped by the debounce window or a full inbox",
		},
		[]string{"reason"},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarmotion_animation_resolutions_total",
			Help: "Animation resolutions by matching tier",
		},
		[]string{"tier"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "avatarmotion_tick_duration_seconds",
			Help:    "Wall time spent inside one runtime tick",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02},
		},
	)

	ChatLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "avatarmotion_chat_latency_seconds",
			Help: "Chat backend completion latency in seconds",
		},
	)

	ChatErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarmotion_chat_errors_total",
			Help: "Chat backend failures by status",
		},
		[]string{"status"},
	)

	TrackerConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarmotion_tracker_connections",
			Help: "Number of connected tracking clients",
		},
	)

	CatalogClips = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarmotion_catalog_clips",
			Help: "Animation clips in the currently loaded model",
		},
	)
)
