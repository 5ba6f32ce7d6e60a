// Package metrics declares the Prometheus collectors for the try-on engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Camera Metrics
var (
	// CameraAcquisitionsTotal tracks acquisition attempts by strategy and outcome
	CameraAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_camera_acquisitions_total",
			Help: "Camera acquisition attempts by strategy and outcome (success/failure/skipped)",
		},
		[]string{"strategy", "outcome"},
	)

	// CameraLiveTracks tracks the number of camera tracks currently live
	CameraLiveTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tryon_camera_live_tracks",
			Help: "Camera tracks currently held by the stream manager",
		},
	)
)

// Detector Metrics
var (
	// DetectionsTotal tracks completed detections by outcome
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_detections_total",
			Help: "Completed detections by outcome (hand/empty/error)",
		},
		[]string{"outcome"},
	)

	// DetectorErrorsTotal tracks detector frame errors that were swallowed
	DetectorErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_detector_errors_total",
			Help: "Detector frame errors logged and skipped",
		},
	)

	// DetectionDuration tracks detector latency in seconds
	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tryon_detection_duration_seconds",
			Help:    "Detector round-trip duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Asset Metrics
var (
	// AssetLoadsTotal tracks asset loads by decoder and outcome
	AssetLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_asset_loads_total",
			Help: "Asset loads by decoder and outcome (success/decode_error/timeout/fetch_error)",
		},
		[]string{"decoder", "outcome"},
	)

	// AssetCacheHitsTotal tracks loads served from the per-URL cache
	AssetCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_asset_cache_hits_total",
			Help: "Asset loads served from the per-URL cache",
		},
	)
)

// Render Metrics
var (
	// FramesRenderedTotal tracks frames submitted to the render context
	FramesRenderedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_frames_rendered_total",
			Help: "Frames composited and presented",
		},
	)

	// FramesSkippedTotal tracks frames not rendered by reason
	FramesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_frames_skipped_total",
			Help: "Frames not rendered by reason (context_lost/no_video/error)",
		},
		[]string{"reason"},
	)

	// ContextEventsTotal tracks render context loss and restore events
	ContextEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_context_events_total",
			Help: "Render context events by kind (lost/restored)",
		},
		[]string{"kind"},
	)

	// ContextAllocationsTotal tracks render buffer allocations
	ContextAllocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_context_allocations_total",
			Help: "Render buffer allocations performed by the rasterizer",
		},
	)
)

// Session Metrics
var (
	// ActiveSessions tracks sessions in the active state
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tryon_active_sessions",
			Help: "Try-on sessions currently active",
		},
	)

	// SessionsTotal tracks session starts by outcome
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_sessions_total",
			Help: "Try-on session starts by outcome (opened/failed/cancelled)",
		},
		[]string{"outcome"},
	)

	// TeardownErrorsTotal tracks release steps that failed during close
	TeardownErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_teardown_errors_total",
			Help: "Release steps that returned an error or panicked during close",
		},
		[]string{"step"},
	)
)

// Server Metrics
var (
	// StreamClientsCurrent tracks connected MJPEG clients
	StreamClientsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tryon_stream_clients_current",
			Help: "Connected MJPEG stream clients",
		},
	)

	// EventClientsCurrent tracks connected lifecycle WebSocket clients
	EventClientsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tryon_event_clients_current",
			Help: "Connected lifecycle event WebSocket clients",
		},
	)
)
