// Package metrics exposes the pipeline's Prometheus counters. The
// fail-open redaction path in particular must be visible here, not just
// in logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CameraReopens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_camera_reopens_total",
		Help: "Times the capture session was closed and reopened after failures.",
	})

	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_frames_captured_total",
		Help: "Frames successfully read from the capture device.",
	})

	DetectionsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_detections_triggered_total",
		Help: "Detection events enqueued for the redaction worker.",
	})

	DetectionsMuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_detections_muted_total",
		Help: "Qualifying detections suppressed by an active zone mute window.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_events_dropped_total",
		Help: "Detection events evicted from a full queue (drop-oldest).",
	})

	RedactionFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_redaction_fail_open_total",
		Help: "Events persisted unredacted because the redactor failed or was unavailable.",
	})

	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phonewatch_persist_errors_total",
		Help: "Detection events lost to artifact or database persistence failures.",
	})

	NotificationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phonewatch_notification_errors_total",
		Help: "Notification failures by channel.",
	}, []string{"channel"})
)
