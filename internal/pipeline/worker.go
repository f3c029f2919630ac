package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/metrics"
)

// Redactor blurs sensitive regions of a frame in place.
type Redactor interface {
	Redact(frame *monitor.Frame) error
}

// ArtifactStore persists the evidence image and returns its path.
type ArtifactStore interface {
	Save(frame monitor.Frame) (string, error)
}

// Recorder writes the detection row to the datastore.
type Recorder interface {
	SaveDetection(ctx context.Context, rec monitor.DetectionRecord) error
}

// Notifier dispatches notification work for a processed event. It must
// return immediately; delivery happens on the notifier's own goroutines.
type Notifier interface {
	Dispatch(ev monitor.DetectionEvent, artifactPath string)
	Enabled(cfg monitor.RuntimeConfig) bool
}

// Worker is the single consumer of the detection event queue. It
// redacts (fail-open), persists, records, and fans out notifications
// without ever blocking the capture loop.
type Worker struct {
	queue     *Queue
	redactor  Redactor
	artifacts ArtifactStore
	recorder  Recorder
	notifier  Notifier
	config    func() monitor.RuntimeConfig
	log       zerolog.Logger

	dequeueTimeout time.Duration
	done           chan struct{}
}

func NewWorker(
	queue *Queue,
	redactor Redactor,
	artifacts ArtifactStore,
	recorder Recorder,
	notifier Notifier,
	config func() monitor.RuntimeConfig,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		queue:          queue,
		redactor:       redactor,
		artifacts:      artifacts,
		recorder:       recorder,
		notifier:       notifier,
		config:         config,
		log:            log,
		dequeueTimeout: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}
}

// Run consumes events until the poison sentinel arrives or ctx is
// cancelled. Every error path logs and continues; nothing here may
// terminate the loop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.log.Info().Msg("redaction worker started")

	for {
		ev, poison, ok := w.queue.Dequeue(w.dequeueTimeout)
		if !ok {
			select {
			case <-ctx.Done():
				w.log.Info().Msg("redaction worker stopping on context cancel")
				return
			default:
				continue
			}
		}
		if poison {
			w.log.Info().Msg("redaction worker received shutdown sentinel")
			return
		}
		w.process(ctx, ev)
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) process(ctx context.Context, ev monitor.DetectionEvent) {
	if ev.ShouldRedact {
		if w.redactor == nil {
			metrics.RedactionFailOpen.Inc()
			w.log.Warn().Msg("no redactor configured, persisting unredacted snapshot")
		} else if err := w.redactor.Redact(&ev.Frame); err != nil {
			// Fail-open: evidence availability wins over redaction, but
			// the miss must be loud.
			metrics.RedactionFailOpen.Inc()
			w.log.Warn().Err(err).Msg("redaction failed, persisting unredacted snapshot")
		}
	}

	path, err := w.artifacts.Save(ev.Frame)
	if err != nil {
		metrics.PersistErrors.Inc()
		w.log.Error().Err(err).Msg("failed to persist detection artifact, event dropped")
		return
	}

	cfg := w.config()
	rec := monitor.DetectionRecord{
		Location:   cfg.CameraName,
		ZoneName:   ev.ZoneName,
		Confidence: ev.Confidence,
		ImagePath:  path,
		Status:     "Pending",
		CreatedAt:  ev.CreatedAt,
	}
	if err := w.recorder.SaveDetection(ctx, rec); err != nil {
		metrics.PersistErrors.Inc()
		w.log.Error().Err(err).Str("image_path", path).Msg("failed to record detection, event dropped")
		return
	}

	if w.notifier != nil && w.notifier.Enabled(cfg) {
		w.notifier.Dispatch(ev, path)
	}
}
