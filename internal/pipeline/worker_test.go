package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonewatch-service/internal/domain/monitor"
)

type fakeRedactor struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	marker byte
}

func (f *fakeRedactor) Redact(frame *monitor.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("cascade unavailable")
	}
	frame.JPEG = append(frame.JPEG, f.marker)
	return nil
}

type fakeArtifacts struct {
	mu    sync.Mutex
	saved []monitor.Frame
	fail  bool
}

func (f *fakeArtifacts) Save(frame monitor.Frame) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("disk full")
	}
	f.saved = append(f.saved, frame)
	return fmt.Sprintf("detections/%d.jpg", len(f.saved)), nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []monitor.DetectionRecord
	fail bool
}

func (f *fakeRecorder) SaveDetection(_ context.Context, rec monitor.DetectionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.recs = append(f.recs, rec)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	jobs    []string
	enabled bool
}

func (f *fakeNotifier) Dispatch(_ monitor.DetectionEvent, artifactPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, artifactPath)
}

func (f *fakeNotifier) Enabled(monitor.RuntimeConfig) bool { return f.enabled }

type workerHarness struct {
	queue     *Queue
	redactor  *fakeRedactor
	artifacts *fakeArtifacts
	recorder  *fakeRecorder
	notifier  *fakeNotifier
	worker    *Worker
}

func newHarness() *workerHarness {
	h := &workerHarness{
		queue:     NewQueue(8),
		redactor:  &fakeRedactor{marker: 0xEE},
		artifacts: &fakeArtifacts{},
		recorder:  &fakeRecorder{},
		notifier:  &fakeNotifier{enabled: true},
	}
	cfg := func() monitor.RuntimeConfig {
		c := monitor.DefaultConfig()
		c.EmailNotifications = true
		return c
	}
	h.worker = NewWorker(h.queue, h.redactor, h.artifacts, h.recorder, h.notifier, cfg, zerolog.Nop())
	h.worker.dequeueTimeout = 10 * time.Millisecond
	return h
}

func (h *workerHarness) runUntilPoison(t *testing.T) {
	t.Helper()
	go h.worker.Run(context.Background())
	h.queue.Poison()
	select {
	case <-h.worker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit on poison")
	}
}

func TestWorkerRedactsPersistsRecordsNotifies(t *testing.T) {
	h := newHarness()
	h.queue.Offer(monitor.DetectionEvent{
		Frame:        monitor.Frame{JPEG: []byte{0xFF, 0xD8}, Width: 640, Height: 480},
		Confidence:   0.91,
		ZoneName:     "bench1",
		ShouldRedact: true,
		CreatedAt:    time.Now(),
	})
	h.runUntilPoison(t)

	assert.Equal(t, 1, h.redactor.calls)
	require.Len(t, h.artifacts.saved, 1)
	assert.Equal(t, byte(0xEE), h.artifacts.saved[0].JPEG[len(h.artifacts.saved[0].JPEG)-1])

	require.Len(t, h.recorder.recs, 1)
	rec := h.recorder.recs[0]
	assert.Equal(t, "Camera 1", rec.Location)
	assert.Equal(t, "bench1", rec.ZoneName)
	assert.Equal(t, 0.91, rec.Confidence)
	assert.Equal(t, "Pending", rec.Status)

	assert.Equal(t, []string{"detections/1.jpg"}, h.notifier.jobs)
}

func TestWorkerSkipsRedactionWhenNotRequested(t *testing.T) {
	h := newHarness()
	h.queue.Offer(monitor.DetectionEvent{Frame: monitor.Frame{JPEG: []byte{1}}, ShouldRedact: false})
	h.runUntilPoison(t)

	assert.Zero(t, h.redactor.calls)
	assert.Len(t, h.artifacts.saved, 1)
}

func TestWorkerFailsOpenOnRedactionError(t *testing.T) {
	h := newHarness()
	h.redactor.fail = true
	h.queue.Offer(monitor.DetectionEvent{Frame: monitor.Frame{JPEG: []byte{1, 2, 3}}, ShouldRedact: true})
	h.runUntilPoison(t)

	// Unredacted snapshot still persisted and recorded.
	require.Len(t, h.artifacts.saved, 1)
	assert.Equal(t, []byte{1, 2, 3}, h.artifacts.saved[0].JPEG)
	assert.Len(t, h.recorder.recs, 1)
}

func TestWorkerDropsEventWhenArtifactSaveFails(t *testing.T) {
	h := newHarness()
	h.artifacts.fail = true
	h.queue.Offer(monitor.DetectionEvent{Frame: monitor.Frame{JPEG: []byte{1}}})
	h.runUntilPoison(t)

	assert.Empty(t, h.recorder.recs)
	assert.Empty(t, h.notifier.jobs)
}

func TestWorkerDropsEventWhenRecordFails(t *testing.T) {
	h := newHarness()
	h.recorder.fail = true
	h.queue.Offer(monitor.DetectionEvent{Frame: monitor.Frame{JPEG: []byte{1}}})
	h.runUntilPoison(t)

	assert.Len(t, h.artifacts.saved, 1)
	assert.Empty(t, h.notifier.jobs)
}

func TestWorkerSkipsNotifierWhenDisabled(t *testing.T) {
	h := newHarness()
	h.notifier.enabled = false
	h.queue.Offer(monitor.DetectionEvent{Frame: monitor.Frame{JPEG: []byte{1}}})
	h.runUntilPoison(t)

	assert.Len(t, h.recorder.recs, 1)
	assert.Empty(t, h.notifier.jobs)
}

func TestWorkerProcessesInOrder(t *testing.T) {
	h := newHarness()
	for i := 0; i < 5; i++ {
		h.queue.Offer(monitor.DetectionEvent{
			Frame:    monitor.Frame{JPEG: []byte{byte(i)}},
			ZoneName: fmt.Sprintf("z%d", i),
		})
	}
	h.runUntilPoison(t)

	require.Len(t, h.recorder.recs, 5)
	for i, rec := range h.recorder.recs {
		assert.Equal(t, fmt.Sprintf("z%d", i), rec.ZoneName)
	}
}

func TestWorkerExitsOnContextCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	go h.worker.Run(ctx)
	cancel()
	select {
	case <-h.worker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit on context cancel")
	}
}
