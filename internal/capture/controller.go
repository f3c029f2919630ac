// Package capture runs the long-lived loop that owns the capture
// device: schedule reconciliation, frame reads with reconnect recovery,
// detection cadence, and hand-off to the zone throttler.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/metrics"
	"phonewatch-service/internal/schedule"
	"phonewatch-service/internal/settings"
	"phonewatch-service/internal/vision"
	"phonewatch-service/internal/zones"
)

// Session is the slice of the camera manager the loop needs. The raw
// device handle never leaves the camera package.
type Session interface {
	Read() (monitor.Frame, error)
	Close()
	IsOpen() bool
}

// OpenFunc opens a capture session for a device index.
type OpenFunc func(index int) (Session, error)

// IsNoFrame reports a transient empty read; IsDeviceGone a dead handle.
// Wired to the camera package's sentinels so tests can fake both.
type ErrorClassifier struct {
	IsNoFrame    func(error) bool
	IsDeviceGone func(error) bool
}

const (
	// Consecutive invalid reads before the session is recycled.
	readFailureLimit = 5
	// Lower-level processing errors before a recycle with cooldown.
	processingErrorLimit = 10

	idleInterval   = 5 * time.Second
	frameInterval  = 100 * time.Millisecond
	reopenCooldown = 3 * time.Second
	detectEveryNth = 3
)

type command int

const (
	cmdStart command = iota
	cmdStop
)

// Controller owns the run-state machine. All state mutation happens on
// the Run goroutine; the API reads mutex-guarded snapshots only.
type Controller struct {
	store      *settings.Store
	open       OpenFunc
	detector   vision.Detector
	throttler  *zones.Throttler
	classify   ErrorClassifier
	preprocess func(monitor.Frame) monitor.Frame
	log        zerolog.Logger
	now        func() time.Time
	cooldown   time.Duration

	commands chan command

	// Loop-owned state, never touched off the Run goroutine.
	session          Session
	running          bool
	manualOverride   bool
	manuallyStarted  bool
	prevWithin       bool
	frameCount       uint64
	readFailures     int
	processingErrors int

	mu        sync.Mutex
	lastFrame *monitor.Frame
	status    monitor.StatusSnapshot
}

func NewController(
	store *settings.Store,
	open OpenFunc,
	detector vision.Detector,
	throttler *zones.Throttler,
	classify ErrorClassifier,
	preprocess func(monitor.Frame) monitor.Frame,
	log zerolog.Logger,
) *Controller {
	if preprocess == nil {
		preprocess = func(f monitor.Frame) monitor.Frame { return f }
	}
	return &Controller{
		store:      store,
		open:       open,
		detector:   detector,
		throttler:  throttler,
		classify:   classify,
		preprocess: preprocess,
		log:        log,
		now:        time.Now,
		cooldown:   reopenCooldown,
		commands:   make(chan command, 4),
		// A cold-started process never auto-starts; a human must opt in
		// once before schedule windows can resume capture.
		manualOverride: true,
	}
}

// Start requests an immediate manual start. It clears the manual-stop
// override and marks the session as human-initiated, which later allows
// schedule windows to auto-resume.
func (c *Controller) Start() {
	select {
	case c.commands <- cmdStart:
	default:
	}
}

// Stop requests an immediate manual stop. The override stays engaged
// until a new schedule window begins or Start is called.
func (c *Controller) Stop() {
	select {
	case c.commands <- cmdStop:
	default:
	}
}

// Status returns the read-only run state for the API boundary.
func (c *Controller) Status() monitor.StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastFrame returns the most recent frame, independent of detection
// cadence. The returned frame is never mutated after publication.
func (c *Controller) LastFrame() (monitor.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFrame == nil {
		return monitor.Frame{}, false
	}
	return *c.lastFrame, true
}

// Run drives the loop until ctx is cancelled. It never returns early:
// every failure inside an iteration is logged and absorbed.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info().Msg("capture loop started")
	defer func() {
		c.closeSession()
		c.publishStatus(false)
		c.log.Info().Msg("capture loop stopped")
	}()

	for {
		interval := frameInterval
		if !c.running {
			interval = idleInterval
		}
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case cmd := <-c.commands:
			timer.Stop()
			c.apply(cmd)
		case <-timer.C:
		}

		c.tick()
	}
}

func (c *Controller) apply(cmd command) {
	switch cmd {
	case cmdStart:
		c.manualOverride = false
		c.manuallyStarted = true
		c.log.Info().Msg("manual start requested")
	case cmdStop:
		c.manualOverride = true
		c.closeSession()
		c.log.Info().Msg("manual stop requested")
	}
}

// tick runs one iteration of the state machine: reconcile desired run
// state against the schedule, then do frame work if running.
func (c *Controller) tick() {
	snap := c.store.Snapshot()
	within := schedule.IsActiveNow(snap.Schedule, c.now())

	// A new schedule window auto-resumes only sessions a human has
	// started at least once; a cold-started process stays idle.
	if within && !c.prevWithin && c.manuallyStarted {
		c.manualOverride = false
	}
	c.prevWithin = within

	switch {
	case within && !c.running && !c.manualOverride:
		c.openSession(snap.Config.CameraIndex)
	case !within && c.running:
		c.log.Info().Msg("schedule window ended, stopping capture")
		c.closeSession()
		// Schedule-driven stop resets the override so the next window
		// behaves normally.
		c.manualOverride = false
	}
	c.publishStatus(within)

	if !c.running {
		return
	}
	c.captureFrame(snap)
}

func (c *Controller) captureFrame(snap monitor.Settings) {
	frame, err := c.session.Read()
	if err != nil {
		c.handleReadError(err, snap.Config.CameraIndex)
		return
	}

	c.readFailures = 0
	c.processingErrors = 0
	metrics.FramesCaptured.Inc()
	c.publishFrame(frame)

	c.frameCount++
	if c.frameCount%detectEveryNth != 0 {
		return
	}

	boxes, err := c.detector.Detect(c.preprocess(frame))
	if err != nil {
		// Detection errors are "no detections this frame".
		c.log.Debug().Err(err).Msg("detector error, skipping frame")
		return
	}

	for _, box := range boxes {
		if box.ClassID != monitor.ClassCellPhone || box.Confidence < snap.Config.ConfidenceThreshold {
			continue
		}
		cx, cy := box.CenterNorm(frame.Width, frame.Height)
		ev := monitor.DetectionEvent{
			Frame:        ownedCopy(frame),
			Confidence:   box.Confidence,
			ShouldRedact: snap.Config.BlurFaces,
			CreatedAt:    c.now(),
		}
		c.throttler.MatchAndMaybeTrigger(snap.Zones, snap.LegacyROI, cx, cy, ev)
	}
}

func (c *Controller) handleReadError(err error, index int) {
	if c.classify.IsDeviceGone != nil && c.classify.IsDeviceGone(err) {
		c.log.Warn().Err(err).Msg("capture device gone, reopening")
		c.recycleSession(index, false)
		return
	}
	if c.classify.IsNoFrame != nil && c.classify.IsNoFrame(err) {
		c.readFailures++
		if c.readFailures >= readFailureLimit {
			c.log.Warn().
				Int("consecutive_failures", c.readFailures).
				Msg("read failure threshold reached, reopening capture session")
			c.recycleSession(index, false)
		}
		return
	}

	c.processingErrors++
	c.log.Error().Err(err).Int("processing_errors", c.processingErrors).Msg("frame processing error")
	if c.processingErrors >= processingErrorLimit {
		c.log.Warn().Msg("processing error threshold reached, reopening with cooldown")
		c.recycleSession(index, true)
	}
}

func (c *Controller) recycleSession(index int, cooldown bool) {
	c.closeSession()
	c.readFailures = 0
	c.processingErrors = 0
	if cooldown {
		time.Sleep(c.cooldown)
	}
	metrics.CameraReopens.Inc()
	c.openSession(index)
}

func (c *Controller) openSession(index int) {
	s, err := c.open(index)
	if err != nil {
		c.log.Error().Err(err).Int("index", index).Msg("failed to open capture session")
		return
	}
	c.session = s
	c.running = true
	c.frameCount = 0
	c.readFailures = 0
	c.processingErrors = 0
	c.log.Info().Int("index", index).Msg("capture running")
}

func (c *Controller) closeSession() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.running = false
}

func (c *Controller) publishFrame(frame monitor.Frame) {
	c.mu.Lock()
	c.lastFrame = &frame
	c.mu.Unlock()
}

func (c *Controller) publishStatus(within bool) {
	c.mu.Lock()
	c.status = monitor.StatusSnapshot{IsRunning: c.running, IsWithinSchedule: within}
	c.mu.Unlock()
}

func ownedCopy(frame monitor.Frame) monitor.Frame {
	out := frame
	out.JPEG = make([]byte, len(frame.JPEG))
	copy(out.JPEG, frame.JPEG)
	return out
}
