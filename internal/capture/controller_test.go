package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/settings"
	"phonewatch-service/internal/zones"
)

var (
	errFakeNoFrame    = errors.New("fake: no frame")
	errFakeDeviceGone = errors.New("fake: device gone")
	errFakeProcessing = errors.New("fake: buffer copy failed")
)

type fakeSession struct {
	reads  []error // nil means a good frame
	pos    int
	closed int
	open   bool
}

func (s *fakeSession) Read() (monitor.Frame, error) {
	var err error
	if s.pos < len(s.reads) {
		err = s.reads[s.pos]
		s.pos++
	}
	if err != nil {
		return monitor.Frame{}, err
	}
	return monitor.Frame{JPEG: []byte{0xFF, 0xD8, byte(s.pos)}, Width: 640, Height: 480, CapturedAt: time.Now()}, nil
}

func (s *fakeSession) Close() {
	s.closed++
	s.open = false
}

func (s *fakeSession) IsOpen() bool { return s.open }

type fakeOpener struct {
	opens    int
	failOpen bool
	last     *fakeSession
	reads    []error
}

func (o *fakeOpener) open(int) (Session, error) {
	o.opens++
	if o.failOpen {
		return nil, errors.New("fake: all backends failed")
	}
	// Scripted reads apply to the first session only; reopened sessions
	// read healthy frames.
	o.last = &fakeSession{open: true, reads: o.reads}
	o.reads = nil
	return o.last, nil
}

type fakeDetector struct {
	calls int
	boxes []monitor.Box
}

func (d *fakeDetector) Detect(monitor.Frame) ([]monitor.Box, error) {
	d.calls++
	return d.boxes, nil
}

type recordingSink struct {
	events []monitor.DetectionEvent
}

func (r *recordingSink) Offer(ev monitor.DetectionEvent) { r.events = append(r.events, ev) }

type harness struct {
	ctrl     *Controller
	store    *settings.Store
	opener   *fakeOpener
	detector *fakeDetector
	sink     *recordingSink
	clock    time.Time
}

// newHarness builds a controller whose clock starts Monday 08:00 inside
// the default Mon-Fri 07:00-16:00 window.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		opener:   &fakeOpener{},
		detector: &fakeDetector{},
		sink:     &recordingSink{},
		clock:    time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC), // Monday
	}
	h.store = settings.NewStore(monitor.Settings{
		Schedule: monitor.DefaultSchedule(),
		Config:   monitor.DefaultConfig(),
	})
	throttler := zones.NewThrottler(h.sink, time.Minute, zerolog.Nop())
	h.ctrl = NewController(
		h.store,
		h.opener.open,
		h.detector,
		throttler,
		ErrorClassifier{
			IsNoFrame:    func(err error) bool { return errors.Is(err, errFakeNoFrame) },
			IsDeviceGone: func(err error) bool { return errors.Is(err, errFakeDeviceGone) },
		},
		nil,
		zerolog.Nop(),
	)
	h.ctrl.cooldown = 0
	h.ctrl.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.ctrl.tick()
	}
}

func TestColdStartNeverAutoStarts(t *testing.T) {
	h := newHarness(t)

	h.ticks(10)

	assert.Zero(t, h.opener.opens)
	status := h.ctrl.Status()
	assert.False(t, status.IsRunning)
	assert.True(t, status.IsWithinSchedule)
}

func TestManualStartOpensWithinSchedule(t *testing.T) {
	h := newHarness(t)

	h.ctrl.apply(cmdStart)
	h.ctrl.tick()

	assert.Equal(t, 1, h.opener.opens)
	assert.True(t, h.ctrl.Status().IsRunning)
}

func TestManualStartOutsideScheduleStaysStopped(t *testing.T) {
	h := newHarness(t)
	h.clock = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) // Sunday

	h.ctrl.apply(cmdStart)
	h.ticks(3)

	assert.Zero(t, h.opener.opens)
	assert.False(t, h.ctrl.Status().IsRunning)
}

func TestManualStopHoldsThroughActiveWindow(t *testing.T) {
	h := newHarness(t)
	h.ctrl.apply(cmdStart)
	h.ctrl.tick()
	require.True(t, h.ctrl.Status().IsRunning)

	h.ctrl.apply(cmdStop)
	assert.False(t, h.ctrl.running)
	assert.Equal(t, 1, h.opener.last.closed)

	// Still within the window: the device must not restart.
	h.ticks(5)
	assert.Equal(t, 1, h.opener.opens)
	assert.False(t, h.ctrl.Status().IsRunning)
}

func TestNewScheduleWindowResumesAfterManualStop(t *testing.T) {
	h := newHarness(t)
	h.ctrl.apply(cmdStart)
	h.ctrl.tick()
	h.ctrl.apply(cmdStop)
	h.ticks(2)
	require.Equal(t, 1, h.opener.opens)

	// Leave the window, then enter Tuesday's window.
	h.clock = time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	h.ticks(2)
	h.clock = time.Date(2025, 6, 3, 7, 30, 0, 0, time.UTC)
	h.ticks(2)

	assert.Equal(t, 2, h.opener.opens)
	assert.True(t, h.ctrl.Status().IsRunning)
}

func TestScheduleEndStopsCapture(t *testing.T) {
	h := newHarness(t)
	h.ctrl.apply(cmdStart)
	h.ctrl.tick()
	require.True(t, h.ctrl.Status().IsRunning)

	h.clock = time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC)
	h.ctrl.tick()

	status := h.ctrl.Status()
	assert.False(t, status.IsRunning)
	assert.False(t, status.IsWithinSchedule)
	assert.Equal(t, 1, h.opener.last.closed)
}

func TestWindowResumeRequiresPriorManualStart(t *testing.T) {
	h := newHarness(t)

	// Cross a window boundary without any human start.
	h.clock = time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	h.ticks(2)
	h.clock = time.Date(2025, 6, 3, 7, 30, 0, 0, time.UTC)
	h.ticks(2)

	assert.Zero(t, h.opener.opens)
}

func TestReadFailuresRecycleOncePerThreshold(t *testing.T) {
	h := newHarness(t)
	h.opener.reads = []error{
		errFakeNoFrame, errFakeNoFrame, errFakeNoFrame, errFakeNoFrame, errFakeNoFrame,
	}
	h.ctrl.apply(cmdStart)
	h.ctrl.tick() // opens and consumes the first failing read
	require.Equal(t, 1, h.opener.opens)
	first := h.opener.last

	// Failures two through four: under threshold, no recycle yet.
	h.ticks(3)
	assert.Equal(t, 1, h.opener.opens)

	// Fifth consecutive failure crosses the threshold exactly once.
	h.ctrl.tick()
	assert.Equal(t, 2, h.opener.opens)
	assert.Equal(t, 1, first.closed)

	// Healthy frames afterwards: no further recycling.
	h.ticks(5)
	assert.Equal(t, 2, h.opener.opens)
}

func TestDeviceGoneRecyclesImmediately(t *testing.T) {
	h := newHarness(t)
	h.opener.reads = []error{errFakeDeviceGone}
	h.ctrl.apply(cmdStart)

	// The opening tick also reads; a dead handle recycles right away
	// without waiting for the consecutive-failure threshold.
	h.ctrl.tick()
	assert.Equal(t, 2, h.opener.opens)
	assert.True(t, h.ctrl.Status().IsRunning)
}

func TestProcessingErrorsRecycleAfterLimit(t *testing.T) {
	h := newHarness(t)
	reads := make([]error, processingErrorLimit)
	for i := range reads {
		reads[i] = errFakeProcessing
	}
	h.opener.reads = reads
	h.ctrl.apply(cmdStart)
	h.ctrl.tick() // opens and consumes the first error

	h.ticks(processingErrorLimit - 2)
	assert.Equal(t, 1, h.opener.opens)

	h.ctrl.tick()
	assert.Equal(t, 2, h.opener.opens)
}

func TestFrameSkipGateAndLastFrame(t *testing.T) {
	h := newHarness(t)
	h.ctrl.apply(cmdStart)
	h.ctrl.tick()

	h.ticks(9)

	// Every frame refreshes the published frame, only every third one
	// reaches the detector.
	_, ok := h.ctrl.LastFrame()
	assert.True(t, ok)
	assert.Equal(t, 3, h.detector.calls)
}

func TestQualifyingDetectionReachesThrottler(t *testing.T) {
	h := newHarness(t)
	h.detector.boxes = []monitor.Box{
		{ClassID: monitor.ClassCellPhone, Confidence: 0.9, X1: 0, Y1: 0, X2: 128, Y2: 96},
		{ClassID: monitor.ClassPerson, Confidence: 0.95, X1: 0, Y1: 0, X2: 640, Y2: 480},
		{ClassID: monitor.ClassCellPhone, Confidence: 0.1, X1: 0, Y1: 0, X2: 64, Y2: 48},
	}
	require.NoError(t, h.store.ReplaceZones([]monitor.Zone{
		{Name: "bench1", Coords: monitor.Rect{X: 0, Y: 0, W: 0.5, H: 0.5}},
	}))

	h.ctrl.apply(cmdStart)
	h.ctrl.tick()
	h.ticks(3)

	// Person and low-confidence phone boxes are filtered; the one
	// qualifying phone box triggers once and is then muted.
	require.Len(t, h.sink.events, 1)
	ev := h.sink.events[0]
	assert.Equal(t, "bench1", ev.ZoneName)
	assert.Equal(t, 0.9, ev.Confidence)
	assert.True(t, ev.ShouldRedact)
	assert.NotEmpty(t, ev.Frame.JPEG)
}

func TestShouldRedactFrozenAtEnqueueTime(t *testing.T) {
	h := newHarness(t)
	h.detector.boxes = []monitor.Box{
		{ClassID: monitor.ClassCellPhone, Confidence: 0.9, X1: 0, Y1: 0, X2: 128, Y2: 96},
	}

	snap := h.store.Snapshot()
	snap.Config.BlurFaces = false
	require.NoError(t, h.store.Replace(snap))

	h.ctrl.apply(cmdStart)
	h.ctrl.tick()
	h.ticks(3)

	require.Len(t, h.sink.events, 1)
	assert.False(t, h.sink.events[0].ShouldRedact)
}

func TestOpenFailureLeavesLoopStoppedButRetrying(t *testing.T) {
	h := newHarness(t)
	h.opener.failOpen = true
	h.ctrl.apply(cmdStart)

	h.ticks(3)
	assert.Equal(t, 3, h.opener.opens)
	assert.False(t, h.ctrl.Status().IsRunning)

	// Device comes back: next tick succeeds.
	h.opener.failOpen = false
	h.ctrl.tick()
	assert.True(t, h.ctrl.Status().IsRunning)
}
