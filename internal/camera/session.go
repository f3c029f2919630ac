// Package camera owns the physical capture device. Nothing outside
// this package touches the gocv handle directly.
package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"phonewatch-service/internal/domain/monitor"
)

var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNoFrame means the device is still open but produced nothing
	// usable this read; the caller decides when to give up.
	ErrNoFrame    = errors.New("no frame available")
	ErrDeviceGone = errors.New("capture device gone")
)

type backend struct {
	name string
	api  gocv.VideoCaptureAPI
}

// Tried in order against the requested index only. Falling back to a
// different physical device would silently point operators at the
// wrong camera.
var backends = []backend{
	{"v4l2", gocv.VideoCaptureV4L2},
	{"gstreamer", gocv.VideoCaptureGstreamer},
	{"any", gocv.VideoCaptureAny},
}

const (
	warmupAttempts = 5
	warmupDelay    = 100 * time.Millisecond

	captureWidth  = 640
	captureHeight = 480
)

// Session wraps one opened capture handle. Close is idempotent.
type Session struct {
	cap     *gocv.VideoCapture
	img     gocv.Mat
	index   int
	backend string
	open    bool
}

func (s *Session) Index() int { return s.index }

func (s *Session) Backend() string { return s.backend }

func (s *Session) IsOpen() bool { return s != nil && s.open }

// Read performs one capture attempt and returns an owned JPEG snapshot.
func (s *Session) Read() (monitor.Frame, error) {
	if !s.IsOpen() {
		return monitor.Frame{}, ErrDeviceGone
	}
	if ok := s.cap.Read(&s.img); !ok {
		if !s.cap.IsOpened() {
			return monitor.Frame{}, ErrDeviceGone
		}
		return monitor.Frame{}, ErrNoFrame
	}
	if s.img.Empty() || s.img.Cols() <= 0 || s.img.Rows() <= 0 {
		return monitor.Frame{}, ErrNoFrame
	}

	buf, err := gocv.IMEncode(".jpg", s.img)
	if err != nil {
		return monitor.Frame{}, fmt.Errorf("encoding frame: %w", err)
	}
	defer buf.Close()

	jpeg := make([]byte, len(buf.GetBytes()))
	copy(jpeg, buf.GetBytes())

	return monitor.Frame{
		JPEG:       jpeg,
		Width:      s.img.Cols(),
		Height:     s.img.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the handle. Safe to call repeatedly.
func (s *Session) Close() {
	if s == nil || !s.open {
		return
	}
	s.open = false
	_ = s.cap.Close()
	s.img.Close()
}

// Manager opens sessions with backend fallback and caches device
// discovery results.
type Manager struct {
	log zerolog.Logger

	devices *deviceCache
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:     log,
		devices: newDeviceCache(),
	}
}

// Open tries each backend strategy against the requested index,
// accepting the first one that survives a bounded warm-up read.
func (m *Manager) Open(index int) (*Session, error) {
	for _, b := range backends {
		cap, err := gocv.OpenVideoCaptureWithAPI(index, b.api)
		if err != nil || !cap.IsOpened() {
			if cap != nil {
				cap.Close()
			}
			m.log.Debug().
				Int("index", index).
				Str("backend", b.name).
				Msg("backend failed to open device")
			continue
		}

		cap.Set(gocv.VideoCaptureFrameWidth, captureWidth)
		cap.Set(gocv.VideoCaptureFrameHeight, captureHeight)

		s := &Session{cap: cap, img: gocv.NewMat(), index: index, backend: b.name, open: true}
		if m.warmUp(s) {
			m.log.Info().
				Int("index", index).
				Str("backend", b.name).
				Msg("capture session opened")
			return s, nil
		}
		s.Close()
		m.log.Warn().
			Int("index", index).
			Str("backend", b.name).
			Msg("device opened but produced no valid frames during warm-up")
	}

	return nil, fmt.Errorf("%w: index %d failed all backends", ErrDeviceUnavailable, index)
}

// warmUp requires at least one valid frame within a bounded number of
// reads before the backend is trusted.
func (m *Manager) warmUp(s *Session) bool {
	for attempt := 0; attempt < warmupAttempts; attempt++ {
		frame, err := s.Read()
		if err == nil && len(frame.JPEG) > 0 && frame.Width > 0 && frame.Height > 0 {
			return true
		}
		time.Sleep(warmupDelay)
	}
	return false
}

// ListDevices returns the cached discovery result, probing on first use.
func (m *Manager) ListDevices() []monitor.DeviceInfo {
	return m.devices.list()
}

// RefreshDevices forces a re-probe. Discovery is slow and must never
// run on the capture loop's cadence.
func (m *Manager) RefreshDevices() []monitor.DeviceInfo {
	return m.devices.refresh()
}
