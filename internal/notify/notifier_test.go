package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonewatch-service/internal/domain/monitor"
)

type stubUploader struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (s *stubUploader) Upload(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, path)
	if s.fail {
		return "", errors.New("bucket unreachable")
	}
	return "https://storage.example/" + path, nil
}

type stubSMS struct {
	mu     sync.Mutex
	bodies []string
	fail   bool
}

func (s *stubSMS) Send(_ context.Context, _, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	if s.fail {
		return errors.New("carrier rejected")
	}
	return nil
}

type stubEmail struct {
	mu          sync.Mutex
	bodies      []string
	attachments []string
	fail        bool
}

func (s *stubEmail) Send(_, _, body, attachment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	s.attachments = append(s.attachments, attachment)
	if s.fail {
		return errors.New("smtp down")
	}
	return nil
}

func testConfig(sms, email bool) func() monitor.RuntimeConfig {
	return func() monitor.RuntimeConfig {
		cfg := monitor.DefaultConfig()
		cfg.SMSNotifications = sms
		cfg.EmailNotifications = email
		return cfg
	}
}

func testEvent() monitor.DetectionEvent {
	return monitor.DetectionEvent{
		Confidence: 0.91,
		ZoneName:   "bench1",
		CreatedAt:  time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestDeliverAllChannels(t *testing.T) {
	up, sms, email := &stubUploader{}, &stubSMS{}, &stubEmail{}
	o := NewOrchestrator(up, sms, email, Destinations{SMSTo: "+100", EmailTo: "a@b.c"},
		testConfig(true, true), zerolog.Nop())

	o.deliver(context.Background(), testEvent(), "detections/x.jpg")

	require.Len(t, sms.bodies, 1)
	assert.Contains(t, sms.bodies[0], "zone bench1")
	assert.Contains(t, sms.bodies[0], "91%")
	assert.Contains(t, sms.bodies[0], "https://storage.example/detections/x.jpg")

	require.Len(t, email.bodies, 1)
	assert.Equal(t, "detections/x.jpg", email.attachments[0])
}

func TestUploadFailureDoesNotAbortChannels(t *testing.T) {
	up, sms, email := &stubUploader{fail: true}, &stubSMS{}, &stubEmail{}
	o := NewOrchestrator(up, sms, email, Destinations{}, testConfig(true, true), zerolog.Nop())

	o.deliver(context.Background(), testEvent(), "detections/x.jpg")

	require.Len(t, sms.bodies, 1)
	assert.Contains(t, sms.bodies[0], "upload failed")
	assert.Len(t, email.bodies, 1)
}

func TestSMSFailureDoesNotBlockEmail(t *testing.T) {
	up, sms, email := &stubUploader{}, &stubSMS{fail: true}, &stubEmail{}
	o := NewOrchestrator(up, sms, email, Destinations{}, testConfig(true, true), zerolog.Nop())

	o.deliver(context.Background(), testEvent(), "detections/x.jpg")

	assert.Len(t, sms.bodies, 1)
	assert.Len(t, email.bodies, 1)
}

func TestDisabledChannelsAreSkipped(t *testing.T) {
	up, sms, email := &stubUploader{}, &stubSMS{}, &stubEmail{}
	o := NewOrchestrator(up, sms, email, Destinations{}, testConfig(false, true), zerolog.Nop())

	o.deliver(context.Background(), testEvent(), "detections/x.jpg")

	assert.Empty(t, sms.bodies)
	assert.Len(t, email.bodies, 1)
}

func TestEnabled(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, Destinations{}, testConfig(false, false), zerolog.Nop())

	assert.False(t, o.Enabled(testConfig(false, false)()))
	assert.True(t, o.Enabled(testConfig(true, false)()))
	assert.True(t, o.Enabled(testConfig(false, true)()))
}

func TestDispatchRunsOffCallerAndDrains(t *testing.T) {
	up, sms, email := &stubUploader{}, &stubSMS{}, &stubEmail{}
	o := NewOrchestrator(up, sms, email, Destinations{}, testConfig(true, true), zerolog.Nop())

	for i := 0; i < 3; i++ {
		o.Dispatch(testEvent(), "detections/x.jpg")
	}
	o.Drain(2 * time.Second)

	sms.mu.Lock()
	defer sms.mu.Unlock()
	assert.Len(t, sms.bodies, 3)
}
