// Package notify fans a processed detection out to the enabled
// channels: object-storage upload, SMS, and email. Everything here is
// best-effort and runs off the worker's critical path.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/metrics"
)

// Uploader pushes the artifact to object storage and returns a public
// reference.
type Uploader interface {
	Upload(ctx context.Context, artifactPath string) (string, error)
}

// SMSSender delivers a short text message.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// EmailSender delivers a message with the evidence image attached.
type EmailSender interface {
	Send(to, subject, body, attachmentPath string) error
}

// Destinations holds where notifications go.
type Destinations struct {
	SMSTo   string
	EmailTo string
}

const dispatchTimeout = 30 * time.Second

// Orchestrator spawns one bounded task per event. Channels are
// attempted independently: an SMS failure never blocks the email.
type Orchestrator struct {
	uploader Uploader
	sms      SMSSender
	email    EmailSender
	dest     Destinations
	config   func() monitor.RuntimeConfig
	log      zerolog.Logger

	timeout time.Duration
	wg      sync.WaitGroup
}

func NewOrchestrator(
	uploader Uploader,
	sms SMSSender,
	email EmailSender,
	dest Destinations,
	config func() monitor.RuntimeConfig,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		uploader: uploader,
		sms:      sms,
		email:    email,
		dest:     dest,
		config:   config,
		log:      log,
		timeout:  dispatchTimeout,
	}
}

// Enabled reports whether any channel would fire for this config.
func (o *Orchestrator) Enabled(cfg monitor.RuntimeConfig) bool {
	return cfg.SMSNotifications || cfg.EmailNotifications
}

// Dispatch schedules delivery for one event and returns immediately.
func (o *Orchestrator) Dispatch(ev monitor.DetectionEvent, artifactPath string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		o.deliver(ctx, ev, artifactPath)
	}()
}

// Drain waits for in-flight tasks up to the given timeout. Tasks still
// running after that are abandoned, not force-cancelled.
func (o *Orchestrator) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.log.Warn().Msg("notification tasks still in flight at shutdown, abandoning")
	}
}

func (o *Orchestrator) deliver(ctx context.Context, ev monitor.DetectionEvent, artifactPath string) {
	cfg := o.config()

	ref := ""
	if o.uploader != nil {
		url, err := o.uploader.Upload(ctx, artifactPath)
		if err != nil {
			metrics.NotificationErrors.WithLabelValues("storage").Inc()
			o.log.Error().Err(err).Str("artifact", artifactPath).Msg("artifact upload failed")
		} else {
			ref = url
		}
	}

	body := buildMessage(ev, cfg.CameraName, ref)

	if cfg.SMSNotifications && o.sms != nil {
		if err := o.sms.Send(ctx, o.dest.SMSTo, body); err != nil {
			metrics.NotificationErrors.WithLabelValues("sms").Inc()
			o.log.Error().Err(err).Msg("sms notification failed")
		}
	}

	if cfg.EmailNotifications && o.email != nil {
		subject := fmt.Sprintf("Phone detected on %s", cfg.CameraName)
		if err := o.email.Send(o.dest.EmailTo, subject, body, artifactPath); err != nil {
			metrics.NotificationErrors.WithLabelValues("email").Inc()
			o.log.Error().Err(err).Msg("email notification failed")
		}
	}
}

func buildMessage(ev monitor.DetectionEvent, cameraName, ref string) string {
	where := cameraName
	if ev.ZoneName != "" {
		where = fmt.Sprintf("%s, zone %s", cameraName, ev.ZoneName)
	}
	link := ref
	if link == "" {
		link = "image upload failed, see local evidence"
	}
	return fmt.Sprintf("Phone detected (%s) with confidence %.0f%% at %s. %s",
		where, ev.Confidence*100, ev.CreatedAt.Format(time.RFC1123), link)
}
