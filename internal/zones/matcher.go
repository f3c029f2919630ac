// Package zones maps detection centers to configured regions and
// throttles triggers with per-zone mute windows.
package zones

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/metrics"
)

// Outcome classifies what the throttler did with a qualifying detection.
type Outcome int

const (
	OutcomeTriggered Outcome = iota
	OutcomeNoMatch
	OutcomeMuted
)

// Sink receives events that survived matching and throttling.
type Sink interface {
	Offer(ev monitor.DetectionEvent)
}

type Throttler struct {
	sink Sink
	log  zerolog.Logger
	now  func() time.Time

	mu         sync.Mutex
	muteFor    time.Duration
	mutedUntil map[string]time.Time
}

const DefaultMuteWindow = 5 * time.Minute

func NewThrottler(sink Sink, muteFor time.Duration, log zerolog.Logger) *Throttler {
	if muteFor <= 0 {
		muteFor = DefaultMuteWindow
	}
	return &Throttler{
		sink:       sink,
		log:        log,
		now:        time.Now,
		muteFor:    muteFor,
		mutedUntil: make(map[string]time.Time),
	}
}

// Match finds the first configured zone containing the normalized point.
// With no zones configured, an optional legacy rectangle acts as a
// simple gate: inside passes unzoned, outside is dropped.
func Match(zs []monitor.Zone, legacy *monitor.Rect, cx, cy float64) (string, bool) {
	if len(zs) == 0 {
		if legacy != nil && !legacy.Contains(cx, cy) {
			return "", false
		}
		return "", true
	}
	for _, z := range zs {
		if z.Coords.Contains(cx, cy) {
			return z.Name, true
		}
	}
	// Zones are an allow-list: no match means drop.
	return "", false
}

// MatchAndMaybeTrigger runs the full gate for one qualifying detection:
// zone match, mute check, enqueue. The mute timestamp is set before the
// method returns, so concurrent frames cannot double-trigger a zone.
func (t *Throttler) MatchAndMaybeTrigger(zs []monitor.Zone, legacy *monitor.Rect, cx, cy float64, ev monitor.DetectionEvent) Outcome {
	zoneName, ok := Match(zs, legacy, cx, cy)
	if !ok {
		t.log.Debug().
			Float64("cx", cx).
			Float64("cy", cy).
			Msg("detection outside configured zones, dropped")
		return OutcomeNoMatch
	}

	now := t.now()
	t.mu.Lock()
	until, muted := t.mutedUntil[zoneName]
	if muted && now.Before(until) {
		t.mu.Unlock()
		metrics.DetectionsMuted.Inc()
		t.log.Debug().
			Str("zone", zoneName).
			Time("muted_until", until).
			Msg("detection suppressed by mute window")
		return OutcomeMuted
	}
	if muted {
		delete(t.mutedUntil, zoneName)
	}
	t.mutedUntil[zoneName] = now.Add(t.muteFor)
	t.mu.Unlock()

	ev.ZoneName = zoneName
	t.sink.Offer(ev)
	metrics.DetectionsTriggered.Inc()
	t.log.Info().
		Str("zone", zoneName).
		Float64("confidence", ev.Confidence).
		Msg("detection event enqueued")
	return OutcomeTriggered
}

// SetMuteWindow changes the cooldown applied to future triggers.
func (t *Throttler) SetMuteWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.muteFor = d
	t.mu.Unlock()
}

// MutedZones returns zones whose mute window is still active. Expired
// entries are evicted here rather than by a background sweeper.
func (t *Throttler) MutedZones() map[string]time.Time {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]time.Time, len(t.mutedUntil))
	for zone, until := range t.mutedUntil {
		if now.Before(until) {
			out[zone] = until
		} else {
			delete(t.mutedUntil, zone)
		}
	}
	return out
}
