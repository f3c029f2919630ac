// Package settings holds the shared runtime configuration behind a
// read/write lock. Writers swap in a fully-validated snapshot; readers
// always get a consistent copy, never a partially-updated record.
package settings

import (
	"sync"

	"phonewatch-service/internal/domain/monitor"
)

type Store struct {
	mu   sync.RWMutex
	cur  monitor.Settings
	subs []func(monitor.Settings)
}

func NewStore(initial monitor.Settings) *Store {
	return &Store{cur: clone(initial)}
}

// Snapshot returns a copy of the current settings. The caller may keep
// it without locking; it never mutates under them.
func (s *Store) Snapshot() monitor.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.cur)
}

// Replace validates and swaps the whole settings record.
func (s *Store) Replace(next monitor.Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = clone(next)
	snap := clone(s.cur)
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// ReplaceZones swaps only the zone list, keeping schedule and config.
func (s *Store) ReplaceZones(zones []monitor.Zone) error {
	if err := monitor.ValidateZones(zones); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur.Zones = cloneZones(zones)
	snap := clone(s.cur)
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// Subscribe registers a callback invoked after every successful update.
// Callbacks run outside the store lock and must not call back into the
// store synchronously from the update path.
func (s *Store) Subscribe(fn func(monitor.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func clone(in monitor.Settings) monitor.Settings {
	out := in
	out.Schedule = make(monitor.WeeklySchedule, len(in.Schedule))
	for k, v := range in.Schedule {
		out.Schedule[k] = v
	}
	out.Zones = cloneZones(in.Zones)
	return out
}

func cloneZones(in []monitor.Zone) []monitor.Zone {
	out := make([]monitor.Zone, len(in))
	copy(out, in)
	return out
}
