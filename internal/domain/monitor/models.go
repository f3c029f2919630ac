package monitor

import (
	"errors"
	"fmt"
	"time"
)

// COCO class ids the capture pipeline cares about.
const (
	ClassPerson    = 0
	ClassCellPhone = 67
)

var ErrInvalidSettings = errors.New("invalid settings")

// Frame is an owned JPEG snapshot of a single capture-device frame.
// Once handed to a DetectionEvent it is never shared or mutated by the
// capture loop again.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Box is a single detector result in pixel coordinates.
type Box struct {
	ClassID    int
	Confidence float64
	X1, Y1     int
	X2, Y2     int
}

// CenterNorm returns the box center normalized to [0,1] for the given
// frame dimensions.
func (b Box) CenterNorm(frameW, frameH int) (float64, float64) {
	if frameW <= 0 || frameH <= 0 {
		return 0, 0
	}
	cx := float64(b.X1+b.X2) / 2 / float64(frameW)
	cy := float64(b.Y1+b.Y2) / 2 / float64(frameH)
	return cx, cy
}

type DaySchedule struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// WeeklySchedule maps lowercase weekday names to their capture windows.
type WeeklySchedule map[string]DaySchedule

var dayKeys = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayKey returns the schedule key for a time.Weekday.
func DayKey(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}

// DefaultSchedule is weekdays 07:00-16:00, weekend off.
func DefaultSchedule() WeeklySchedule {
	s := make(WeeklySchedule, len(dayKeys))
	for _, day := range dayKeys {
		enabled := day != "saturday" && day != "sunday"
		s[day] = DaySchedule{Enabled: enabled, Start: "07:00", End: "16:00"}
	}
	return s
}

// ParseClock parses an HH:MM string into minutes since midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: bad clock value %q", ErrInvalidSettings, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock value %q out of range", ErrInvalidSettings, s)
	}
	return h*60 + m, nil
}

// Validate checks that the schedule has exactly the seven weekday keys
// and that every window parses.
func (ws WeeklySchedule) Validate() error {
	if len(ws) != len(dayKeys) {
		return fmt.Errorf("%w: schedule must have exactly 7 days, got %d", ErrInvalidSettings, len(ws))
	}
	for _, day := range dayKeys {
		ds, ok := ws[day]
		if !ok {
			return fmt.Errorf("%w: schedule missing %s", ErrInvalidSettings, day)
		}
		if _, err := ParseClock(ds.Start); err != nil {
			return err
		}
		if _, err := ParseClock(ds.End); err != nil {
			return err
		}
	}
	return nil
}

// Rect is a normalized region of the frame.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether the normalized point (px, py) falls inside
// the rectangle, edges inclusive.
func (r Rect) Contains(px, py float64) bool {
	return px >= r.X && px <= r.X+r.W && py >= r.Y && py <= r.Y+r.H
}

func (r Rect) validate() error {
	if r.X < 0 || r.Y < 0 || r.W < 0 || r.H < 0 {
		return fmt.Errorf("%w: zone rect has negative component", ErrInvalidSettings)
	}
	if r.X+r.W > 1 || r.Y+r.H > 1 {
		return fmt.Errorf("%w: zone rect exceeds frame bounds", ErrInvalidSettings)
	}
	return nil
}

// Zone is a named region of interest. Order matters: the matcher tests
// zones in configured order and the first hit wins.
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Coords Rect   `json:"coords"`
}

// ValidateZones checks rect bounds and name uniqueness for a zone list.
func ValidateZones(zones []Zone) error {
	seen := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		if z.Name == "" {
			return fmt.Errorf("%w: zone name is required", ErrInvalidSettings)
		}
		if _, dup := seen[z.Name]; dup {
			return fmt.Errorf("%w: duplicate zone name %q", ErrInvalidSettings, z.Name)
		}
		seen[z.Name] = struct{}{}
		if err := z.Coords.validate(); err != nil {
			return err
		}
	}
	return nil
}

// RuntimeConfig is the flat key/value portion of the persisted settings.
type RuntimeConfig struct {
	BlurFaces           bool    `json:"blur_faces"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	CameraIndex         int     `json:"camera_index"`
	CameraName          string  `json:"camera_name"`
	EmailNotifications  bool    `json:"email_notifications"`
	SMSNotifications    bool    `json:"sms_notifications"`
}

func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		BlurFaces:           true,
		ConfidenceThreshold: 0.4,
		CameraIndex:         0,
		CameraName:          "Camera 1",
	}
}

func (c RuntimeConfig) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold %.2f out of [0,1]", ErrInvalidSettings, c.ConfidenceThreshold)
	}
	if c.CameraIndex < 0 {
		return fmt.Errorf("%w: camera index must be >= 0", ErrInvalidSettings)
	}
	return nil
}

// Settings is the full persisted configuration record. LegacyROI is the
// pre-zones single rectangle gate; it only applies when Zones is empty.
type Settings struct {
	Schedule  WeeklySchedule `json:"schedule"`
	Zones     []Zone         `json:"roi_zones"`
	LegacyROI *Rect          `json:"roi_coordinates,omitempty"`
	Config    RuntimeConfig  `json:"config"`
}

func (s Settings) Validate() error {
	if err := s.Schedule.Validate(); err != nil {
		return err
	}
	if err := ValidateZones(s.Zones); err != nil {
		return err
	}
	if s.LegacyROI != nil {
		if err := s.LegacyROI.validate(); err != nil {
			return err
		}
	}
	return s.Config.Validate()
}

// DetectionEvent is the frozen record handed from the capture loop to
// the redaction worker. ShouldRedact is captured at enqueue time so a
// settings change mid-flight cannot alter an event already queued.
type DetectionEvent struct {
	Frame        Frame
	Confidence   float64
	ZoneName     string
	ShouldRedact bool
	CreatedAt    time.Time
}

// DetectionRecord is the persisted entry written for every processed
// event, mirroring the datastore's detections table.
type DetectionRecord struct {
	Location   string
	ZoneName   string
	Confidence float64
	ImagePath  string
	Status     string
	UserID     *int64
	CreatedAt  time.Time
}

// StatusSnapshot is the read-only run state exposed at the API boundary.
type StatusSnapshot struct {
	IsRunning        bool `json:"is_running"`
	IsWithinSchedule bool `json:"is_within_schedule"`
}

// DeviceInfo describes one discovered capture device.
type DeviceInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}
