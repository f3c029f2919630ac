// Package schedule decides whether the capture device should be active
// at a given wall-clock instant. It is pure: callers inject the clock.
package schedule

import (
	"time"

	"phonewatch-service/internal/domain/monitor"
)

// IsActiveNow reports whether now falls inside the schedule's window
// for its weekday. A window with end < start wraps past midnight.
func IsActiveNow(ws monitor.WeeklySchedule, now time.Time) bool {
	day, ok := ws[monitor.DayKey(now.Weekday())]
	if !ok || !day.Enabled {
		return false
	}

	start, err := monitor.ParseClock(day.Start)
	if err != nil {
		return false
	}
	end, err := monitor.ParseClock(day.End)
	if err != nil {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if end < start {
		// Overnight window, e.g. 22:00-06:00.
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}
