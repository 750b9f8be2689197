package geofence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock offset in seconds since local midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	layout := "15:04"
	if strings.Count(value, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q", ErrInvalidSchedule, value)
	}
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second()), nil
}

// TimeOfDayOf extracts the wall-clock time of at in its own location.
func TimeOfDayOf(at time.Time) TimeOfDay {
	return NewTimeOfDay(at.Hour(), at.Minute(), at.Second())
}

// Valid reports whether t is within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < secondsPerDay
}

// String formats as HH:MM:SS.
func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// TimeRange is an inclusive wall-clock range. Start after End wraps past midnight.
type TimeRange struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Contains checks membership, handling the overnight wrap.
func (r TimeRange) Contains(t TimeOfDay) bool {
	if r.Start <= r.End {
		return t >= r.Start && t <= r.End
	}
	return t >= r.Start || t <= r.End
}

// Overnight reports whether the range wraps past midnight.
func (r TimeRange) Overnight() bool { return r.Start > r.End }

// Validate checks both bounds.
func (r TimeRange) Validate() error {
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("%w: time range %d-%d out of bounds", ErrInvalidSchedule, r.Start, r.End)
	}
	return nil
}

// Schedule gates when a geofence is enforceable. Timezone is carried for the
// caller; timestamps given to IsActive are already local.
type Schedule struct {
	Enabled      bool           `json:"enabled"`
	ActiveDays   []time.Weekday `json:"active_days,omitempty"`
	ActiveRange  *TimeRange     `json:"active_range,omitempty"`
	CustomRanges []TimeRange    `json:"custom_ranges,omitempty"`
	Timezone     string         `json:"timezone,omitempty"`
}

// IsActive evaluates the schedule at the given instant.
func (s Schedule) IsActive(at time.Time) bool {
	if !s.Enabled {
		return true
	}
	if len(s.ActiveDays) > 0 && !s.onDay(at.Weekday()) {
		return false
	}
	tod := TimeOfDayOf(at)
	if s.ActiveRange != nil {
		return s.ActiveRange.Contains(tod)
	}
	if len(s.CustomRanges) > 0 {
		for _, r := range s.CustomRanges {
			if r.Contains(tod) {
				return true
			}
		}
		return false
	}
	return true
}

// Validate checks weekday values and every range.
func (s Schedule) Validate() error {
	for _, day := range s.ActiveDays {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("%w: weekday %d", ErrInvalidSchedule, day)
		}
	}
	if s.ActiveRange != nil {
		if err := s.ActiveRange.Validate(); err != nil {
			return err
		}
	}
	for _, r := range s.CustomRanges {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", ErrInvalidSchedule, s.Timezone)
		}
	}
	return nil
}

func (s Schedule) onDay(day time.Weekday) bool {
	for _, d := range s.ActiveDays {
		if d == day {
			return true
		}
	}
	return false
}

// ParseWeekday accepts full or three-letter English names and 0-6.
func ParseWeekday(value string) (time.Weekday, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("%w: weekday %q", ErrInvalidSchedule, value)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if value == name || value == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: weekday %q", ErrInvalidSchedule, value)
}
