package geofence

import (
	"fmt"
	"strings"
	"time"
)

// Priority is a display and sort hint. It never alters evaluation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid returns true when priority is supported.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank orders priorities from low (0) to critical (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// Actions describe side effects the caller performs when an event fires.
type Actions struct {
	Notify       bool   `json:"notify"`
	Log          bool   `json:"log"`
	UpdateStatus bool   `json:"update_status"`
	Message      string `json:"message,omitempty"`
}

// Geofence is a user-defined region. A zero ExpiresAt never expires.
type Geofence struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Shape      Shape      `json:"shape"`
	Priority   Priority   `json:"priority"`
	Active     bool       `json:"active"`
	ExpiresAt  time.Time  `json:"expires_at,omitempty"`
	Schedule   *Schedule  `json:"schedule,omitempty"`
	Conditions Conditions `json:"conditions"`
	Actions    Actions    `json:"actions"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Validate checks geofence invariants.
func (g Geofence) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidGeofence)
	}
	if strings.TrimSpace(g.UserID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidGeofence)
	}
	if g.Priority != "" && !g.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalidGeofence, g.Priority)
	}
	if err := g.Shape.Validate(); err != nil {
		return err
	}
	if g.Schedule != nil {
		if err := g.Schedule.Validate(); err != nil {
			return err
		}
	}
	return g.Conditions.Validate()
}

// Expired reports whether the geofence has passed its expiry at the given instant.
func (g Geofence) Expired(at time.Time) bool {
	return !g.ExpiresAt.IsZero() && !at.Before(g.ExpiresAt)
}

// Enabled reports whether the geofence is active and not expired.
func (g Geofence) Enabled(at time.Time) bool {
	return g.Active && !g.Expired(at)
}

// ScheduleActive evaluates the optional schedule. No schedule means always active.
func (g Geofence) ScheduleActive(at time.Time) bool {
	if g.Schedule == nil {
		return true
	}
	return g.Schedule.IsActive(at)
}

// CurrentlyActive combines the active flag, expiry and schedule.
func (g Geofence) CurrentlyActive(at time.Time) bool {
	return g.Enabled(at) && g.ScheduleActive(at)
}

// Contains tests the geometry.
func (g Geofence) Contains(p Point) bool {
	return g.Shape.Contains(p)
}

// Clone returns a deep copy.
func (g Geofence) Clone() Geofence {
	out := g
	out.Shape.Vertices = append([]Point(nil), g.Shape.Vertices...)
	if g.Schedule != nil {
		schedule := *g.Schedule
		schedule.ActiveDays = append([]time.Weekday(nil), g.Schedule.ActiveDays...)
		schedule.CustomRanges = append([]TimeRange(nil), g.Schedule.CustomRanges...)
		if g.Schedule.ActiveRange != nil {
			r := *g.Schedule.ActiveRange
			schedule.ActiveRange = &r
		}
		out.Schedule = &schedule
	}
	out.Conditions = g.Conditions.clone()
	return out
}
