package motion

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	geofence "locshare-cloud/internal/geofence/domain"
)

// Status is the driving detector position of one user.
type Status string

const (
	StatusStationary     Status = "stationary"
	StatusPendingDriving Status = "pending_driving"
	StatusDriving        Status = "driving"
	StatusPendingStop    Status = "pending_stop"
)

// Defaults tuned for cars: about 24 km/h to start, 7 km/h to stop.
const (
	DefaultStartSpeed = 6.7
	DefaultStopSpeed  = 2.0
	DefaultStartAfter = 60 * time.Second
	DefaultStopAfter  = 3 * time.Minute
)

// Config tunes the detector. StartSpeed must exceed StopSpeed.
type Config struct {
	StartSpeed float64
	StopSpeed  float64
	StartAfter time.Duration
	StopAfter  time.Duration
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		StartSpeed: DefaultStartSpeed,
		StopSpeed:  DefaultStopSpeed,
		StartAfter: DefaultStartAfter,
		StopAfter:  DefaultStopAfter,
	}
}

// Validate checks the hysteresis band.
func (c Config) Validate() error {
	if c.StartSpeed <= 0 || c.StopSpeed < 0 || c.StopSpeed >= c.StartSpeed {
		return ErrInvalidConfig
	}
	if c.StartAfter < 0 || c.StopAfter < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Sample is one position of a user.
type Sample struct {
	UserID   string
	Location geofence.Point
	At       time.Time
	// Speed in m/s when the device reports one.
	Speed *float64
}

// EventType is the kind of session transition.
type EventType string

const (
	EventSessionStarted EventType = "started"
	EventSessionEnded   EventType = "ended"
)

// Event is emitted when a session starts or ends.
type Event struct {
	Type    EventType
	Session Session
}

// Session is one driving trip.
type Session struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at,omitempty"`
	StartLocation  geofence.Point `json:"start_location"`
	EndLocation    geofence.Point `json:"end_location"`
	DistanceMeters float64        `json:"distance_meters"`
	MaxSpeed       float64        `json:"max_speed"`
}

// Duration returns the session length, zero while it is open.
func (s Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// AverageSpeed returns meters per second over the closed session.
func (s Session) AverageSpeed() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return s.DistanceMeters / d
}

// State is the detector state of one user.
type State struct {
	UserID       string
	Status       Status
	PendingSince time.Time
	LastAt       time.Time
	LastLocation geofence.Point
	HasLast      bool
	// Current holds the open session while driving or pending stop, and the
	// candidate start while pending driving.
	Current Session
}

// NewState builds an empty detector state.
func NewState(userID string) *State {
	return &State{UserID: userID, Status: StatusStationary}
}

// Detector turns samples into driving sessions.
type Detector struct {
	cfg Config
}

// NewDetector constructs a detector. Invalid configs fall back to defaults.
func NewDetector(cfg Config) Detector {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d Detector) Config() Config { return d.cfg }

// Step feeds one sample. Samples not newer than the last one are ignored.
func (d Detector) Step(state *State, sample Sample) []Event {
	if state == nil || !sample.Location.Valid() || sample.At.IsZero() {
		return nil
	}
	if state.HasLast && !sample.At.After(state.LastAt) {
		return nil
	}

	speed, step := d.observe(state, sample)
	state.LastAt = sample.At
	state.LastLocation = sample.Location
	state.HasLast = true

	var events []Event
	switch state.Status {
	case StatusPendingDriving:
		if speed < d.cfg.StartSpeed {
			state.Status = StatusStationary
			state.PendingSince = time.Time{}
			state.Current = Session{}
			break
		}
		state.Current.DistanceMeters += step
		state.Current.MaxSpeed = maxFloat(state.Current.MaxSpeed, speed)
		if sample.At.Sub(state.PendingSince) >= d.cfg.StartAfter {
			state.Status = StatusDriving
			state.PendingSince = time.Time{}
			events = append(events, Event{Type: EventSessionStarted, Session: state.Current})
		}
	case StatusDriving:
		state.Current.DistanceMeters += step
		state.Current.EndLocation = sample.Location
		state.Current.MaxSpeed = maxFloat(state.Current.MaxSpeed, speed)
		if speed <= d.cfg.StopSpeed {
			state.Status = StatusPendingStop
			state.PendingSince = sample.At
		}
	case StatusPendingStop:
		state.Current.DistanceMeters += step
		if speed > d.cfg.StopSpeed {
			state.Status = StatusDriving
			state.PendingSince = time.Time{}
			state.Current.EndLocation = sample.Location
			state.Current.MaxSpeed = maxFloat(state.Current.MaxSpeed, speed)
			break
		}
		if sample.At.Sub(state.PendingSince) >= d.cfg.StopAfter {
			ended := state.Current
			ended.EndedAt = state.PendingSince
			events = append(events, Event{Type: EventSessionEnded, Session: ended})
			state.Status = StatusStationary
			state.PendingSince = time.Time{}
			state.Current = Session{}
		}
	default:
		state.Status = StatusStationary
		if speed >= d.cfg.StartSpeed {
			state.Status = StatusPendingDriving
			state.PendingSince = sample.At
			state.Current = Session{
				ID:            SessionID(state.UserID, sample.At),
				UserID:        state.UserID,
				StartedAt:     sample.At,
				StartLocation: sample.Location,
				EndLocation:   sample.Location,
				MaxSpeed:      speed,
			}
			if d.cfg.StartAfter == 0 {
				state.Status = StatusDriving
				state.PendingSince = time.Time{}
				events = append(events, Event{Type: EventSessionStarted, Session: state.Current})
			}
		}
	}
	return events
}

// observe returns the speed of the sample and the distance from the previous one.
// Without a reported speed, it falls back to displacement over elapsed time.
func (d Detector) observe(state *State, sample Sample) (float64, float64) {
	step := 0.0
	if state.HasLast {
		step = geofence.DistanceMeters(state.LastLocation, sample.Location)
	}
	if sample.Speed != nil && *sample.Speed >= 0 {
		return *sample.Speed, step
	}
	if !state.HasLast {
		return 0, step
	}
	elapsed := sample.At.Sub(state.LastAt).Seconds()
	if elapsed <= 0 {
		return 0, step
	}
	return step / elapsed, step
}

// SessionID derives a stable id from the user and start time.
func SessionID(userID string, startedAt time.Time) string {
	sum := sha1.Sum([]byte(userID + "|" + startedAt.UTC().Format(time.RFC3339Nano)))
	return "drv-" + hex.EncodeToString(sum[:8])
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}
