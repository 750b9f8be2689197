package application

import (
	"errors"
	"fmt"
	"sync"
	"time"

	geofence "locshare-cloud/internal/geofence/domain"
)

// ErrInvalidFix indicates a fix with out-of-range coordinates or no timestamp.
var ErrInvalidFix = errors.New("geofence: invalid position fix")

// EngineConfig tunes evaluation.
type EngineConfig struct {
	ConfirmationDelay time.Duration
	MaxAccuracyMeters float64
	RecentEventLimit  int
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ConfirmationDelay: geofence.DefaultConfirmationDelay,
		RecentEventLimit:  geofence.DefaultRecentEventLimit,
	}
}

// PositionFix is one location sample of a user.
type PositionFix struct {
	UserID    string         `json:"user_id"`
	Location  geofence.Point `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
	Speed     *float64       `json:"speed,omitempty"`
	Accuracy  float64        `json:"accuracy"`
}

// Ambient carries device and environment readings collected alongside the fix.
type Ambient struct {
	BatteryLevel  *float64 `json:"battery_level,omitempty"`
	Charging      *bool    `json:"charging,omitempty"`
	WeatherTag    string   `json:"weather_tag,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	NearbyDevices []string `json:"nearby_devices,omitempty"`
}

// GeofenceSet is a validated, ordered snapshot of a user's geofences.
type GeofenceSet struct {
	items []geofence.Geofence
	index map[string]int
}

// LoadGeofences keeps valid definitions in input order and returns one error
// per rejected definition. Duplicate ids keep the first occurrence.
func LoadGeofences(defs []geofence.Geofence) (GeofenceSet, []error) {
	set := GeofenceSet{index: make(map[string]int, len(defs))}
	var rejected []error
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			rejected = append(rejected, fmt.Errorf("geofence %q: %w", def.ID, err))
			continue
		}
		if _, dup := set.index[def.ID]; dup {
			rejected = append(rejected, fmt.Errorf("geofence %q: %w: duplicate id", def.ID, geofence.ErrInvalidGeofence))
			continue
		}
		set.index[def.ID] = len(set.items)
		set.items = append(set.items, def)
	}
	return set, rejected
}

// Len returns the number of geofences.
func (s GeofenceSet) Len() int { return len(s.items) }

// Items returns a copy of the geofences in evaluation order.
func (s GeofenceSet) Items() []geofence.Geofence {
	return append([]geofence.Geofence(nil), s.items...)
}

// Get returns a geofence by id.
func (s GeofenceSet) Get(id string) (geofence.Geofence, bool) {
	i, ok := s.index[id]
	if !ok {
		return geofence.Geofence{}, false
	}
	return s.items[i], true
}

// Snapshot is the post-evaluation view of one geofence for a user.
type Snapshot struct {
	GeofenceID           string             `json:"geofence_id"`
	Status               geofence.Status    `json:"status"`
	AwaitingConfirmation bool               `json:"awaiting_confirmation"`
	Analytics            geofence.Analytics `json:"analytics"`
}

// Evaluation is the outcome of one fix. Rejected fixes carry a warning and
// leave the user state untouched.
type Evaluation struct {
	Events    []geofence.Event
	Snapshots []Snapshot
	Warnings  []error
	Rejected  bool
	Pruned    []string
}

// Engine turns fixes into geofence events. It keeps no per-user data; callers
// serialize calls for the same user.
type Engine struct {
	machine     geofence.Machine
	maxAccuracy float64

	mu        sync.Mutex
	locations map[string]*time.Location
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		machine:     geofence.NewMachine(cfg.ConfirmationDelay, cfg.RecentEventLimit),
		maxAccuracy: cfg.MaxAccuracyMeters,
		locations:   make(map[string]*time.Location),
	}
}

// Evaluate advances every geofence of the set with one fix.
func (e *Engine) Evaluate(fix PositionFix, set GeofenceSet, user *geofence.UserState, ambient Ambient) (Evaluation, error) {
	if e == nil {
		return Evaluation{}, errors.New("geofence engine: nil")
	}
	if user == nil {
		return Evaluation{}, errors.New("geofence engine: nil user state")
	}
	if user.UserID != "" && fix.UserID != user.UserID {
		return Evaluation{}, fmt.Errorf("geofence engine: fix for %q applied to state of %q", fix.UserID, user.UserID)
	}
	if user.UserID == "" {
		user.UserID = fix.UserID
	}

	var result Evaluation
	if warn := e.screen(fix, user); warn != nil {
		result.Rejected = true
		result.Warnings = append(result.Warnings, warn)
		return result, nil
	}
	user.LastFixAt = fix.Timestamp

	keep := make(map[string]struct{}, set.Len())
	for _, g := range set.items {
		keep[g.ID] = struct{}{}
	}
	result.Pruned = user.Prune(keep)

	for _, g := range set.items {
		if g.UserID != fix.UserID {
			continue
		}
		state := user.State(g.ID)
		in := geofence.Input{
			At:          fix.Timestamp,
			Local:       e.localTime(g, fix.Timestamp),
			Location:    fix.Location,
			Accuracy:    fix.Accuracy,
			Observation: observation(fix, ambient, state),
		}
		result.Events = append(result.Events, e.machine.Step(g, state, in)...)
		result.Snapshots = append(result.Snapshots, Snapshot{
			GeofenceID:           g.ID,
			Status:               state.Status,
			AwaitingConfirmation: state.AwaitingConfirmation,
			Analytics:            state.Analytics.Clone(),
		})
	}
	return result, nil
}

func (e *Engine) screen(fix PositionFix, user *geofence.UserState) error {
	if fix.Timestamp.IsZero() || !fix.Location.Valid() {
		return fmt.Errorf("%w: user=%s location=%v", ErrInvalidFix, fix.UserID, fix.Location)
	}
	if !user.LastFixAt.IsZero() && fix.Timestamp.Before(user.LastFixAt) {
		return fmt.Errorf("%w: user=%s fix=%s last=%s", geofence.ErrClockSkew, fix.UserID,
			fix.Timestamp.Format(time.RFC3339Nano), user.LastFixAt.Format(time.RFC3339Nano))
	}
	if e.maxAccuracy > 0 && fix.Accuracy > e.maxAccuracy {
		return fmt.Errorf("%w: user=%s accuracy=%.1fm max=%.1fm", geofence.ErrLowAccuracy, fix.UserID, fix.Accuracy, e.maxAccuracy)
	}
	return nil
}

// localTime moves at into the schedule's timezone. Unknown zones were
// rejected at load, so a lookup failure falls back to at.
func (e *Engine) localTime(g geofence.Geofence, at time.Time) time.Time {
	if g.Schedule == nil || g.Schedule.Timezone == "" {
		return time.Time{}
	}
	tz := g.Schedule.Timezone
	e.mu.Lock()
	loc, ok := e.locations[tz]
	if !ok {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			loc = nil
		}
		e.locations[tz] = loc
	}
	e.mu.Unlock()
	if loc == nil {
		return time.Time{}
	}
	return at.In(loc)
}

func observation(fix PositionFix, ambient Ambient, state *geofence.RuntimeState) geofence.Observation {
	return geofence.Observation{
		Speed:         fix.Speed,
		DwellSoFar:    state.DwellSoFar(fix.Timestamp),
		BatteryLevel:  ambient.BatteryLevel,
		Charging:      ambient.Charging,
		WeatherTag:    ambient.WeatherTag,
		Temperature:   ambient.Temperature,
		NearbyDevices: ambient.NearbyDevices,
	}
}
