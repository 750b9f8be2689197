package geofence

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultConfirmationDelay absorbs GPS jitter around a boundary.
const DefaultConfirmationDelay = 3 * time.Second

// Input is one position fix as seen by a single geofence. Local is the
// wall-clock time the schedule is evaluated at; zero means At.
type Input struct {
	At          time.Time
	Local       time.Time
	Location    Point
	Accuracy    float64
	Observation Observation
}

func (in Input) scheduleTime() time.Time {
	if in.Local.IsZero() {
		return in.At
	}
	return in.Local
}

// EventIDFunc derives an event id.
type EventIDFunc func(userID, geofenceID string, eventType EventType, at time.Time) string

// Machine advances runtime states. It holds no per-user data and is safe to
// share; callers serialize access to each RuntimeState.
type Machine struct {
	ConfirmationDelay time.Duration
	RecentEventLimit  int
	NewID             EventIDFunc
}

// NewMachine returns a machine with defaults applied for non-positive values.
func NewMachine(confirmationDelay time.Duration, recentEventLimit int) Machine {
	if confirmationDelay < 0 {
		confirmationDelay = 0
	}
	if recentEventLimit <= 0 {
		recentEventLimit = DefaultRecentEventLimit
	}
	return Machine{ConfirmationDelay: confirmationDelay, RecentEventLimit: recentEventLimit, NewID: BuildEventID}
}

// Step feeds one fix to the state of g and returns the events it emits.
func (m Machine) Step(g Geofence, state *RuntimeState, in Input) []Event {
	if state == nil {
		return nil
	}
	state.UpdatedAt = in.At

	if !g.Enabled(in.At) || !g.ScheduleActive(in.scheduleTime()) {
		if state.Status != StatusOutside {
			state.Reset()
		}
		state.AwaitingConfirmation = false
		return nil
	}

	contained := g.Contains(in.Location)
	var events []Event

	switch state.Status {
	case StatusPendingEnter:
		if !contained {
			state.Reset()
			return nil
		}
	case StatusInside, StatusDwelling:
		if contained {
			if evt, ok := m.advanceDwell(g, state, in); ok {
				events = append(events, evt)
			}
			return events
		}
		state.PendingFrom = state.Status
		state.Status = StatusPendingExit
		state.PendingSince = in.At
	case StatusPendingExit:
		if contained {
			state.Status = state.PendingFrom
			if state.Status != StatusDwelling {
				state.Status = StatusInside
			}
			state.PendingFrom = ""
			state.PendingSince = time.Time{}
			if evt, ok := m.advanceDwell(g, state, in); ok {
				events = append(events, evt)
			}
			return events
		}
	default:
		if !contained {
			state.Reset()
			return nil
		}
		state.Status = StatusPendingEnter
		state.PendingSince = in.At
	}

	switch state.Status {
	case StatusPendingEnter:
		if !m.confirmed(state, in.At) || !g.Conditions.Satisfied(in.Observation) {
			return nil
		}
		state.Status = StatusInside
		state.PendingSince = time.Time{}
		state.DwellStartedAt = in.At
		events = append(events, m.emit(g, state, EventEnter, in, nil))
		if evt, ok := m.advanceDwell(g, state, in); ok {
			events = append(events, evt)
		}
	case StatusPendingExit:
		if !m.confirmed(state, in.At) {
			return nil
		}
		dwell := state.PendingSince.Sub(state.DwellStartedAt)
		if state.DwellStartedAt.IsZero() || dwell < 0 {
			dwell = 0
		}
		extra := map[string]string{MetaDwellSeconds: formatSeconds(dwell)}
		events = append(events, m.emit(g, state, EventExit, in, extra))
		state.Analytics.FinalizeVisit(dwell)
		state.Reset()
	}
	return events
}

func (m Machine) confirmed(state *RuntimeState, at time.Time) bool {
	return at.Sub(state.PendingSince) >= m.ConfirmationDelay
}

// advanceDwell moves Inside to Dwelling once per visit.
func (m Machine) advanceDwell(g Geofence, state *RuntimeState, in Input) (Event, bool) {
	if state.Status != StatusInside {
		return Event{}, false
	}
	dwell := state.DwellSoFar(in.At)
	if !g.Conditions.DwellReached(dwell) {
		return Event{}, false
	}
	state.Status = StatusDwelling
	extra := map[string]string{MetaDwellSeconds: formatSeconds(dwell)}
	return m.emit(g, state, EventDwell, in, extra), true
}

func (m Machine) emit(g Geofence, state *RuntimeState, eventType EventType, in Input, extra map[string]string) Event {
	newID := m.NewID
	if newID == nil {
		newID = BuildEventID
	}
	meta := map[string]string{
		MetaGeofenceName: g.Name,
		MetaPriority:     string(g.Priority),
	}
	for k, v := range extra {
		meta[k] = v
	}
	if g.Conditions.RequireConfirmation && eventType != EventDwell {
		meta[MetaConfirmation] = ConfirmationPending
		state.AwaitingConfirmation = true
	}
	evt := Event{
		ID:         newID(state.UserID, g.ID, eventType, in.At),
		GeofenceID: g.ID,
		UserID:     state.UserID,
		Type:       eventType,
		OccurredAt: in.At,
		Location:   in.Location,
		Accuracy:   in.Accuracy,
		Metadata:   meta,
	}
	state.LastTriggeredAt = in.At
	state.Analytics.Record(evt, m.RecentEventLimit)
	return cloneEvent(evt)
}

// BuildEventID hashes the event coordinates so replays yield the same id.
func BuildEventID(userID, geofenceID string, eventType EventType, at time.Time) string {
	sum := sha1.Sum([]byte(userID + "|" + geofenceID + "|" + string(eventType) + "|" + at.UTC().Format(time.RFC3339Nano)))
	return "gfe-" + hex.EncodeToString(sum[:8])
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
