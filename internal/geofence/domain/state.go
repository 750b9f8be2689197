package geofence

import "time"

// Status is the state machine position of one (user, geofence) pair.
type Status string

const (
	StatusOutside      Status = "outside"
	StatusPendingEnter Status = "pending_enter"
	StatusInside       Status = "inside"
	StatusPendingExit  Status = "pending_exit"
	StatusDwelling     Status = "dwelling"
)

// Valid returns true when status is supported.
func (s Status) Valid() bool {
	switch s {
	case StatusOutside, StatusPendingEnter, StatusInside, StatusPendingExit, StatusDwelling:
		return true
	default:
		return false
	}
}

// Contained reports whether the status counts as a confirmed presence.
func (s Status) Contained() bool {
	return s == StatusInside || s == StatusDwelling || s == StatusPendingExit
}

// RuntimeState is owned by the engine. PendingFrom remembers the confirmed
// status a PendingExit reverts to. UpdatedAt is the timestamp of the last fix
// the state was stepped with.
type RuntimeState struct {
	GeofenceID           string    `json:"geofence_id"`
	UserID               string    `json:"user_id"`
	Status               Status    `json:"status"`
	PendingSince         time.Time `json:"pending_since,omitempty"`
	PendingFrom          Status    `json:"pending_from,omitempty"`
	LastTriggeredAt      time.Time `json:"last_triggered_at,omitempty"`
	DwellStartedAt       time.Time `json:"dwell_started_at,omitempty"`
	AwaitingConfirmation bool      `json:"awaiting_confirmation"`
	Analytics            Analytics `json:"analytics"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewRuntimeState returns an Outside state.
func NewRuntimeState(userID, geofenceID string) *RuntimeState {
	return &RuntimeState{GeofenceID: geofenceID, UserID: userID, Status: StatusOutside}
}

// DwellSoFar returns the elapsed time of the current visit at the given instant.
func (s *RuntimeState) DwellSoFar(at time.Time) time.Duration {
	if s == nil || s.DwellStartedAt.IsZero() || !s.Status.Contained() {
		return 0
	}
	if d := at.Sub(s.DwellStartedAt); d > 0 {
		return d
	}
	return 0
}

// Reset returns the machine to Outside, dropping the running visit.
func (s *RuntimeState) Reset() {
	s.Status = StatusOutside
	s.PendingSince = time.Time{}
	s.PendingFrom = ""
	s.DwellStartedAt = time.Time{}
}

// Clone returns a deep copy.
func (s *RuntimeState) Clone() *RuntimeState {
	if s == nil {
		return nil
	}
	out := *s
	out.Analytics = s.Analytics.Clone()
	return &out
}

// UserState holds every runtime state of one user plus the last accepted fix time.
type UserState struct {
	UserID    string                   `json:"user_id"`
	LastFixAt time.Time                `json:"last_fix_at,omitempty"`
	States    map[string]*RuntimeState `json:"states"`
}

// NewUserState returns an empty user state.
func NewUserState(userID string) *UserState {
	return &UserState{UserID: userID, States: make(map[string]*RuntimeState)}
}

// State returns the runtime state for a geofence, creating it when absent.
func (u *UserState) State(geofenceID string) *RuntimeState {
	if u.States == nil {
		u.States = make(map[string]*RuntimeState)
	}
	state, ok := u.States[geofenceID]
	if !ok || state == nil {
		state = NewRuntimeState(u.UserID, geofenceID)
		u.States[geofenceID] = state
	}
	return state
}

// Prune drops states whose geofence is not in keep and returns the removed ids.
func (u *UserState) Prune(keep map[string]struct{}) []string {
	var removed []string
	for id := range u.States {
		if _, ok := keep[id]; !ok {
			delete(u.States, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Clone returns a deep copy.
func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	out := &UserState{UserID: u.UserID, LastFixAt: u.LastFixAt, States: make(map[string]*RuntimeState, len(u.States))}
	for id, state := range u.States {
		out.States[id] = state.Clone()
	}
	return out
}
