package geofence

import "time"

// EventType is the kind of transition emitted by the state machine.
type EventType string

const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
	EventDwell EventType = "dwell"
)

// Valid returns true when the event type is supported.
func (t EventType) Valid() bool {
	switch t {
	case EventEnter, EventExit, EventDwell:
		return true
	default:
		return false
	}
}

// Metadata keys set by the engine.
const (
	MetaConfirmation    = "confirmation"
	MetaDwellSeconds    = "dwell_seconds"
	MetaGeofenceName    = "geofence_name"
	MetaPriority        = "priority"
	ConfirmationPending = "pending"
)

// Event is an immutable geofence transition.
type Event struct {
	ID         string            `json:"id"`
	GeofenceID string            `json:"geofence_id"`
	UserID     string            `json:"user_id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Location   Point             `json:"location"`
	Accuracy   float64           `json:"accuracy"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
