package events

import (
	"time"

	geofence "locshare-cloud/internal/geofence/domain"
)

// LocationReceived is published for every accepted position fix.
type LocationReceived struct {
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	Location   geofence.Point `json:"location"`
	Accuracy   float64        `json:"accuracy"`
	Speed      *float64       `json:"speed,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// GeofenceTriggered is published for every geofence transition.
type GeofenceTriggered struct {
	EventID      string             `json:"event_id"`
	UserID       string             `json:"user_id"`
	GeofenceID   string             `json:"geofence_id"`
	GeofenceName string             `json:"geofence_name"`
	Type         geofence.EventType `json:"type"`
	Priority     geofence.Priority  `json:"priority"`
	Location     geofence.Point     `json:"location"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	UpdateStatus bool               `json:"update_status"`
	OccurredAt   time.Time          `json:"occurred_at"`
}

// Triggered converts a domain event.
func Triggered(g geofence.Geofence, evt geofence.Event) GeofenceTriggered {
	return GeofenceTriggered{
		EventID:      evt.ID,
		UserID:       evt.UserID,
		GeofenceID:   evt.GeofenceID,
		GeofenceName: g.Name,
		Type:         evt.Type,
		Priority:     g.Priority,
		Location:     evt.Location,
		Metadata:     evt.Metadata,
		OccurredAt:   evt.OccurredAt,
	}
}
