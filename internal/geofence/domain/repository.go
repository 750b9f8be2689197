package geofence

import (
	"context"
	"time"
)

// GeofenceRepository persists geofence definitions.
type GeofenceRepository interface {
	ListByUser(ctx context.Context, userID string) ([]Geofence, error)
	Get(ctx context.Context, userID, id string) (*Geofence, error)
	Save(ctx context.Context, g *Geofence) error
	Delete(ctx context.Context, userID, id string) error
}

// StateRepository persists engine runtime state per user.
type StateRepository interface {
	LoadUser(ctx context.Context, userID string) (*UserState, error)
	SaveUser(ctx context.Context, state *UserState) error
}

// EventRepository stores emitted events.
type EventRepository interface {
	Append(ctx context.Context, events []Event) error
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Event, error)
}
