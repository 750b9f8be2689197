package geofence

import "errors"

var (
	// ErrInvalidGeometry indicates a degenerate circle or polygon.
	ErrInvalidGeometry = errors.New("geofence: invalid geometry")
	// ErrInvalidGeofence indicates a definition that fails validation.
	ErrInvalidGeofence = errors.New("geofence: invalid definition")
	// ErrInvalidSchedule indicates a malformed schedule.
	ErrInvalidSchedule = errors.New("geofence: invalid schedule")
	// ErrInvalidConditions indicates malformed condition gates.
	ErrInvalidConditions = errors.New("geofence: invalid conditions")
	// ErrMissingObservation indicates a gate referenced data the caller did not supply.
	ErrMissingObservation = errors.New("geofence: missing observation")
	// ErrClockSkew indicates a fix earlier than the last processed one.
	ErrClockSkew = errors.New("geofence: fix earlier than last processed")
	// ErrLowAccuracy indicates a fix whose accuracy radius is too large.
	ErrLowAccuracy = errors.New("geofence: fix accuracy too low")
	// ErrNotFound indicates a missing geofence.
	ErrNotFound = errors.New("geofence: not found")
	// ErrNotAwaitingConfirmation indicates no transition is waiting for confirmation.
	ErrNotAwaitingConfirmation = errors.New("geofence: no transition awaiting confirmation")
)
