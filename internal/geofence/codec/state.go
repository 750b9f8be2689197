package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	geofence "locshare-cloud/internal/geofence/domain"
)

type eventRecord struct {
	ID         string            `json:"id"`
	GeofenceID string            `json:"geofence_id"`
	UserID     string            `json:"user_id"`
	Type       string            `json:"type"`
	OccurredAt string            `json:"occurred_at"`
	Lat        float64           `json:"lat"`
	Lng        float64           `json:"lng"`
	Accuracy   float64           `json:"accuracy"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type analyticsRecord struct {
	TotalTriggers       int           `json:"total_triggers"`
	EnterCount          int           `json:"enter_count"`
	ExitCount           int           `json:"exit_count"`
	DwellCount          int           `json:"dwell_count"`
	CompletedVisits     int           `json:"completed_visits"`
	LastTriggeredAt     string        `json:"last_triggered_at,omitempty"`
	TotalDwellSeconds   float64       `json:"total_dwell_seconds"`
	AverageDwellSeconds float64       `json:"average_dwell_seconds"`
	RecentEvents        []eventRecord `json:"recent_events,omitempty"`
}

type stateRecord struct {
	V                    int             `json:"v"`
	GeofenceID           string          `json:"geofence_id"`
	UserID               string          `json:"user_id"`
	Status               string          `json:"status"`
	PendingSince         string          `json:"pending_since,omitempty"`
	PendingFrom          string          `json:"pending_from,omitempty"`
	LastTriggeredAt      string          `json:"last_triggered_at,omitempty"`
	DwellStartedAt       string          `json:"dwell_started_at,omitempty"`
	AwaitingConfirmation bool            `json:"awaiting_confirmation"`
	Analytics            analyticsRecord `json:"analytics"`
	UpdatedAt            string          `json:"updated_at,omitempty"`
}

// MarshalEvent encodes an event as JSON.
func MarshalEvent(evt geofence.Event) ([]byte, error) {
	return json.Marshal(encodeEvent(evt))
}

// UnmarshalEvent decodes JSON written by MarshalEvent.
func UnmarshalEvent(data []byte) (geofence.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return geofence.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decodeEvent(rec)
}

// MarshalRuntimeState encodes one runtime state as JSON.
func MarshalRuntimeState(state *geofence.RuntimeState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: nil state", ErrMalformed)
	}
	rec := stateRecord{
		V:                    Version,
		GeofenceID:           state.GeofenceID,
		UserID:               state.UserID,
		Status:               string(state.Status),
		PendingSince:         formatTime(state.PendingSince),
		PendingFrom:          string(state.PendingFrom),
		LastTriggeredAt:      formatTime(state.LastTriggeredAt),
		DwellStartedAt:       formatTime(state.DwellStartedAt),
		AwaitingConfirmation: state.AwaitingConfirmation,
		UpdatedAt:            formatTime(state.UpdatedAt),
		Analytics: analyticsRecord{
			TotalTriggers:       state.Analytics.TotalTriggers,
			EnterCount:          state.Analytics.EnterCount,
			ExitCount:           state.Analytics.ExitCount,
			DwellCount:          state.Analytics.DwellCount,
			CompletedVisits:     state.Analytics.CompletedVisits,
			LastTriggeredAt:     formatTime(state.Analytics.LastTriggeredAt),
			TotalDwellSeconds:   state.Analytics.TotalDwell.Seconds(),
			AverageDwellSeconds: state.Analytics.AverageDwell.Seconds(),
		},
	}
	for _, evt := range state.Analytics.RecentEvents {
		rec.Analytics.RecentEvents = append(rec.Analytics.RecentEvents, encodeEvent(evt))
	}
	return json.Marshal(rec)
}

// UnmarshalRuntimeState decodes JSON written by MarshalRuntimeState.
func UnmarshalRuntimeState(data []byte) (*geofence.RuntimeState, error) {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.V > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.V)
	}
	status, err := decodeStatus(rec.Status)
	if err != nil {
		return nil, err
	}
	var pendingFrom geofence.Status
	if rec.PendingFrom != "" {
		if pendingFrom, err = decodeStatus(rec.PendingFrom); err != nil {
			return nil, err
		}
	}
	state := &geofence.RuntimeState{
		GeofenceID:           rec.GeofenceID,
		UserID:               rec.UserID,
		Status:               status,
		PendingFrom:          pendingFrom,
		AwaitingConfirmation: rec.AwaitingConfirmation,
		Analytics: geofence.Analytics{
			TotalTriggers:   rec.Analytics.TotalTriggers,
			EnterCount:      rec.Analytics.EnterCount,
			ExitCount:       rec.Analytics.ExitCount,
			DwellCount:      rec.Analytics.DwellCount,
			CompletedVisits: rec.Analytics.CompletedVisits,
			TotalDwell:      fromSeconds(rec.Analytics.TotalDwellSeconds),
			AverageDwell:    fromSeconds(rec.Analytics.AverageDwellSeconds),
		},
	}
	times := []struct {
		value string
		dst   *time.Time
	}{
		{rec.PendingSince, &state.PendingSince},
		{rec.LastTriggeredAt, &state.LastTriggeredAt},
		{rec.DwellStartedAt, &state.DwellStartedAt},
		{rec.UpdatedAt, &state.UpdatedAt},
		{rec.Analytics.LastTriggeredAt, &state.Analytics.LastTriggeredAt},
	}
	for _, item := range times {
		t, err := parseTime(item.value)
		if err != nil {
			return nil, err
		}
		*item.dst = t
	}
	for _, er := range rec.Analytics.RecentEvents {
		evt, err := decodeEvent(er)
		if err != nil {
			return nil, err
		}
		state.Analytics.RecentEvents = append(state.Analytics.RecentEvents, evt)
	}
	return state, nil
}

func encodeEvent(evt geofence.Event) eventRecord {
	return eventRecord{
		ID:         evt.ID,
		GeofenceID: evt.GeofenceID,
		UserID:     evt.UserID,
		Type:       string(evt.Type),
		OccurredAt: formatTime(evt.OccurredAt),
		Lat:        evt.Location.Latitude,
		Lng:        evt.Location.Longitude,
		Accuracy:   evt.Accuracy,
		Metadata:   evt.Metadata,
	}
}

func decodeEvent(rec eventRecord) (geofence.Event, error) {
	eventType, err := DecodeEventType(rec.Type)
	if err != nil {
		return geofence.Event{}, err
	}
	at, err := parseTime(rec.OccurredAt)
	if err != nil {
		return geofence.Event{}, err
	}
	return geofence.Event{
		ID:         rec.ID,
		GeofenceID: rec.GeofenceID,
		UserID:     rec.UserID,
		Type:       eventType,
		OccurredAt: at,
		Location:   geofence.Point{Latitude: rec.Lat, Longitude: rec.Lng},
		Accuracy:   rec.Accuracy,
		Metadata:   rec.Metadata,
	}, nil
}

// DecodeEventType maps a stored tag to an event type.
func DecodeEventType(value string) (geofence.EventType, error) {
	switch value {
	case string(geofence.EventEnter):
		return geofence.EventEnter, nil
	case string(geofence.EventExit):
		return geofence.EventExit, nil
	case string(geofence.EventDwell):
		return geofence.EventDwell, nil
	default:
		return "", fmt.Errorf("%w: unknown event type %q", ErrMalformed, value)
	}
}

func decodeStatus(value string) (geofence.Status, error) {
	switch value {
	case "", string(geofence.StatusOutside):
		return geofence.StatusOutside, nil
	case string(geofence.StatusPendingEnter):
		return geofence.StatusPendingEnter, nil
	case string(geofence.StatusInside):
		return geofence.StatusInside, nil
	case string(geofence.StatusPendingExit):
		return geofence.StatusPendingExit, nil
	case string(geofence.StatusDwelling):
		return geofence.StatusDwelling, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrMalformed, value)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformed, value)
	}
	return t.UTC(), nil
}

func fromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
