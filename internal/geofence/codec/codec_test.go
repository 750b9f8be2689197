package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	geofence "locshare-cloud/internal/geofence/domain"
)

func f64(v float64) *float64 { return &v }

func sampleGeofence() geofence.Geofence {
	created := time.Date(2026, time.February, 3, 8, 30, 0, 125, time.UTC)
	return geofence.Geofence{
		ID:       "gf-1",
		UserID:   "u1",
		Name:     "Office",
		Priority: geofence.PriorityHigh,
		Active:   true,
		Shape: geofence.NewPolygon([]geofence.Point{
			{Latitude: 52.52, Longitude: 13.40},
			{Latitude: 52.53, Longitude: 13.40},
			{Latitude: 52.53, Longitude: 13.42},
			{Latitude: 52.52, Longitude: 13.42},
		}),
		ExpiresAt: created.Add(30 * 24 * time.Hour),
		Schedule: &geofence.Schedule{
			Enabled:    true,
			ActiveDays: []time.Weekday{time.Monday, time.Friday},
			CustomRanges: []geofence.TimeRange{
				{Start: geofence.NewTimeOfDay(22, 0, 0), End: geofence.NewTimeOfDay(6, 0, 0)},
				{Start: geofence.NewTimeOfDay(12, 0, 0), End: geofence.NewTimeOfDay(12, 30, 15)},
			},
			Timezone: "Europe/Berlin",
		},
		Conditions: geofence.Conditions{
			MinimumDwellTime:    90 * time.Second,
			MinSpeed:            f64(0.5),
			MaxSpeed:            f64(2),
			RequiredDevices:     []string{"watch"},
			Weather:             &geofence.WeatherGate{AllowedTags: []string{"clear"}, MinTemperature: f64(-5)},
			Battery:             &geofence.BatteryGate{MinimumLevel: 20, RequireCharging: true},
			RequireConfirmation: true,
		},
		Actions:   geofence.Actions{Notify: true, Log: true, Message: "arrived"},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func TestGeofenceRoundTrip(t *testing.T) {
	g := sampleGeofence()

	decoded, err := DecodeGeofence(EncodeGeofence(g))
	require.NoError(t, err)
	assert.Equal(t, g, decoded)

	data, err := MarshalGeofence(g)
	require.NoError(t, err)
	fromJSON, err := UnmarshalGeofence(data)
	require.NoError(t, err)
	assert.Equal(t, g, fromJSON)
	require.NoError(t, fromJSON.Validate())
}

func TestCircleRoundTripWithActiveRange(t *testing.T) {
	g := geofence.Geofence{
		ID:       "home",
		UserID:   "u1",
		Name:     "Home",
		Priority: geofence.PriorityLow,
		Shape:    geofence.NewCircle(geofence.Point{Latitude: -33.8688, Longitude: 151.2093}, 150.5),
		Schedule: &geofence.Schedule{
			Enabled:     true,
			ActiveRange: &geofence.TimeRange{Start: geofence.NewTimeOfDay(7, 0, 0), End: geofence.NewTimeOfDay(9, 0, 0)},
		},
	}
	data, err := MarshalGeofence(g)
	require.NoError(t, err)
	decoded, err := UnmarshalGeofence(data)
	require.NoError(t, err)
	assert.Equal(t, g, decoded)
}

func TestDecodeRejectsUnknownTags(t *testing.T) {
	rec := EncodeGeofence(sampleGeofence())
	rec["priority"] = "urgent"
	_, err := DecodeGeofence(rec)
	assert.ErrorIs(t, err, ErrMalformed)

	rec = EncodeGeofence(sampleGeofence())
	rec["shape"] = Record{"kind": "hexagon"}
	_, err = DecodeGeofence(rec)
	assert.ErrorIs(t, err, ErrMalformed)

	rec = EncodeGeofence(sampleGeofence())
	rec["v"] = 2
	_, err = DecodeGeofence(rec)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	rec = EncodeGeofence(sampleGeofence())
	rec["name"] = 12
	_, err = DecodeGeofence(rec)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = UnmarshalGeofence([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPolygonFromEncodedPolyline(t *testing.T) {
	points := []geofence.Point{
		{Latitude: 38.5, Longitude: -120.2},
		{Latitude: 40.7, Longitude: -120.95},
		{Latitude: 43.252, Longitude: -126.453},
	}
	encoded := EncodePolyline(points)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", encoded)

	rec := Record{
		"id":      "route",
		"user_id": "u1",
		"shape":   Record{"kind": "polygon", "polyline": encoded},
	}
	g, err := DecodeGeofence(rec)
	require.NoError(t, err)
	require.Len(t, g.Shape.Vertices, 3)
	for i, p := range points {
		assert.InDelta(t, p.Latitude, g.Shape.Vertices[i].Latitude, 1e-5)
		assert.InDelta(t, p.Longitude, g.Shape.Vertices[i].Longitude, 1e-5)
	}
	assert.Equal(t, geofence.PriorityNormal, g.Priority)

	_, err = DecodePolyline("")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	at := time.Date(2026, time.April, 9, 17, 5, 3, 0, time.UTC)
	evt := geofence.Event{
		ID:         "gfe-1",
		GeofenceID: "gf-1",
		UserID:     "u1",
		Type:       geofence.EventExit,
		OccurredAt: at,
		Location:   geofence.Point{Latitude: 1.5, Longitude: 2.25},
		Accuracy:   8,
		Metadata:   map[string]string{geofence.MetaDwellSeconds: "1800"},
	}
	state := &geofence.RuntimeState{
		GeofenceID:           "gf-1",
		UserID:               "u1",
		Status:               geofence.StatusPendingExit,
		PendingSince:         at,
		PendingFrom:          geofence.StatusDwelling,
		LastTriggeredAt:      at.Add(-time.Hour),
		DwellStartedAt:       at.Add(-2 * time.Hour),
		AwaitingConfirmation: true,
		Analytics: geofence.Analytics{
			TotalTriggers:   3,
			EnterCount:      1,
			ExitCount:       1,
			DwellCount:      1,
			CompletedVisits: 1,
			LastTriggeredAt: at,
			TotalDwell:      30 * time.Minute,
			AverageDwell:    30 * time.Minute,
			RecentEvents:    []geofence.Event{evt},
		},
		UpdatedAt: at,
	}
	data, err := MarshalRuntimeState(state)
	require.NoError(t, err)
	decoded, err := UnmarshalRuntimeState(data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)

	raw, err := MarshalEvent(evt)
	require.NoError(t, err)
	back, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, evt, back)

	_, err = UnmarshalRuntimeState([]byte(`{"v":1,"status":"lost"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeEventType("teleport")
	assert.ErrorIs(t, err, ErrMalformed)
}
