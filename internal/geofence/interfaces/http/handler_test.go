package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"locshare-cloud/internal/audit"
	"locshare-cloud/internal/auth"
	gfapp "locshare-cloud/internal/geofence/application"
	"locshare-cloud/internal/geofence/codec"
	geofence "locshare-cloud/internal/geofence/domain"
	"locshare-cloud/internal/geofence/infrastructure/memory"
)

func newTestService(t *testing.T) *gfapp.Service {
	t.Helper()
	cfg := gfapp.DefaultEngineConfig()
	cfg.ConfirmationDelay = 0
	service, err := gfapp.NewService(memory.NewGeofenceRepository(), memory.NewStateRepository(), memory.NewEventRepository(), gfapp.NewEngine(cfg))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), userID, auth.RoleMember))
}

func serve(handler http.Handler, r *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, r)
	return resp
}

const homeBody = `{
	"name": "Home",
	"priority": "high",
	"active": true,
	"shape": {"kind": "circle", "center": {"lat": 48.8584, "lng": 2.2945}, "radius_meters": 200},
	"actions": {"notify": true}
}`

func createHome(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/geofences", strings.NewReader(homeBody)), "u1")
	resp := serve(handler, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var rec codec.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode geofence: %v", err)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		t.Fatalf("expected assigned id, got %v", rec)
	}
	return id
}

func TestGeofenceHandlerCRUD(t *testing.T) {
	service := newTestService(t)
	auditLog := audit.NewMemoryLogger()
	handler, err := NewHandler(service, nil, WithAuditLogger(auditLog))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	id := createHome(t, handler)

	resp := serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences", nil), "u1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.Code)
	}
	var list []codec.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0]["name"] != "Home" {
		t.Fatalf("unexpected list: %v", list)
	}

	// other users see nothing
	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/"+id, nil), "u2"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other user, got %d", resp.Code)
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/"+id, nil), "u1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.Code)
	}
	stored, err := codec.UnmarshalGeofence(resp.Body.Bytes())
	if err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if stored.Priority != geofence.PriorityHigh || stored.Shape.RadiusMeters != 200 || !stored.Actions.Notify {
		t.Fatalf("unexpected stored geofence: %+v", stored)
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/geofences/"+id, nil), "u1"))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}
	resp = serve(handler, asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/geofences/"+id, nil), "u1"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.Code)
	}

	entries := auditLog.Entries()
	if len(entries) != 2 || entries[0].Action != "geofence.save" || entries[1].Action != "geofence.delete" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
	if entries[1].Actor != "u1" || entries[1].ResourceID != id {
		t.Fatalf("unexpected delete audit: %+v", entries[1])
	}
}

func TestGeofenceHandlerRejectsInvalidInput(t *testing.T) {
	handler, err := NewHandler(newTestService(t), nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	cases := []struct {
		name string
		body string
	}{
		{"json", "{"},
		{"radius", `{"name":"Bad","active":true,"shape":{"kind":"circle","center":{"lat":1,"lng":1},"radius_meters":0}}`},
		{"collinear", `{"name":"Line","active":true,"shape":{"kind":"polygon","vertices":[{"lat":0,"lng":0},{"lat":1,"lng":1},{"lat":2,"lng":2}]}}`},
		{"priority", `{"name":"P","priority":"urgent","shape":{"kind":"circle","center":{"lat":1,"lng":1},"radius_meters":5}}`},
	}
	for _, tc := range cases {
		resp := serve(handler, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/geofences", strings.NewReader(tc.body)), "u1"))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, resp.Code, resp.Body.String())
		}
	}

	resp := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/geofences", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", resp.Code)
	}
}

func TestGeofenceHandlerAnalyticsEventsAndConfirm(t *testing.T) {
	service := newTestService(t)
	handler, err := NewHandler(service, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	id := createHome(t, handler)

	base := time.Date(2026, 1, 26, 9, 0, 0, 0, time.UTC)
	fixes := []gfapp.PositionFix{
		{UserID: "u1", Location: geofence.Point{Latitude: 48.8585, Longitude: 2.2946}, Timestamp: base, Accuracy: 5},
		{UserID: "u1", Location: geofence.Point{Latitude: 48.8700, Longitude: 2.2946}, Timestamp: base.Add(10 * time.Minute), Accuracy: 5},
	}
	for _, fix := range fixes {
		if _, err := service.HandlePositionFix(context.Background(), fix, gfapp.Ambient{}); err != nil {
			t.Fatalf("handle fix: %v", err)
		}
	}

	resp := serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/"+id+"/analytics", nil), "u1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d", resp.Code)
	}
	var snapshot gfapp.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Status != geofence.StatusOutside || snapshot.Analytics.CompletedVisits != 1 || snapshot.Analytics.EnterCount != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	url := "/api/v1/geofence-events?from=" + base.Add(-time.Hour).Format(time.RFC3339) + "&to=" + base.Add(time.Hour).Format(time.RFC3339)
	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, url, nil), "u1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", resp.Code)
	}
	var events []geofence.Event
	if err := json.Unmarshal(resp.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 || events[0].Type != geofence.EventEnter || events[1].Type != geofence.EventExit {
		t.Fatalf("unexpected events: %+v", events)
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofence-events?from=bad", nil), "u1"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad from, got %d", resp.Code)
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/geofences/"+id+"/confirm", nil), "u1"))
	if resp.Code != http.StatusConflict {
		t.Fatalf("confirm: expected 409, got %d", resp.Code)
	}
}

func TestGeofenceHandlerExports(t *testing.T) {
	service := newTestService(t)
	handler, err := NewHandler(service, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	id := createHome(t, handler)
	office := `{"name":"Office","active":true,"shape":{"kind":"polygon","vertices":[{"lat":48.85,"lng":2.30},{"lat":48.85,"lng":2.31},{"lat":48.86,"lng":2.31},{"lat":48.86,"lng":2.30}]}}`
	resp := serve(handler, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/geofences", strings.NewReader(office)), "u1"))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create office: expected 201, got %d", resp.Code)
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/"+id+"/export.pdf", nil), "u1"))
	if resp.Code != http.StatusOK || !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf: unexpected response %d", resp.Code)
	}
	if resp.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("pdf: unexpected content type %s", resp.Header().Get("Content-Type"))
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/"+id+"/export.xlsx", nil), "u1"))
	if resp.Code != http.StatusOK || !bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx: unexpected response %d", resp.Code)
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/export.kml", nil), "u1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("kml: expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, expected := range []string{"<Placemark>", "<name>Home</name>", "<name>Office</name>", "<Polygon>"} {
		if !strings.Contains(body, expected) {
			t.Fatalf("kml: expected %q in %s", expected, body)
		}
	}

	resp = serve(handler, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/geofences/missing/export.pdf", nil), "u1"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing export, got %d", resp.Code)
	}
}

func TestCircleRingIsClosed(t *testing.T) {
	ring := circleRing(geofence.Point{Latitude: 48.8584, Longitude: 2.2945}, 200)
	if len(ring) != circleSegments+1 {
		t.Fatalf("expected %d coordinates, got %d", circleSegments+1, len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		t.Fatalf("ring is not closed")
	}
	for _, c := range ring[:circleSegments] {
		d := geofence.DistanceMeters(geofence.Point{Latitude: 48.8584, Longitude: 2.2945}, geofence.Point{Latitude: c.Lat, Longitude: c.Lon})
		if d < 195 || d > 205 {
			t.Fatalf("ring vertex %.1fm from center", d)
		}
	}
}

func TestSSEBrokerFiltersByUser(t *testing.T) {
	broker := NewSSEBroker()
	mine := broker.Subscribe("u1")
	other := broker.Subscribe("u2")
	defer broker.Unsubscribe(mine)
	defer broker.Unsubscribe(other)

	broker.Notify(context.Background(), gfapp.Notification{
		Event:    geofence.Event{ID: "gfe-1", UserID: "u1", GeofenceID: "gf-1", Type: geofence.EventEnter},
		Geofence: geofence.Geofence{ID: "gf-1", Name: "Home", Priority: geofence.PriorityNormal},
		Status:   geofence.StatusInside,
	})

	select {
	case payload := <-mine:
		if !strings.Contains(string(payload), `"geofence_name":"Home"`) {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected payload for u1")
	}
	select {
	case payload := <-other:
		t.Fatalf("u2 should not receive %s", payload)
	default:
	}
}

func TestStreamHandlerDeliversEvents(t *testing.T) {
	broker := NewSSEBroker()
	stream := NewStreamHandler(broker)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream.ServeHTTP(w, asUser(r, "u1"))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/geofence-events/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %s", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || line != "event: ready\n" {
		t.Fatalf("expected ready event, got %q err=%v", line, err)
	}

	broker.Notify(ctx, gfapp.Notification{
		Event:    geofence.Event{ID: "gfe-2", UserID: "u1", GeofenceID: "gf-1", Type: geofence.EventExit},
		Geofence: geofence.Geofence{ID: "gf-1", Name: "Home"},
		Status:   geofence.StatusOutside,
	})
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "gfe-2") {
			return
		}
	}
}
