package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gfapp "locshare-cloud/internal/geofence/application"
	geofence "locshare-cloud/internal/geofence/domain"
)

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type stubPresence struct {
	mu     sync.Mutex
	status geofence.Status
}

func (s *stubPresence) Status(_ context.Context, _, _ string) (geofence.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *stubPresence) set(status geofence.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func sampleNotification(eventType geofence.EventType, at time.Time) gfapp.Notification {
	g := geofence.Geofence{
		ID:       "gf-1",
		UserID:   "u1",
		Name:     "School",
		Priority: geofence.PriorityHigh,
		Active:   true,
		Shape:    geofence.NewCircle(geofence.Point{Latitude: 40.7128, Longitude: -74.006}, 120),
		Actions:  geofence.Actions{Notify: true, Message: "Kids arrived"},
	}
	evt := geofence.Event{
		ID:         "gfe-1",
		GeofenceID: g.ID,
		UserID:     g.UserID,
		Type:       eventType,
		OccurredAt: at,
		Location:   geofence.Point{Latitude: 40.7129, Longitude: -74.0061},
		Accuracy:   6,
		Metadata:   map[string]string{geofence.MetaGeofenceName: g.Name},
	}
	status := geofence.StatusInside
	if eventType == geofence.EventExit {
		status = geofence.StatusOutside
		evt.Metadata[geofence.MetaDwellSeconds] = "1800"
	}
	return gfapp.Notification{Event: evt, Geofence: g, Status: status}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRatePerMinute(600))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	at := time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC)
	notifier.Notify(context.Background(), sampleNotification(geofence.EventExit, at))

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		checks := []string{
			"[Geofence Left]",
			"Place: School",
			"User: u1",
			"Priority: high",
			"Time: 2026-01-26T08:00:00Z",
			"Location: 40.712900,-74.006100",
			"Current Status: outside",
			"Dwell: 1800s",
			"Message: Kids arrived",
		}
		for _, expected := range checks {
			if !strings.Contains(payload.Text.Content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, payload.Text.Content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error on 502")
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("expected error on empty url")
	}
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(10*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	note := sampleNotification(geofence.EventEnter, clock.Now())
	notifier.Notify(context.Background(), note)
	notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	// a different event type has its own cooldown
	notifier.Notify(context.Background(), sampleNotification(geofence.EventExit, clock.Now()))
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected exit to pass, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 3 {
		t.Fatalf("expected notification after cooldown, got %d", got)
	}
	notifier.Close()
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(30*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	at := clock.Now()
	notifier.Notify(context.Background(), sampleNotification(geofence.EventEnter, at))
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), sampleNotification(geofence.EventEnter, at))
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	notifier.Notify(context.Background(), sampleNotification(geofence.EventEnter, at.Add(5*time.Minute)))
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierEscalation(t *testing.T) {
	channel := &recordingChannel{}
	presence := &stubPresence{status: geofence.StatusDwelling}
	notifier, err := NewNotifier(channel, nil,
		WithEscalation(20*time.Millisecond, presence),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), sampleNotification(geofence.EventEnter, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)))

	deadline := time.After(300 * time.Millisecond)
	for {
		if channel.Count() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected escalation notification, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	latest := channel.Latest()
	if !strings.Contains(latest, "Escalated") || !strings.Contains(latest, "Current Status: dwelling") {
		t.Fatalf("expected escalated notification content, got %s", latest)
	}
}

func TestNotifierEscalationSkippedWhenUserLeft(t *testing.T) {
	channel := &recordingChannel{}
	presence := &stubPresence{status: geofence.StatusInside}
	notifier, err := NewNotifier(channel, nil, WithEscalation(30*time.Millisecond, presence))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), sampleNotification(geofence.EventEnter, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)))
	presence.set(geofence.StatusOutside)

	time.Sleep(120 * time.Millisecond)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected no escalation after leaving, got %d", got)
	}
}

func TestNotifierExitCancelsEscalation(t *testing.T) {
	channel := &recordingChannel{}
	presence := &stubPresence{status: geofence.StatusInside}
	notifier, err := NewNotifier(channel, nil, WithEscalation(50*time.Millisecond, presence))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	at := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)
	notifier.Notify(context.Background(), sampleNotification(geofence.EventEnter, at))
	notifier.Notify(context.Background(), sampleNotification(geofence.EventExit, at.Add(time.Minute)))

	time.Sleep(150 * time.Millisecond)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected enter and exit only, got %d", got)
	}
}

func TestNotifierLowPriorityNeverEscalates(t *testing.T) {
	channel := &recordingChannel{}
	presence := &stubPresence{status: geofence.StatusInside}
	notifier, err := NewNotifier(channel, nil, WithEscalation(10*time.Millisecond, presence))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	note := sampleNotification(geofence.EventEnter, time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	note.Geofence.Priority = geofence.PriorityNormal
	notifier.Notify(context.Background(), note)

	time.Sleep(80 * time.Millisecond)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification, got %d", got)
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (c *countingNotifier) Notify(_ context.Context, _ gfapp.Notification) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *countingNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestMultiNotifierAndQueue(t *testing.T) {
	first := &countingNotifier{}
	second := &countingNotifier{}
	multi := NewMultiNotifier(first, nil, second)

	queue, err := NewQueue(multi, 8, WithQueueWorkers(2))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	queue.Start(context.Background())

	at := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		queue.Notify(context.Background(), sampleNotification(geofence.EventEnter, at.Add(time.Duration(i)*time.Second)))
	}
	queue.Close()

	if first.Count() != 3 || second.Count() != 3 {
		t.Fatalf("expected 3 deliveries each, got %d and %d", first.Count(), second.Count())
	}

	// closed queues drop silently
	queue.Notify(context.Background(), sampleNotification(geofence.EventExit, at))
	if first.Count() != 3 {
		t.Fatalf("expected no delivery after close")
	}

	if _, err := NewQueue(nil, 1); err == nil {
		t.Fatalf("expected error on nil notifier")
	}
}
