package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"locshare-cloud/internal/auth"
	gfapp "locshare-cloud/internal/geofence/application"
)

const keepAliveInterval = 25 * time.Second

type streamEvent struct {
	Event    any    `json:"event"`
	Geofence string `json:"geofence_name"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// SSEBroker fans geofence notifications out to the connected clients of the
// user they belong to.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]string
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]string)}
}

// Notify implements application.Notifier.
func (b *SSEBroker) Notify(_ context.Context, n gfapp.Notification) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(streamEvent{
		Event:    n.Event,
		Geofence: n.Geofence.Name,
		Priority: string(n.Geofence.Priority),
		Status:   string(n.Status),
	})
	if err != nil {
		return
	}
	b.broadcast(n.Event.UserID, payload)
}

// Subscribe registers a client channel for a user.
func (b *SSEBroker) Subscribe(userID string) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = userID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *SSEBroker) broadcast(userID string, payload []byte) {
	// Sends stay under the lock so Unsubscribe cannot close a channel mid-send.
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, owner := range b.clients {
		if owner != userID {
			continue
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

// StreamHandler serves the SSE geofence event stream.
type StreamHandler struct {
	broker    *SSEBroker
	keepAlive time.Duration
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker, keepAlive: keepAliveInterval}
}

// ServeHTTP handles GET /api/v1/geofence-events/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(userID)
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: geofence\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
