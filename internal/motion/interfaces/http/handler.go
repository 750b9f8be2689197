package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"locshare-cloud/internal/auth"
	motionapp "locshare-cloud/internal/motion/application"
	motion "locshare-cloud/internal/motion/domain"
)

const timeLayout = time.RFC3339

// Handler provides driving session endpoints.
type Handler struct {
	service *motionapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *motionapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("motion handler: nil service")
	}
	return &Handler{service: service}, nil
}

type sessionsResponse struct {
	Status   motion.Status    `json:"status"`
	Sessions []motion.Session `json:"sessions"`
}

// ServeHTTP handles GET /api/v1/driving-sessions.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/driving-sessions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), userID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []motion.Session{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessionsResponse{
		Status:   h.service.Status(userID),
		Sessions: sessions,
	})
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
