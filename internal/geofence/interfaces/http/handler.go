package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"locshare-cloud/internal/audit"
	"locshare-cloud/internal/auth"
	gfapp "locshare-cloud/internal/geofence/application"
	"locshare-cloud/internal/geofence/codec"
	geofence "locshare-cloud/internal/geofence/domain"
	"locshare-cloud/internal/observability/metrics"
)

const (
	timeLayout   = time.RFC3339
	maxBodyBytes = 1 << 20

	geofencesPath = "/api/v1/geofences"
	eventsPath    = "/api/v1/geofence-events"
)

// Handler provides geofence HTTP endpoints.
type Handler struct {
	service     *gfapp.Service
	logger      *log.Logger
	auditLogger audit.Logger
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records geofence mutations.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(service *gfapp.Service, logger *log.Logger, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("geofence handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles /api/v1/geofences, /api/v1/geofence-events and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == geofencesPath:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r, userID)
		case http.MethodPost:
			h.handleSave(w, r, userID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case r.URL.Path == geofencesPath+"/export.kml":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExportKML(w, r, userID)
	case strings.HasPrefix(r.URL.Path, geofencesPath+"/"):
		h.handleGeofence(w, r, userID)
	case r.URL.Path == eventsPath:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEvents(w, r, userID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.service.ListGeofences(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	records := make([]codec.Record, 0, len(list))
	for _, g := range list {
		records = append(records, codec.EncodeGeofence(g))
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, userID string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var rec codec.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	g, err := codec.DecodeGeofence(rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.UserID = userID
	created := g.ID == ""
	if err := h.service.SaveGeofence(r.Context(), &g); err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.logAudit(r, "geofence.save", g.ID, map[string]any{"name": g.Name, "created": created})
	writeJSON(w, status, codec.EncodeGeofence(g))
}

func (h *Handler) handleGeofence(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, geofencesPath+"/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			g, err := h.service.GetGeofence(r.Context(), userID, id)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, codec.EncodeGeofence(*g))
		case http.MethodDelete:
			if err := h.service.DeleteGeofence(r.Context(), userID, id); err != nil {
				respondError(w, err)
				return
			}
			h.logAudit(r, "geofence.delete", id, nil)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch action := parts[1]; action {
	case "analytics":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snapshot, err := h.service.Analytics(r.Context(), userID, id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case "confirm":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snapshot, err := h.service.ConfirmTransition(r.Context(), userID, id)
		if err != nil {
			respondError(w, err)
			return
		}
		h.logAudit(r, "geofence.confirm", id, map[string]any{"status": snapshot.Status})
		writeJSON(w, http.StatusOK, snapshot)
	case "export.pdf", "export.xlsx":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, userID, id, strings.TrimPrefix(action, "export."))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, userID string) {
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
	list, err := h.service.ListEvents(r.Context(), userID, from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []geofence.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, userID, id, format string) {
	start := time.Now()
	g, err := h.service.GetGeofence(r.Context(), userID, id)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		respondError(w, err)
		return
	}
	snapshot, err := h.service.Analytics(r.Context(), userID, id)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		respondError(w, err)
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "pdf":
		data, err = BuildAnalyticsPDF(*g, snapshot)
		contentType = "application/pdf"
	default:
		data, err = BuildAnalyticsXLSX(*g, snapshot)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.Printf("geofence export: build failed: geofence=%s format=%s err=%v", id, format, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+exportFilename(id, format)+"\"")
	_, _ = w.Write(data)
}

func (h *Handler) handleExportKML(w http.ResponseWriter, r *http.Request, userID string) {
	start := time.Now()
	list, err := h.service.ListGeofences(r.Context(), userID)
	if err != nil {
		metrics.ObserveExport("kml", metrics.ResultError, time.Since(start))
		respondError(w, err)
		return
	}
	data, err := BuildGeofencesKML(list)
	if err != nil {
		metrics.ObserveExport("kml", metrics.ResultError, time.Since(start))
		h.logger.Printf("geofence export: kml failed: user=%s err=%v", userID, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("kml", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", "attachment; filename=\"geofences.kml\"")
	_, _ = w.Write(data)
}

func (h *Handler) logAudit(r *http.Request, action, geofenceID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var meta []byte
	if metadata != nil {
		meta, _ = json.Marshal(metadata)
	}
	err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "geofence",
		ResourceID:   geofenceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.logger.Printf("geofence audit: write failed: action=%s geofence=%s err=%v", action, geofenceID, err)
	}
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

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, geofence.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, geofence.ErrNotAwaitingConfirmation):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, geofence.ErrInvalidGeofence),
		errors.Is(err, geofence.ErrInvalidGeometry),
		errors.Is(err, geofence.ErrInvalidSchedule),
		errors.Is(err, geofence.ErrInvalidConditions),
		errors.Is(err, codec.ErrMalformed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
