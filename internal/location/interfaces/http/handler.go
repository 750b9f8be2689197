package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"locshare-cloud/internal/auth"
	gfapp "locshare-cloud/internal/geofence/application"
	geofence "locshare-cloud/internal/geofence/domain"
	location "locshare-cloud/internal/location/domain"
	"locshare-cloud/internal/observability/metrics"
)

const maxBodyBytes = 1 << 20

// BatchEvaluator evaluates position fixes.
type BatchEvaluator interface {
	HandleBatch(ctx context.Context, inputs []gfapp.FixInput) (gfapp.BatchResult, error)
}

// IngestHandler accepts signed location batches from devices.
type IngestHandler struct {
	evaluator BatchEvaluator
	logger    *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(evaluator BatchEvaluator, logger *log.Logger) (*IngestHandler, error) {
	if evaluator == nil {
		return nil, errors.New("location ingest: nil evaluator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{evaluator: evaluator, logger: logger}, nil
}

type ingestResponse struct {
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Events   []geofence.Event `json:"events"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ServeHTTP handles POST /ingest/locations.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, start, "read_body", "read body error", http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	var batch location.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		h.fail(w, start, "decode", "invalid json", http.StatusBadRequest, err)
		return
	}
	if batch.DeviceID == "" {
		batch.DeviceID = auth.DeviceIDFromContext(r.Context())
	}
	if err := batch.Normalize(); err != nil {
		h.fail(w, start, "invalid_payload", err.Error(), http.StatusBadRequest, err)
		return
	}

	result, err := h.evaluator.HandleBatch(r.Context(), toFixInputs(batch.Samples))
	if err != nil {
		h.fail(w, start, "evaluate", "evaluation error", http.StatusInternalServerError, err)
		return
	}
	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))

	events := result.Events
	if events == nil {
		events = []geofence.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(ingestResponse{
		Accepted: result.Accepted,
		Rejected: result.Rejected,
		Events:   events,
		Warnings: result.Warnings,
	})
}

func (h *IngestHandler) fail(w http.ResponseWriter, start time.Time, reason, message string, status int, err error) {
	h.logger.Printf("location ingest: %s: %v", reason, err)
	metrics.IncIngestError(reason)
	metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
	http.Error(w, message, status)
}

func toFixInputs(samples []location.Sample) []gfapp.FixInput {
	inputs := make([]gfapp.FixInput, 0, len(samples))
	for _, s := range samples {
		inputs = append(inputs, gfapp.FixInput{
			Fix: gfapp.PositionFix{
				UserID:    s.UserID,
				Location:  geofence.Point{Latitude: s.Latitude, Longitude: s.Longitude},
				Timestamp: s.Time(),
				Speed:     s.Speed,
				Accuracy:  s.Accuracy,
			},
			Ambient: gfapp.Ambient{
				BatteryLevel:  s.BatteryLevel,
				Charging:      s.Charging,
				WeatherTag:    s.WeatherTag,
				Temperature:   s.Temperature,
				NearbyDevices: s.NearbyDevices,
			},
		})
	}
	return inputs
}
