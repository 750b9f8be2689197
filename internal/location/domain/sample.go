package location

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyBatch indicates an ingest request without samples.
	ErrEmptyBatch = errors.New("location: no samples")
	// ErrMissingUser indicates a sample with no owning user.
	ErrMissingUser = errors.New("location: missing user id")
)

// MaxBatchSize bounds the samples accepted in one request.
const MaxBatchSize = 500

// Sample is one position reported by a device, with the ambient readings
// collected alongside it.
type Sample struct {
	UserID    string   `json:"userId,omitempty"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lng"`
	TS        int64    `json:"ts"`
	Accuracy  float64  `json:"accuracy"`
	Speed     *float64 `json:"speed,omitempty"`

	BatteryLevel  *float64 `json:"batteryLevel,omitempty"`
	Charging      *bool    `json:"charging,omitempty"`
	WeatherTag    string   `json:"weather,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	NearbyDevices []string `json:"nearbyDevices,omitempty"`
}

// Batch is the body of an ingest request. Samples without a user inherit the
// batch user.
type Batch struct {
	UserID   string   `json:"userId"`
	DeviceID string   `json:"deviceId,omitempty"`
	Samples  []Sample `json:"samples"`
}

// Normalize fills inherited fields and checks the batch shape. Coordinate and
// timestamp checks are left to evaluation so one bad sample does not fail the
// request.
func (b *Batch) Normalize() error {
	if b == nil || len(b.Samples) == 0 {
		return ErrEmptyBatch
	}
	if len(b.Samples) > MaxBatchSize {
		return errors.New("location: too many samples")
	}
	batchUser := strings.TrimSpace(b.UserID)
	for i := range b.Samples {
		s := &b.Samples[i]
		s.UserID = strings.TrimSpace(s.UserID)
		if s.UserID == "" {
			s.UserID = batchUser
		}
		if s.UserID == "" {
			return ErrMissingUser
		}
	}
	return nil
}

// Time converts the sample timestamp. Milliseconds and seconds are accepted;
// non-positive values yield the zero time.
func (s Sample) Time() time.Time {
	return ParseTimestamp(s.TS)
}

// ParseTimestamp accepts unix milliseconds or seconds.
func ParseTimestamp(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}
