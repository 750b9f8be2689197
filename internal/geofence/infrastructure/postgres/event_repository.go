package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"locshare-cloud/internal/geofence/codec"
	geofence "locshare-cloud/internal/geofence/domain"
)

// EventRepository is the append-only geofence event log.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts events. Known ids are ignored so replays are harmless.
func (r *EventRepository) Append(ctx context.Context, events []geofence.Event) error {
	if r == nil || r.db == nil {
		return errors.New("event repo: nil db")
	}
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, evt := range events {
		if evt.ID == "" {
			return errors.New("event repo: empty event id")
		}
		metadata, err := json.Marshal(evt.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO geofence_events (
	id, user_id, geofence_id, event_type, occurred_at, latitude, longitude, accuracy, metadata
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (id) DO NOTHING`,
			evt.ID,
			evt.UserID,
			evt.GeofenceID,
			string(evt.Type),
			evt.OccurredAt.UTC(),
			evt.Location.Latitude,
			evt.Location.Longitude,
			evt.Accuracy,
			metadata,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByUser returns events of a user in [from, to), oldest first. Zero
// bounds are open.
func (r *EventRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]geofence.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	var b strings.Builder
	b.WriteString(`
SELECT id, user_id, geofence_id, event_type, occurred_at, latitude, longitude, accuracy, metadata
FROM geofence_events
WHERE user_id = $1`)
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from.UTC())
		b.WriteString(" AND occurred_at >= $2")
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		if len(args) == 3 {
			b.WriteString(" AND occurred_at < $3")
		} else {
			b.WriteString(" AND occurred_at < $2")
		}
	}
	b.WriteString(" ORDER BY occurred_at ASC, id ASC")

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []geofence.Event
	for rows.Next() {
		var evt geofence.Event
		var eventType string
		var metadata []byte
		if err := rows.Scan(
			&evt.ID,
			&evt.UserID,
			&evt.GeofenceID,
			&eventType,
			&evt.OccurredAt,
			&evt.Location.Latitude,
			&evt.Location.Longitude,
			&evt.Accuracy,
			&metadata,
		); err != nil {
			return nil, err
		}
		if evt.Type, err = codec.DecodeEventType(eventType); err != nil {
			return nil, err
		}
		evt.OccurredAt = evt.OccurredAt.UTC()
		if len(metadata) > 0 && string(metadata) != "null" {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}
