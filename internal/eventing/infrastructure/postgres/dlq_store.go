package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"locshare-cloud/internal/eventing"
)

const defaultDLQTable = "dead_letter_events"

// DLQStore keeps envelopes whose delivery failed.
type DLQStore struct {
	db    *sql.DB
	table string
}

// DLQOption configures the DLQ store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(store *DLQStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	store := &DLQStore{db: db, table: defaultDLQTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// DeadLetter is one failed envelope.
type DeadLetter struct {
	Envelope    eventing.Envelope
	Error       string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Attempts    int
}

// RecordFailure inserts a DLQ record or bumps its attempt count.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	query := fmt.Sprintf(`
INSERT INTO %[1]s (event_id, event_type, user_id, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
ON CONFLICT (event_id)
DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %[1]s.attempts + 1`, s.table)

	_, err = s.db.ExecContext(ctx, query, env.EventID, env.EventType, env.UserID, payload, message, time.Now().UTC())
	return err
}

// List returns the most recent dead letters.
func (s *DLQStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT payload, error, first_seen_at, last_seen_at, attempts
FROM %s
ORDER BY last_seen_at DESC
LIMIT $1`, s.table)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DeadLetter
	for rows.Next() {
		var item DeadLetter
		var payload []byte
		if err := rows.Scan(&payload, &item.Error, &item.FirstSeenAt, &item.LastSeenAt, &item.Attempts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &item.Envelope); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
