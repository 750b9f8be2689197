package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"locshare-cloud/internal/geofence/codec"
	geofence "locshare-cloud/internal/geofence/domain"
)

// StateRepository stores runtime state: one row per user plus one per
// (user, geofence).
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// LoadUser returns the stored state of a user, or nil when none exists.
func (r *StateRepository) LoadUser(ctx context.Context, userID string) (*geofence.UserState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	var lastFix sql.NullTime
	err := r.db.QueryRowContext(ctx, `
SELECT last_fix_at
FROM geofence_user_states
WHERE user_id = $1`, userID).Scan(&lastFix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user := geofence.NewUserState(userID)
	if lastFix.Valid {
		user.LastFixAt = lastFix.Time.UTC()
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT geofence_id, state
FROM geofence_runtime_states
WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var geofenceID string
		var payload []byte
		if err := rows.Scan(&geofenceID, &payload); err != nil {
			return nil, err
		}
		state, err := codec.UnmarshalRuntimeState(payload)
		if err != nil {
			return nil, fmt.Errorf("state repo: decode %s/%s: %w", userID, geofenceID, err)
		}
		user.States[geofenceID] = state
	}
	return user, rows.Err()
}

// SaveUser replaces the stored state of a user in one transaction.
func (r *StateRepository) SaveUser(ctx context.Context, state *geofence.UserState) error {
	if r == nil || r.db == nil {
		return errors.New("state repo: nil db")
	}
	if state == nil || state.UserID == "" {
		return errors.New("state repo: user id required")
	}
	now := time.Now().UTC()
	var lastFix sql.NullTime
	if !state.LastFixAt.IsZero() {
		lastFix = sql.NullTime{Time: state.LastFixAt.UTC(), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO geofence_user_states (user_id, last_fix_at, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET
	last_fix_at = EXCLUDED.last_fix_at,
	updated_at = EXCLUDED.updated_at`, state.UserID, lastFix, now); err != nil {
		return err
	}

	ids := make([]string, 0, len(state.States))
	for id := range state.States {
		ids = append(ids, id)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM geofence_runtime_states
WHERE user_id = $1 AND NOT (geofence_id = ANY($2))`, state.UserID, ids); err != nil {
		return err
	}

	for id, rs := range state.States {
		payload, err := codec.MarshalRuntimeState(rs)
		if err != nil {
			return err
		}
		updatedAt := rs.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO geofence_runtime_states (user_id, geofence_id, status, state, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, geofence_id)
DO UPDATE SET
	status = EXCLUDED.status,
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at`, state.UserID, id, string(rs.Status), payload, updatedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}
