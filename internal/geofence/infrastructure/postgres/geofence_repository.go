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

// GeofenceRepository stores definitions as versioned JSON documents.
type GeofenceRepository struct {
	db *sql.DB
}

// NewGeofenceRepository constructs a repository.
func NewGeofenceRepository(db *sql.DB) *GeofenceRepository {
	return &GeofenceRepository{db: db}
}

// ListByUser returns the geofences of a user in creation order.
func (r *GeofenceRepository) ListByUser(ctx context.Context, userID string) ([]geofence.Geofence, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("geofence repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, definition
FROM geofences
WHERE user_id = $1
ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []geofence.Geofence
	for rows.Next() {
		var id string
		var definition []byte
		if err := rows.Scan(&id, &definition); err != nil {
			return nil, err
		}
		g, err := codec.UnmarshalGeofence(definition)
		if err != nil {
			return nil, fmt.Errorf("geofence repo: decode %s: %w", id, err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// Get loads one geofence.
func (r *GeofenceRepository) Get(ctx context.Context, userID, id string) (*geofence.Geofence, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("geofence repo: nil db")
	}
	var definition []byte
	err := r.db.QueryRowContext(ctx, `
SELECT definition
FROM geofences
WHERE user_id = $1 AND id = $2`, userID, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, geofence.ErrNotFound
		}
		return nil, err
	}
	g, err := codec.UnmarshalGeofence(definition)
	if err != nil {
		return nil, fmt.Errorf("geofence repo: decode %s: %w", id, err)
	}
	return &g, nil
}

// Save inserts or replaces a geofence. Position in the user's list is kept on update.
func (r *GeofenceRepository) Save(ctx context.Context, g *geofence.Geofence) error {
	if r == nil || r.db == nil {
		return errors.New("geofence repo: nil db")
	}
	if g == nil {
		return errors.New("geofence repo: nil geofence")
	}
	definition, err := codec.MarshalGeofence(*g)
	if err != nil {
		return err
	}
	var expiresAt sql.NullTime
	if !g.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: g.ExpiresAt.UTC(), Valid: true}
	}
	updatedAt := g.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO geofences (
	id, user_id, name, priority, active, expires_at, definition, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (user_id, id)
DO UPDATE SET
	name = EXCLUDED.name,
	priority = EXCLUDED.priority,
	active = EXCLUDED.active,
	expires_at = EXCLUDED.expires_at,
	definition = EXCLUDED.definition,
	updated_at = EXCLUDED.updated_at`,
		g.ID,
		g.UserID,
		g.Name,
		string(g.Priority),
		g.Active,
		expiresAt,
		definition,
		createdAt.UTC(),
		updatedAt.UTC(),
	)
	return err
}

// Delete removes a geofence and its runtime states.
func (r *GeofenceRepository) Delete(ctx context.Context, userID, id string) error {
	if r == nil || r.db == nil {
		return errors.New("geofence repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM geofences WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return geofence.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM geofence_runtime_states WHERE user_id = $1 AND geofence_id = $2`, userID, id); err != nil {
		return err
	}
	return tx.Commit()
}
