package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	motion "locshare-cloud/internal/motion/domain"
)

// SessionRepository persists driving sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository constructs a repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save upserts a session. An open session is saved again when it ends.
func (r *SessionRepository) Save(ctx context.Context, session motion.Session) error {
	if r == nil || r.db == nil {
		return errors.New("session repo: nil db")
	}
	var endedAt sql.NullTime
	if !session.EndedAt.IsZero() {
		endedAt = sql.NullTime{Time: session.EndedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO driving_sessions (
	id, user_id, started_at, ended_at,
	start_latitude, start_longitude, end_latitude, end_longitude,
	distance_meters, max_speed, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW()
)
ON CONFLICT (id)
DO UPDATE SET
	ended_at = EXCLUDED.ended_at,
	end_latitude = EXCLUDED.end_latitude,
	end_longitude = EXCLUDED.end_longitude,
	distance_meters = EXCLUDED.distance_meters,
	max_speed = EXCLUDED.max_speed,
	updated_at = NOW()`,
		session.ID,
		session.UserID,
		session.StartedAt.UTC(),
		endedAt,
		session.StartLocation.Latitude,
		session.StartLocation.Longitude,
		session.EndLocation.Latitude,
		session.EndLocation.Longitude,
		session.DistanceMeters,
		session.MaxSpeed,
	)
	return err
}

// ListByUser returns sessions started in [from, to), oldest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]motion.Session, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("session repo: nil db")
	}
	var fromArg, toArg sql.NullTime
	if !from.IsZero() {
		fromArg = sql.NullTime{Time: from.UTC(), Valid: true}
	}
	if !to.IsZero() {
		toArg = sql.NullTime{Time: to.UTC(), Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, started_at, ended_at,
	start_latitude, start_longitude, end_latitude, end_longitude,
	distance_meters, max_speed
FROM driving_sessions
WHERE user_id = $1
	AND ($2::timestamptz IS NULL OR started_at >= $2)
	AND ($3::timestamptz IS NULL OR started_at < $3)
ORDER BY started_at ASC`, userID, fromArg, toArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []motion.Session
	for rows.Next() {
		var s motion.Session
		var endedAt sql.NullTime
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.StartedAt,
			&endedAt,
			&s.StartLocation.Latitude,
			&s.StartLocation.Longitude,
			&s.EndLocation.Latitude,
			&s.EndLocation.Longitude,
			&s.DistanceMeters,
			&s.MaxSpeed,
		); err != nil {
			return nil, err
		}
		s.StartedAt = s.StartedAt.UTC()
		if endedAt.Valid {
			s.EndedAt = endedAt.Time.UTC()
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
