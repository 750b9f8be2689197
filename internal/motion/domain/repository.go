package motion

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidConfig indicates a speed band with StopSpeed >= StartSpeed or negative durations.
var ErrInvalidConfig = errors.New("motion: invalid detector config")

// SessionRepository stores driving sessions.
type SessionRepository interface {
	Save(ctx context.Context, session Session) error
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Session, error)
}
