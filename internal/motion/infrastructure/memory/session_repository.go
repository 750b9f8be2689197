package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	motion "locshare-cloud/internal/motion/domain"
)

// SessionRepository is an in-memory session store keyed by session id.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]motion.Session
}

// NewSessionRepository constructs a repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]motion.Session)}
}

// Save inserts or replaces a session.
func (r *SessionRepository) Save(ctx context.Context, session motion.Session) error {
	_ = ctx
	if session.ID == "" {
		return errors.New("session repo: empty id")
	}
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return nil
}

// ListByUser returns sessions started in [from, to), oldest first. Zero bounds are open.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]motion.Session, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []motion.Session
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if !from.IsZero() && s.StartedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !s.StartedAt.Before(to) {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}
