package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	geofence "locshare-cloud/internal/geofence/domain"
)

// GeofenceRepository is an in-memory geofence store for demo/testing. Lists
// keep insertion order.
type GeofenceRepository struct {
	mu    sync.RWMutex
	data  map[string]geofence.Geofence
	order map[string][]string
}

// NewGeofenceRepository constructs a repository.
func NewGeofenceRepository() *GeofenceRepository {
	return &GeofenceRepository{
		data:  make(map[string]geofence.Geofence),
		order: make(map[string][]string),
	}
}

// ListByUser returns the geofences of a user.
func (r *GeofenceRepository) ListByUser(ctx context.Context, userID string) ([]geofence.Geofence, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.order[userID]
	result := make([]geofence.Geofence, 0, len(ids))
	for _, id := range ids {
		if g, ok := r.data[key(userID, id)]; ok {
			result = append(result, g.Clone())
		}
	}
	return result, nil
}

// Get loads one geofence.
func (r *GeofenceRepository) Get(ctx context.Context, userID, id string) (*geofence.Geofence, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.data[key(userID, id)]
	if !ok {
		return nil, geofence.ErrNotFound
	}
	out := g.Clone()
	return &out, nil
}

// Save inserts or replaces a geofence.
func (r *GeofenceRepository) Save(ctx context.Context, g *geofence.Geofence) error {
	_ = ctx
	if g == nil || g.ID == "" || g.UserID == "" {
		return errors.New("geofence repo: id and user id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(g.UserID, g.ID)
	if _, exists := r.data[k]; !exists {
		r.order[g.UserID] = append(r.order[g.UserID], g.ID)
	}
	r.data[k] = g.Clone()
	return nil
}

// Delete removes a geofence.
func (r *GeofenceRepository) Delete(ctx context.Context, userID, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(userID, id)
	if _, ok := r.data[k]; !ok {
		return geofence.ErrNotFound
	}
	delete(r.data, k)
	ids := r.order[userID]
	for i, existing := range ids {
		if existing == id {
			r.order[userID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// CountActive returns how many stored geofences are enabled at the instant.
func (r *GeofenceRepository) CountActive(at time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, g := range r.data {
		if g.Enabled(at) {
			count++
		}
	}
	return count
}

// StateRepository keeps user runtime state in memory.
type StateRepository struct {
	mu   sync.RWMutex
	data map[string]*geofence.UserState
}

// NewStateRepository constructs a repository.
func NewStateRepository() *StateRepository {
	return &StateRepository{data: make(map[string]*geofence.UserState)}
}

// LoadUser returns a copy of the user's state, or nil when none was saved.
func (r *StateRepository) LoadUser(ctx context.Context, userID string) (*geofence.UserState, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[userID].Clone(), nil
}

// SaveUser stores a copy of the state.
func (r *StateRepository) SaveUser(ctx context.Context, state *geofence.UserState) error {
	_ = ctx
	if state == nil || state.UserID == "" {
		return errors.New("state repo: user id required")
	}
	r.mu.Lock()
	r.data[state.UserID] = state.Clone()
	r.mu.Unlock()
	return nil
}

// EventRepository is an append-only in-memory event log.
type EventRepository struct {
	mu     sync.RWMutex
	events []geofence.Event
	seen   map[string]struct{}
}

// NewEventRepository constructs a repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{seen: make(map[string]struct{})}
}

// Append stores events. Known ids are skipped.
func (r *EventRepository) Append(ctx context.Context, events []geofence.Event) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range events {
		if evt.ID == "" {
			return errors.New("event repo: empty event id")
		}
		if _, ok := r.seen[evt.ID]; ok {
			continue
		}
		r.seen[evt.ID] = struct{}{}
		r.events = append(r.events, evt)
	}
	return nil
}

// ListByUser returns events of a user in [from, to), oldest first. Zero
// bounds are open.
func (r *EventRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]geofence.Event, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []geofence.Event
	for _, evt := range r.events {
		if evt.UserID != userID {
			continue
		}
		if !from.IsZero() && evt.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !evt.OccurredAt.Before(to) {
			continue
		}
		result = append(result, evt)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

func key(userID, id string) string {
	return userID + "|" + id
}
