package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"locshare-cloud/internal/geofence/application/events"
	motion "locshare-cloud/internal/motion/domain"
	"locshare-cloud/internal/observability/metrics"
)

// DrivingSessionStarted is published when a trip starts.
type DrivingSessionStarted struct {
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	Session    motion.Session `json:"session"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// DrivingSessionEnded is published when a trip ends.
type DrivingSessionEnded struct {
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	Session    motion.Session `json:"session"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventPublisher publishes integration events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Service tracks driving sessions from accepted location fixes.
type Service struct {
	repo      motion.SessionRepository
	detector  motion.Detector
	publisher EventPublisher
	logger    *log.Logger

	locks  sync.Map
	mu     sync.RWMutex
	states map[string]*motion.State
}

// Option customizes the service.
type Option func(*Service)

// WithPublisher assigns the integration event publisher.
func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a motion service.
func NewService(repo motion.SessionRepository, detector motion.Detector, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("motion: nil repository")
	}
	service := &Service{
		repo:     repo,
		detector: detector,
		logger:   log.Default(),
		states:   make(map[string]*motion.State),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleLocation consumes LocationReceived events.
func (s *Service) HandleLocation(ctx context.Context, evt events.LocationReceived) error {
	_, err := s.Track(ctx, motion.Sample{
		UserID:   evt.UserID,
		Location: evt.Location,
		At:       evt.OccurredAt,
		Speed:    evt.Speed,
	})
	return err
}

// Track feeds one sample to the user's detector and persists session changes.
func (s *Service) Track(ctx context.Context, sample motion.Sample) ([]motion.Event, error) {
	if s == nil {
		return nil, errors.New("motion: nil service")
	}
	if sample.UserID == "" {
		return nil, errors.New("motion: empty user id")
	}
	unlock := s.lockUser(sample.UserID)
	defer unlock()

	s.mu.RLock()
	state, ok := s.states[sample.UserID]
	s.mu.RUnlock()
	if !ok {
		state = motion.NewState(sample.UserID)
		s.mu.Lock()
		s.states[sample.UserID] = state
		s.mu.Unlock()
	}

	emitted := s.detector.Step(state, sample)
	for _, evt := range emitted {
		if err := s.repo.Save(ctx, evt.Session); err != nil {
			return emitted, err
		}
		metrics.IncDrivingSession(string(evt.Type))
		s.logger.Printf("motion: session %s: user=%s session=%s distance=%.0fm", evt.Type, evt.Session.UserID, evt.Session.ID, evt.Session.DistanceMeters)
		s.publish(ctx, evt)
	}
	return emitted, nil
}

// Status returns the current detector status of a user.
func (s *Service) Status(userID string) motion.Status {
	if s == nil {
		return motion.StatusStationary
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[userID]; ok {
		return state.Status
	}
	return motion.StatusStationary
}

// ListSessions returns stored sessions of a user started in [from, to).
func (s *Service) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]motion.Session, error) {
	if s == nil {
		return nil, errors.New("motion: nil service")
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, errors.New("motion: invalid time range")
	}
	return s.repo.ListByUser(ctx, userID, from, to)
}

func (s *Service) publish(ctx context.Context, evt motion.Event) {
	if s.publisher == nil {
		return
	}
	var payload any
	switch evt.Type {
	case motion.EventSessionStarted:
		payload = DrivingSessionStarted{
			EventID:    evt.Session.ID + "-started",
			UserID:     evt.Session.UserID,
			Session:    evt.Session,
			OccurredAt: evt.Session.StartedAt,
		}
	case motion.EventSessionEnded:
		payload = DrivingSessionEnded{
			EventID:    evt.Session.ID + "-ended",
			UserID:     evt.Session.UserID,
			Session:    evt.Session,
			OccurredAt: evt.Session.EndedAt,
		}
	default:
		return
	}
	if err := s.publisher.Publish(ctx, payload); err != nil {
		s.logger.Printf("motion: publish failed: type=%T err=%v", payload, err)
	}
}

func (s *Service) lockUser(userID string) func() {
	value, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
