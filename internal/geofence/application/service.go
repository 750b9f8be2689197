package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"locshare-cloud/internal/geofence/application/events"
	geofence "locshare-cloud/internal/geofence/domain"
	"locshare-cloud/internal/observability/metrics"
)

// Notification is handed to the notifier for events whose geofence asks for it.
type Notification struct {
	Event    geofence.Event    `json:"event"`
	Geofence geofence.Geofence `json:"geofence"`
	Status   geofence.Status   `json:"status"`
}

// Notifier delivers user-facing notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// EventPublisher publishes integration events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// FixInput pairs a fix with the ambient readings collected with it.
type FixInput struct {
	Fix     PositionFix `json:"fix"`
	Ambient Ambient     `json:"ambient"`
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Events   []geofence.Event `json:"events"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Service orchestrates evaluation: it serializes fixes per user, persists
// state and events, and fans events out to notifiers and subscribers.
type Service struct {
	geofences geofence.GeofenceRepository
	states    geofence.StateRepository
	events    geofence.EventRepository
	engine    *Engine
	notifier  Notifier
	publisher EventPublisher
	clock     Clock
	logger    *log.Logger
	workers   int

	locks sync.Map

	cacheMu sync.RWMutex
	sets    map[string]GeofenceSet
	gens    map[string]uint64
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithPublisher assigns the integration event publisher.
func WithPublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers bounds how many users a batch evaluates in parallel.
func WithWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService constructs a geofence service.
func NewService(geofences geofence.GeofenceRepository, states geofence.StateRepository, eventsRepo geofence.EventRepository, engine *Engine, opts ...ServiceOption) (*Service, error) {
	if geofences == nil || states == nil || eventsRepo == nil {
		return nil, errors.New("geofence: nil repository")
	}
	if engine == nil {
		return nil, errors.New("geofence: nil engine")
	}
	service := &Service{
		geofences: geofences,
		states:    states,
		events:    eventsRepo,
		engine:    engine,
		clock:     systemClock{},
		logger:    log.Default(),
		workers:   4,
		sets:      make(map[string]GeofenceSet),
		gens:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandlePositionFix evaluates one fix for its user.
func (s *Service) HandlePositionFix(ctx context.Context, fix PositionFix, ambient Ambient) (Evaluation, error) {
	if s == nil {
		return Evaluation{}, errors.New("geofence: nil service")
	}
	if strings.TrimSpace(fix.UserID) == "" {
		return Evaluation{}, fmt.Errorf("%w: empty user id", ErrInvalidFix)
	}
	unlock := s.lockUser(fix.UserID)
	defer unlock()
	return s.evaluateLocked(ctx, fix, ambient)
}

// HandleBatch evaluates fixes grouped by user. Each user's fixes run in
// timestamp order; users run in parallel up to the worker limit.
func (s *Service) HandleBatch(ctx context.Context, inputs []FixInput) (BatchResult, error) {
	if s == nil {
		return BatchResult{}, errors.New("geofence: nil service")
	}
	byUser := make(map[string][]FixInput)
	var order []string
	var result BatchResult
	for _, in := range inputs {
		userID := strings.TrimSpace(in.Fix.UserID)
		if userID == "" {
			result.Rejected++
			result.Warnings = append(result.Warnings, fmt.Sprintf("%v: empty user id", ErrInvalidFix))
			continue
		}
		if _, ok := byUser[userID]; !ok {
			order = append(order, userID)
		}
		byUser[userID] = append(byUser[userID], in)
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for _, userID := range order {
		fixes := byUser[userID]
		sort.SliceStable(fixes, func(i, j int) bool {
			return fixes[i].Fix.Timestamp.Before(fixes[j].Fix.Timestamp)
		})
		group.Go(func() error {
			unlock := s.lockUser(userID)
			defer unlock()
			for _, in := range fixes {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				eval, err := s.evaluateLocked(groupCtx, in.Fix, in.Ambient)
				if err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				mu.Lock()
				if eval.Rejected {
					result.Rejected++
				} else {
					result.Accepted++
				}
				result.Events = append(result.Events, eval.Events...)
				for _, warn := range eval.Warnings {
					result.Warnings = append(result.Warnings, warn.Error())
				}
				mu.Unlock()
			}
			return nil
		})
	}
	err := group.Wait()
	return result, err
}

func (s *Service) evaluateLocked(ctx context.Context, fix PositionFix, ambient Ambient) (Evaluation, error) {
	start := time.Now()
	set, err := s.geofenceSet(ctx, fix.UserID)
	if err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(start))
		return Evaluation{}, err
	}
	user, err := s.states.LoadUser(ctx, fix.UserID)
	if err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(start))
		return Evaluation{}, err
	}
	if user == nil {
		user = geofence.NewUserState(fix.UserID)
	}

	eval, err := s.engine.Evaluate(fix, set, user, ambient)
	if err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(start))
		return Evaluation{}, err
	}
	if eval.Rejected {
		reason := rejectReason(eval.Warnings)
		metrics.ObserveEvaluation(reason, time.Since(start))
		for _, warn := range eval.Warnings {
			s.logger.Printf("geofence: fix rejected: user=%s reason=%s err=%v", fix.UserID, reason, warn)
		}
		return eval, nil
	}

	if err := s.states.SaveUser(ctx, user); err != nil {
		metrics.ObserveEvaluation(metrics.ResultError, time.Since(start))
		return Evaluation{}, err
	}
	if len(eval.Events) > 0 {
		if err := s.events.Append(ctx, eval.Events); err != nil {
			metrics.ObserveEvaluation(metrics.ResultError, time.Since(start))
			return Evaluation{}, err
		}
	}
	metrics.ObserveEvaluation(metrics.FixResultEvaluated, time.Since(start))

	s.publish(ctx, events.LocationReceived{
		EventID:    locationEventID(fix),
		UserID:     fix.UserID,
		Location:   fix.Location,
		Accuracy:   fix.Accuracy,
		Speed:      fix.Speed,
		OccurredAt: fix.Timestamp.UTC(),
	})
	s.dispatch(ctx, set, user, eval.Events)
	return eval, nil
}

func (s *Service) dispatch(ctx context.Context, set GeofenceSet, user *geofence.UserState, emitted []geofence.Event) {
	for _, evt := range emitted {
		metrics.IncGeofenceEvent(string(evt.Type))
		g, ok := set.Get(evt.GeofenceID)
		if !ok {
			continue
		}
		if g.Actions.Log {
			s.logger.Printf("geofence: event: user=%s geofence=%s type=%s at=%s", evt.UserID, evt.GeofenceID, evt.Type, evt.OccurredAt.Format(time.RFC3339))
		}
		triggered := events.Triggered(g, evt)
		triggered.UpdateStatus = g.Actions.UpdateStatus
		s.publish(ctx, triggered)
		if g.Actions.Notify && s.notifier != nil {
			status := geofence.StatusOutside
			if state, ok := user.States[g.ID]; ok {
				status = state.Status
			}
			s.notifier.Notify(ctx, Notification{Event: evt, Geofence: g, Status: status})
		}
	}
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Printf("geofence: publish failed: type=%T err=%v", event, err)
	}
}

// geofenceSet returns the cached set of a user, loading it on a miss.
// Rejected definitions are logged once per load. A load that overlaps an
// invalidation is returned but not cached.
func (s *Service) geofenceSet(ctx context.Context, userID string) (GeofenceSet, error) {
	s.cacheMu.RLock()
	set, ok := s.sets[userID]
	gen := s.gens[userID]
	s.cacheMu.RUnlock()
	if ok {
		return set, nil
	}
	defs, err := s.geofences.ListByUser(ctx, userID)
	if err != nil {
		return GeofenceSet{}, err
	}
	set, rejected := LoadGeofences(defs)
	for _, err := range rejected {
		metrics.IncGeofenceRejected(rejectionLabel(err))
		s.logger.Printf("geofence: definition skipped: user=%s err=%v", userID, err)
	}
	s.cacheMu.Lock()
	if s.gens[userID] == gen {
		s.sets[userID] = set
	}
	s.cacheMu.Unlock()
	return set, nil
}

// InvalidateGeofences drops the cached set of a user.
func (s *Service) InvalidateGeofences(userID string) {
	if s == nil {
		return
	}
	s.cacheMu.Lock()
	delete(s.sets, userID)
	s.gens[userID]++
	s.cacheMu.Unlock()
}

// SaveGeofence validates and stores a definition. An empty id is assigned.
func (s *Service) SaveGeofence(ctx context.Context, g *geofence.Geofence) error {
	if s == nil {
		return errors.New("geofence: nil service")
	}
	if g == nil {
		return fmt.Errorf("%w: nil geofence", geofence.ErrInvalidGeofence)
	}
	now := s.clock.Now().UTC()
	if strings.TrimSpace(g.ID) == "" {
		g.ID = "gf-" + uuid.NewString()
	}
	if g.Priority == "" {
		g.Priority = geofence.PriorityNormal
	}
	if g.Shape.Kind == geofence.ShapePolygon {
		g.Shape = geofence.NewPolygon(g.Shape.Vertices)
	}
	if existing, err := s.geofences.Get(ctx, g.UserID, g.ID); err == nil && existing != nil {
		g.CreatedAt = existing.CreatedAt
	} else if err != nil && !errors.Is(err, geofence.ErrNotFound) {
		return err
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if err := g.Validate(); err != nil {
		return err
	}
	if err := s.geofences.Save(ctx, g); err != nil {
		return err
	}
	s.InvalidateGeofences(g.UserID)
	return nil
}

// DeleteGeofence removes a definition together with its runtime state.
func (s *Service) DeleteGeofence(ctx context.Context, userID, id string) error {
	if s == nil {
		return errors.New("geofence: nil service")
	}
	if err := s.geofences.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.InvalidateGeofences(userID)

	unlock := s.lockUser(userID)
	defer unlock()
	user, err := s.states.LoadUser(ctx, userID)
	if err != nil || user == nil {
		return err
	}
	if _, ok := user.States[id]; !ok {
		return nil
	}
	delete(user.States, id)
	return s.states.SaveUser(ctx, user)
}

// ListGeofences returns every stored definition of a user.
func (s *Service) ListGeofences(ctx context.Context, userID string) ([]geofence.Geofence, error) {
	if s == nil {
		return nil, errors.New("geofence: nil service")
	}
	return s.geofences.ListByUser(ctx, userID)
}

// GetGeofence returns one definition.
func (s *Service) GetGeofence(ctx context.Context, userID, id string) (*geofence.Geofence, error) {
	if s == nil {
		return nil, errors.New("geofence: nil service")
	}
	return s.geofences.Get(ctx, userID, id)
}

// ConfirmTransition clears a pending human confirmation.
func (s *Service) ConfirmTransition(ctx context.Context, userID, geofenceID string) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, errors.New("geofence: nil service")
	}
	unlock := s.lockUser(userID)
	defer unlock()
	user, err := s.states.LoadUser(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if user == nil {
		return Snapshot{}, geofence.ErrNotAwaitingConfirmation
	}
	state, ok := user.States[geofenceID]
	if !ok || !state.AwaitingConfirmation {
		return Snapshot{}, geofence.ErrNotAwaitingConfirmation
	}
	state.AwaitingConfirmation = false
	if err := s.states.SaveUser(ctx, user); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(state), nil
}

// Analytics returns the runtime view of one geofence.
func (s *Service) Analytics(ctx context.Context, userID, geofenceID string) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, errors.New("geofence: nil service")
	}
	if _, err := s.geofences.Get(ctx, userID, geofenceID); err != nil {
		return Snapshot{}, err
	}
	user, err := s.states.LoadUser(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if user == nil {
		return snapshotOf(geofence.NewRuntimeState(userID, geofenceID)), nil
	}
	state, ok := user.States[geofenceID]
	if !ok {
		state = geofence.NewRuntimeState(userID, geofenceID)
	}
	return snapshotOf(state), nil
}

// Status returns the machine status of a user for a geofence.
func (s *Service) Status(ctx context.Context, userID, geofenceID string) (geofence.Status, error) {
	snapshot, err := s.Analytics(ctx, userID, geofenceID)
	if err != nil {
		return "", err
	}
	return snapshot.Status, nil
}

// ListEvents returns the stored events of a user in [from, to).
func (s *Service) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]geofence.Event, error) {
	if s == nil {
		return nil, errors.New("geofence: nil service")
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, errors.New("geofence: invalid time range")
	}
	return s.events.ListByUser(ctx, userID, from, to)
}

func (s *Service) lockUser(userID string) func() {
	value, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func snapshotOf(state *geofence.RuntimeState) Snapshot {
	return Snapshot{
		GeofenceID:           state.GeofenceID,
		Status:               state.Status,
		AwaitingConfirmation: state.AwaitingConfirmation,
		Analytics:            state.Analytics.Clone(),
	}
}

func rejectReason(warnings []error) string {
	for _, warn := range warnings {
		switch {
		case errors.Is(warn, geofence.ErrClockSkew):
			return metrics.FixResultClockSkew
		case errors.Is(warn, geofence.ErrLowAccuracy):
			return metrics.FixResultLowAccuracy
		}
	}
	return metrics.FixResultInvalid
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, geofence.ErrInvalidGeometry):
		return "geometry"
	case errors.Is(err, geofence.ErrInvalidSchedule):
		return "schedule"
	case errors.Is(err, geofence.ErrInvalidConditions):
		return "conditions"
	default:
		return "definition"
	}
}

func locationEventID(fix PositionFix) string {
	return "loc-" + fix.UserID + "-" + fix.Timestamp.UTC().Format("20060102T150405.000000000")
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
