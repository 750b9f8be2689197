package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	gfapp "locshare-cloud/internal/geofence/application"
	geofence "locshare-cloud/internal/geofence/domain"
	"locshare-cloud/internal/observability/metrics"
)

const eventEscalated = "escalated"

// PresenceReader reports where a user currently stands relative to a geofence.
type PresenceReader interface {
	Status(ctx context.Context, userID, geofenceID string) (geofence.Status, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders geofence events, sends them via a channel and escalates
// visits to high priority places that last past the escalation window.
type Notifier struct {
	channel        Channel
	channelName    string
	template       *Template
	presence       PresenceReader
	escalation     time.Duration
	clock          Clock
	logger         *log.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures the escalation delay. Escalation needs a presence reader.
func WithEscalation(after time.Duration, presence PresenceReader) Option {
	return func(n *Notifier) {
		if after > 0 && presence != nil {
			n.escalation = after
			n.presence = presence
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithChannelName sets the channel label used in metrics.
func WithChannelName(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.channelName = name
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// user, geofence and event type.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a geofence notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("geofence notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		channelName:    "webhook",
		template:       template,
		clock:          systemClock{},
		logger:         log.Default(),
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.Notifier.
func (n *Notifier) Notify(ctx context.Context, note gfapp.Notification) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, string(note.Event.Type), note)

	switch note.Event.Type {
	case geofence.EventEnter:
		n.scheduleEscalation(note)
	case geofence.EventExit:
		n.cancelEscalation(visitKey(note.Event.UserID, note.Event.GeofenceID))
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, note gfapp.Notification) {
	content, err := n.template.Render(buildTemplateData(eventType, note))
	if err != nil {
		n.logger.Printf("geofence notifier: render failed: geofence=%s err=%v", note.Geofence.ID, err)
		return
	}
	key := notificationKey(note.Event.UserID, note.Event.GeofenceID, eventType)
	if !n.shouldSend(key, content) {
		metrics.IncNotification(n.channelName, "suppressed")
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotification(n.channelName, metrics.ResultError)
		n.logger.Printf("geofence notifier: send failed: user=%s geofence=%s event=%s err=%v", note.Event.UserID, note.Event.GeofenceID, eventType, err)
		return
	}
	metrics.IncNotification(n.channelName, metrics.ResultSuccess)
	n.markSent(key, content)
}

func (n *Notifier) scheduleEscalation(note gfapp.Notification) {
	if n.escalation <= 0 || n.presence == nil {
		return
	}
	if note.Geofence.Priority.Rank() < geofence.PriorityHigh.Rank() {
		return
	}
	key := visitKey(note.Event.UserID, note.Event.GeofenceID)
	n.mu.Lock()
	if existing, ok := n.timers[key]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[key] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(key, note)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(key string) {
	n.mu.Lock()
	timer := n.timers[key]
	delete(n.timers, key)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(key string, note gfapp.Notification) {
	n.mu.Lock()
	delete(n.timers, key)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	status, err := n.presence.Status(ctx, note.Event.UserID, note.Event.GeofenceID)
	if err != nil {
		n.logger.Printf("geofence notifier: escalation check failed: user=%s geofence=%s err=%v", note.Event.UserID, note.Event.GeofenceID, err)
		return
	}
	if !status.Contained() {
		return
	}
	note.Status = status
	n.dispatch(ctx, eventEscalated, note)
}

func buildTemplateData(eventType string, note gfapp.Notification) TemplateData {
	name := note.Geofence.Name
	if name == "" {
		name = note.Event.GeofenceID
	}
	data := TemplateData{
		Geofence:     name,
		GeofenceID:   note.Event.GeofenceID,
		UserID:       note.Event.UserID,
		Priority:     string(note.Geofence.Priority),
		OccurredAt:   note.Event.OccurredAt.UTC().Format(time.RFC3339),
		Location:     fmt.Sprintf("%.6f,%.6f", note.Event.Location.Latitude, note.Event.Location.Longitude),
		Status:       statusLabel(note.Status),
		Message:      note.Geofence.Actions.Message,
		Confirmation: note.Event.Metadata[geofence.MetaConfirmation] == geofence.ConfirmationPending,
		Event:        eventType,
		EventLabel:   eventLabel(eventType),
	}
	if secs, ok := note.Event.Metadata[geofence.MetaDwellSeconds]; ok {
		data.Dwell = secs + "s"
	}
	return data
}

func statusLabel(status geofence.Status) string {
	switch status {
	case geofence.StatusInside, geofence.StatusPendingExit:
		return "inside"
	case geofence.StatusDwelling:
		return "dwelling"
	case geofence.StatusOutside, geofence.StatusPendingEnter, "":
		return "outside"
	default:
		return string(status)
	}
}

func eventLabel(event string) string {
	switch event {
	case string(geofence.EventEnter):
		return "Entered"
	case string(geofence.EventExit):
		return "Left"
	case string(geofence.EventDwell):
		return "Dwelling"
	case eventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func visitKey(userID, geofenceID string) string {
	return userID + "|" + geofenceID
}

func notificationKey(userID, geofenceID, eventType string) string {
	return userID + "|" + geofenceID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
