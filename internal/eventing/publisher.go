package eventing

import (
	"context"
	"log"
	"reflect"
	"time"

	"locshare-cloud/internal/eventing/eventbus"
	"locshare-cloud/internal/observability/metrics"
)

const slowPublishThreshold = 50 * time.Millisecond

// Publisher writes events to the outbox and triggers dispatch. Without an
// outbox it delivers the envelope straight to the bus.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	bus      eventbus.EventBus
	logger   *log.Logger
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// PublisherOption customizes the publisher.
type PublisherOption func(*Publisher)

// WithOutbox routes events through an outbox and dispatcher.
func WithOutbox(outbox OutboxWriter, dispatch *Dispatcher) PublisherOption {
	return func(p *Publisher) {
		p.outbox = outbox
		p.dispatch = dispatch
	}
}

// WithPublisherLogger assigns a logger for slow publishes.
func WithPublisherLogger(logger *log.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher constructs a publisher on top of bus.
func NewPublisher(bus eventbus.EventBus, opts ...PublisherOption) *Publisher {
	p := &Publisher{bus: bus, logger: log.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records the event and delivers it.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	start := time.Now()
	if p == nil || (p.outbox == nil && p.bus == nil) {
		metrics.ObserveOutboxPublish(metrics.ResultSuccess, time.Since(start))
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}

	if p.outbox == nil {
		err := p.bus.Publish(WithEnvelope(ctx, env), event)
		p.observe(event, err, time.Since(start))
		return err
	}

	if _, err := p.outbox.Insert(ctx, env); err != nil {
		p.observe(event, err, time.Since(start))
		return err
	}
	p.observe(event, nil, time.Since(start))
	if p.dispatch != nil {
		if _, err := p.dispatch.Dispatch(ctx, 10); err != nil {
			p.logger.Printf("eventing: dispatch after publish failed: event_type=%s err=%v", env.EventType, err)
		}
	}
	return nil
}

// Subscribe delegates to the underlying bus.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.bus == nil {
		return
	}
	p.bus.Subscribe(eventType, handler)
}

func (p *Publisher) observe(event any, err error, duration time.Duration) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveOutboxPublish(result, duration)
	if duration > slowPublishThreshold {
		p.logger.Printf("eventing: slow publish: duration_ms=%d result=%s event_type=%s",
			duration.Milliseconds(), result, reflect.TypeOf(event).String())
	}
}
