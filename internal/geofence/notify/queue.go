package notify

import (
	"context"
	"errors"
	"log"
	"sync"

	gfapp "locshare-cloud/internal/geofence/application"
	"locshare-cloud/internal/observability/metrics"
)

// Queue hands notifications to a downstream notifier on background workers so
// evaluation never waits for delivery. Notifications are dropped when the
// buffer is full.
type Queue struct {
	next    gfapp.Notifier
	items   chan gfapp.Notification
	workers int
	logger  *log.Logger

	once sync.Once
	wg   sync.WaitGroup
	mu   sync.RWMutex
	done bool
}

// QueueOption configures the queue.
type QueueOption func(*Queue)

// WithQueueWorkers sets the number of delivery goroutines.
func WithQueueWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueLogger assigns a logger.
func WithQueueLogger(logger *log.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueue constructs a queue with the given buffer size.
func NewQueue(next gfapp.Notifier, size int, opts ...QueueOption) (*Queue, error) {
	if next == nil {
		return nil, errors.New("notify queue: nil notifier")
	}
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		next:    next,
		items:   make(chan gfapp.Notification, size),
		workers: 1,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start launches the workers. They exit when ctx is done or Close is called.
func (q *Queue) Start(ctx context.Context) {
	if q == nil {
		return
	}
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.run(ctx)
		}
	})
}

// Notify enqueues the notification without blocking.
func (q *Queue) Notify(_ context.Context, n gfapp.Notification) {
	if q == nil {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.done {
		return
	}
	select {
	case q.items <- n:
	default:
		metrics.IncNotification("queue", "dropped")
		q.logger.Printf("notify queue: full, dropped: user=%s geofence=%s event=%s", n.Event.UserID, n.Event.GeofenceID, n.Event.Type)
	}
}

// Close stops accepting notifications and waits for queued ones to drain.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if !q.done {
		q.done = true
		close(q.items)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q.items:
			if !ok {
				return
			}
			q.next.Notify(ctx, n)
		}
	}
}
