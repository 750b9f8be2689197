package memory

import (
	"context"
	"errors"
	"sync"

	"locshare-cloud/internal/eventing"
)

// ProcessedStore is an in-memory idempotency store.
type ProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed checks if the consumer already handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[consumerName+"|"+eventID]
	return ok, nil
}

// MarkProcessed records the event as handled.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: event id and consumer required")
	}
	s.mu.Lock()
	s.seen[consumerName+"|"+eventID] = struct{}{}
	s.mu.Unlock()
	return nil
}

type outboxEntry struct {
	record   eventing.OutboxRecord
	status   string
	attempts int
}

// OutboxStore keeps outbox records in insertion order.
type OutboxStore struct {
	mu      sync.Mutex
	entries []*outboxEntry
	byEvent map[string]*outboxEntry
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{byEvent: make(map[string]*outboxEntry)}
}

// Insert appends an envelope. Re-inserting an event id is a no-op.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byEvent[env.EventID]; ok {
		return existing.record.ID, nil
	}
	entry := &outboxEntry{record: eventing.OutboxRecord{ID: eventing.NewEventID(), Envelope: env}, status: "pending"}
	s.entries = append(s.entries, entry)
	s.byEvent[env.EventID] = entry
	return entry.record.ID, nil
}

// ListPending returns pending records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.OutboxRecord
	for _, entry := range s.entries {
		if entry.status != "pending" {
			continue
		}
		out = append(out, entry.record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.mark(id, "sent")
}

// MarkFailed marks a record as failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.mark(id, "failed")
}

// Status returns the status of the record holding eventID.
func (s *OutboxStore) Status(eventID string) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byEvent[eventID]
	if !ok {
		return "", 0
	}
	return entry.status, entry.attempts
}

func (s *OutboxStore) mark(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.record.ID == id {
			entry.status = status
			if status == "failed" {
				entry.attempts++
			}
			return nil
		}
	}
	return errors.New("outbox store: record not found")
}

// DLQStore collects failures in memory.
type DLQStore struct {
	mu       sync.Mutex
	Failures []eventing.Envelope
}

// RecordFailure stores the envelope.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, err error) error {
	s.mu.Lock()
	s.Failures = append(s.Failures, env)
	s.mu.Unlock()
	return nil
}

// Count returns the number of recorded failures.
func (s *DLQStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Failures)
}
