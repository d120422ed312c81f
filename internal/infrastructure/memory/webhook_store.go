package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/webhook"
)

// WebhookStore is the in-memory idempotency ledger. RecordIfNew is the
// insert-if-absent primitive; the single mutex makes it atomic, matching a
// unique-constraint insert in a row store.
type WebhookStore struct {
	mu     sync.Mutex
	events map[string]*domain.EventRecord
}

func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		events: make(map[string]*domain.EventRecord),
	}
}

func (s *WebhookStore) RecordIfNew(ctx context.Context, eventID, eventType string) (bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[eventID]; exists {
		return false, nil
	}
	s.events[eventID] = &domain.EventRecord{
		EventID:     eventID,
		EventType:   eventType,
		Status:      domain.StatusReceived,
		FirstSeenAt: time.Now().UTC(),
	}
	return true, nil
}

func (s *WebhookStore) MarkProcessed(ctx context.Context, eventID, result string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status == domain.StatusProcessed {
		return domain.ErrAlreadyProcessed
	}
	rec.Status = domain.StatusProcessed
	rec.Result = result
	rec.ErrorMessage = ""
	rec.ProcessedAt = time.Now().UTC()
	return nil
}

func (s *WebhookStore) MarkFailed(ctx context.Context, eventID, reason string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status == domain.StatusProcessed {
		return domain.ErrAlreadyProcessed
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = reason
	rec.ProcessedAt = time.Now().UTC()
	return nil
}

func (s *WebhookStore) Get(ctx context.Context, eventID string) (*domain.EventRecord, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}
