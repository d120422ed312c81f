package webhook

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("webhook: event not found")
	ErrAlreadyProcessed = errors.New("webhook: event already processed")
)

type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// EventRecord tracks one provider-assigned event identifier. The identifier
// is globally unique; a second arrival is a no-op for the caller.
type EventRecord struct {
	EventID      string
	EventType    string
	Status       Status
	Result       string
	ErrorMessage string
	FirstSeenAt  time.Time
	ProcessedAt  time.Time
}

func (r *EventRecord) Clone() *EventRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Store is the durable set of processed external event identifiers.
type Store interface {
	// RecordIfNew atomically inserts the event id if absent. It returns
	// isNew=false without error when the id was already present.
	RecordIfNew(ctx context.Context, eventID, eventType string) (isNew bool, err error)
	// MarkProcessed finalizes the record; processed records are immutable
	// and a second call returns ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, eventID, result string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
	Get(ctx context.Context, eventID string) (*EventRecord, error)
}
