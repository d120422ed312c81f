package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

// Notification is one customer-facing message derived from a domain event.
type Notification struct {
	Kind        string
	RecipientID string
	Subject     string
	Body        string
	CreatedAt   time.Time
}

// Sink delivers notifications to a channel such as email or SMS.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the structured log instead of an
// external delivery channel. It stands in for a mail provider in
// development and in tests.
type LogSink struct {
	log observability.Logger
}

func NewLogSink(logger observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{log: logger.With(observability.F("component", "notify_sink"))}
}

func (s *LogSink) Send(ctx context.Context, n Notification) error {
	logctx.FromOr(ctx, s.log).Info("notification_sent",
		observability.F("kind", n.Kind),
		observability.F("recipient_id", n.RecipientID),
		observability.F("subject", n.Subject),
	)
	return nil
}

func orderSubject(kind, orderID string) string {
	return fmt.Sprintf("%s (order %s)", kind, orderID)
}
