package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	stockapp "github.com/luxeshop/checkout-core/internal/application/stock"
	"github.com/luxeshop/checkout-core/internal/domain/order"
	domoutbox "github.com/luxeshop/checkout-core/internal/domain/outbox"
	domain "github.com/luxeshop/checkout-core/internal/domain/webhook"
	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

const (
	webhookService = "webhook-service"
	publishTimeout = 300 * time.Millisecond

	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
)

var (
	ErrBadSignature = errors.New("webhook: signature mismatch")
	ErrMissingField = errors.New("webhook: missing required field")
)

// ReservationFinalizer is the slice of the stock ledger the webhook
// pipeline needs to settle a pending reservation.
type ReservationFinalizer interface {
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

// Event is one payment provider callback after payload decoding.
type Event struct {
	ID        string
	Type      string
	OrderID   string
	PaymentID string
	Reason    string
}

// Service makes webhook delivery idempotent: the first delivery of an
// event ID fulfills the order, every redelivery is acknowledged without
// side effects.
type Service struct {
	store     domain.Store
	orders    order.Repository
	ledger    ReservationFinalizer
	publisher domoutbox.Publisher
	secret    []byte

	log    observability.Logger
	events observability.Counter
}

func NewService(
	store domain.Store,
	orders order.Repository,
	ledger ReservationFinalizer,
	publisher domoutbox.Publisher,
	secret string,
	tel observability.Observability,
) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		store:     store,
		orders:    orders,
		ledger:    ledger,
		publisher: publisher,
		secret:    []byte(secret),
		log:       tel.Logger().With(observability.F("service", webhookService)),
		events:    tel.Metrics().Counter(observability.MWebhookEvents),
	}
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw payload.
// Verification is skipped when no secret is configured.
func (s *Service) VerifySignature(payload []byte, signature string) error {
	if len(s.secret) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	want := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

// Process handles one delivery. Redeliveries of an already recorded event
// return nil without touching order or stock state. A fulfillment failure
// marks the event failed and returns the error so the provider retries.
func (s *Service) Process(ctx context.Context, ev Event) error {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("event_id", ev.ID),
		observability.F("event_type", ev.Type),
	)

	if ev.ID == "" {
		s.events.Add(1, observability.L("type", ev.Type), observability.L("outcome", "invalid"))
		return fmt.Errorf("%w: event id", ErrMissingField)
	}

	isNew, err := s.store.RecordIfNew(ctx, ev.ID, ev.Type)
	if err != nil {
		s.events.Add(1, observability.L("type", ev.Type), observability.L("outcome", "store_error"))
		return err
	}
	if !isNew {
		rec, getErr := s.store.Get(ctx, ev.ID)
		if getErr != nil {
			s.events.Add(1, observability.L("type", ev.Type), observability.L("outcome", "store_error"))
			return getErr
		}
		// Only a previously failed event is worth another fulfillment
		// attempt; processed and in-flight ones are acknowledged as is.
		if rec.Status != domain.StatusFailed {
			logger.Info("webhook_event_duplicate")
			s.events.Add(1, observability.L("type", ev.Type), observability.L("outcome", "duplicate"))
			return nil
		}
		logger.Info("webhook_event_retry")
	}

	if err := s.fulfill(ctx, logger, ev); err != nil {
		if markErr := s.store.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
			logger.Error("webhook_mark_failed_error", observability.Err(markErr))
		}
		s.events.Add(1, observability.L("type", ev.Type), observability.L("outcome", "failed"))
		return err
	}

	s.events.Add(1, observability.L("type", ev.Type), observability.L("outcome", "processed"))
	return nil
}

func (s *Service) fulfill(ctx context.Context, logger observability.Logger, ev Event) error {
	switch ev.Type {
	case EventPaymentAuthorized:
		return s.fulfillAuthorized(ctx, logger, ev)
	case EventPaymentFailed:
		return s.fulfillFailed(ctx, logger, ev)
	default:
		// Unknown event types are acknowledged so the provider stops
		// redelivering them.
		logger.Warn("webhook_event_ignored")
		return s.store.MarkProcessed(ctx, ev.ID, "ignored")
	}
}

func (s *Service) fulfillAuthorized(ctx context.Context, logger observability.Logger, ev Event) error {
	if ev.OrderID == "" {
		return fmt.Errorf("%w: order id", ErrMissingField)
	}

	ord, err := s.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return err
	}

	if ord.ReservationID != "" {
		if err := s.ledger.Commit(ctx, ord.ReservationID); err != nil {
			if !errors.Is(err, stockapp.ErrReservationNotFound) {
				return err
			}
			// Reservation already settled, e.g. a failed event landed first.
			logger.Warn("webhook_reservation_already_settled",
				observability.F("reservation_id", ord.ReservationID),
			)
		}
	}

	ord.MarkCompleted()
	if ev.PaymentID != "" {
		ord.PaymentRef = ev.PaymentID
	}
	if err := s.orders.Update(ctx, ord); err != nil {
		return err
	}

	s.publish(ctx, logger, order.NewPaymentConfirmedEvent(ord))
	logger.Info("webhook_order_completed", observability.F("order_id", ord.ID))

	return s.store.MarkProcessed(ctx, ev.ID, "order_completed")
}

func (s *Service) fulfillFailed(ctx context.Context, logger observability.Logger, ev Event) error {
	if ev.OrderID == "" {
		return fmt.Errorf("%w: order id", ErrMissingField)
	}

	ord, err := s.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return err
	}

	if ord.ReservationID != "" {
		if err := s.ledger.Release(ctx, ord.ReservationID); err != nil {
			if !errors.Is(err, stockapp.ErrReservationNotFound) {
				return err
			}
			logger.Warn("webhook_reservation_already_settled",
				observability.F("reservation_id", ord.ReservationID),
			)
		}
	}

	ord.MarkPaymentFailed(ev.Reason)
	if err := s.orders.Update(ctx, ord); err != nil {
		return err
	}

	s.publish(ctx, logger, order.NewPaymentFailedEvent(ord, ev.Reason))
	logger.Info("webhook_order_payment_failed",
		observability.F("order_id", ord.ID),
		observability.F("reason", ev.Reason),
	)

	return s.store.MarkProcessed(ctx, ev.ID, "order_payment_failed")
}

func (s *Service) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, e); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.Err(err),
		)
	}
}
