package notify

import (
	"context"
	"time"

	domcart "github.com/luxeshop/checkout-core/internal/domain/cart"
	domorder "github.com/luxeshop/checkout-core/internal/domain/order"
	domoutbox "github.com/luxeshop/checkout-core/internal/domain/outbox"
	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

const notificationWorker = "notification_worker"

// Worker subscribes to order and cart lifecycle events and turns each one
// into a customer notification.
type Worker struct {
	subscriber domoutbox.Subscriber
	sink       Sink

	log  observability.Logger
	sent observability.Counter
}

func NewWorker(subscriber domoutbox.Subscriber, sink Sink, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		sink:       sink,
		log:        tel.Logger().With(observability.F("component", notificationWorker)),
		sent:       tel.Metrics().Counter(observability.MNotificationsSent),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.sink == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderPlacedEvent{}.EventName(), w.handleOrderPlaced)
	w.subscriber.Subscribe(domorder.PaymentConfirmedEvent{}.EventName(), w.handlePaymentConfirmed)
	w.subscriber.Subscribe(domorder.PaymentFailedEvent{}.EventName(), w.handlePaymentFailed)
	w.subscriber.Subscribe(domcart.CartAbandonedEvent{}.EventName(), w.handleCartAbandoned)
}

func (w *Worker) handleOrderPlaced(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderPlacedEvent)
	if !ok {
		return nil
	}
	return w.deliver(ctx, Notification{
		Kind:        "order_confirmation",
		RecipientID: evt.CustomerID,
		Subject:     orderSubject("Order received", evt.OrderID),
		Body:        "We received your order and are waiting for payment confirmation.",
		CreatedAt:   time.Now().UTC(),
	})
}

func (w *Worker) handlePaymentConfirmed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.PaymentConfirmedEvent)
	if !ok {
		return nil
	}
	return w.deliver(ctx, Notification{
		Kind:        "payment_confirmed",
		RecipientID: evt.CustomerID,
		Subject:     orderSubject("Payment confirmed", evt.OrderID),
		Body:        "Your payment went through and the order is being prepared.",
		CreatedAt:   time.Now().UTC(),
	})
}

func (w *Worker) handlePaymentFailed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.PaymentFailedEvent)
	if !ok {
		return nil
	}
	return w.deliver(ctx, Notification{
		Kind:        "payment_failed",
		RecipientID: evt.CustomerID,
		Subject:     orderSubject("Payment failed", evt.OrderID),
		Body:        "We could not collect the payment for your order: " + evt.Reason,
		CreatedAt:   time.Now().UTC(),
	})
}

func (w *Worker) handleCartAbandoned(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domcart.CartAbandonedEvent)
	if !ok {
		return nil
	}
	return w.deliver(ctx, Notification{
		Kind:        "cart_abandoned",
		RecipientID: evt.OwnerID,
		Subject:     "You left items in your cart",
		Body:        "Your cart is still waiting for you.",
		CreatedAt:   time.Now().UTC(),
	})
}

func (w *Worker) deliver(ctx context.Context, n Notification) error {
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("kind", n.Kind),
		observability.F("recipient_id", n.RecipientID),
	)

	if err := w.sink.Send(ctx, n); err != nil {
		logger.Warn("notification_delivery_failed", observability.Err(err))
		w.sent.Add(1, observability.L("kind", n.Kind), observability.L("outcome", "error"))
		return err
	}

	w.sent.Add(1, observability.L("kind", n.Kind), observability.L("outcome", "sent"))
	return nil
}
