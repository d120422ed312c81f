package order

import "time"

// OrderPlacedEvent is emitted when a checkout attempt commits.
// It is handled by the notification worker (order confirmation email).
type OrderPlacedEvent struct {
	OrderID    string
	CustomerID string
	Amount     int64
	CouponCode string
	OccurredAt time.Time
}

func (OrderPlacedEvent) EventName() string { return "order.placed" }

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Amount,
		CouponCode: o.CouponCode,
		OccurredAt: time.Now().UTC(),
	}
}

// PaymentConfirmedEvent is emitted once per external payment event after
// the idempotency gate, when fulfillment side effects have been applied.
type PaymentConfirmedEvent struct {
	OrderID    string
	CustomerID string
	PaymentRef string
	OccurredAt time.Time
}

func (PaymentConfirmedEvent) EventName() string { return "order.payment_confirmed" }

func NewPaymentConfirmedEvent(o *Order) PaymentConfirmedEvent {
	return PaymentConfirmedEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		PaymentRef: o.PaymentRef,
		OccurredAt: time.Now().UTC(),
	}
}

// PaymentFailedEvent is emitted when the payment provider reports a
// failed payment for an order.
type PaymentFailedEvent struct {
	OrderID    string
	CustomerID string
	Reason     string
	OccurredAt time.Time
}

func (PaymentFailedEvent) EventName() string { return "order.payment_failed" }

func NewPaymentFailedEvent(o *Order, reason string) PaymentFailedEvent {
	return PaymentFailedEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
