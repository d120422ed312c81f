package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: already exists")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("order: amount must be zero or greater")
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusCompleted     Status = "completed"
	StatusPaymentFailed Status = "payment_failed"
	StatusCancelled     Status = "cancelled"
)

type LineItem struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice int64
}

type Order struct {
	ID            string
	CustomerID    string
	Items         []LineItem
	Amount        int64
	CouponCode    string
	ReservationID string
	PaymentRef    string
	Status        Status
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, customerID string, items []LineItem) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if customerID == "" {
		return nil, errors.New("order: customer id is required")
	}
	if len(items) == 0 {
		return nil, errors.New("order: at least one line item is required")
	}

	var amount int64
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.UnitPrice < 0 {
			return nil, ErrInvalidAmount
		}
		amount += it.UnitPrice * int64(it.Quantity)
	}

	now := time.Now().UTC()
	return &Order{
		ID:         id,
		CustomerID: customerID,
		Items:      append([]LineItem(nil), items...),
		Amount:     amount,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (o *Order) MarkCompleted() {
	o.Status = StatusCompleted
	o.FailureReason = ""
	o.touch()
}

func (o *Order) MarkPaymentFailed(reason string) {
	o.Status = StatusPaymentFailed
	o.FailureReason = reason
	o.touch()
}

func (o *Order) MarkCancelled() {
	o.Status = StatusCancelled
	o.touch()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
