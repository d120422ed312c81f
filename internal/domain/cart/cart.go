package cart

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("cart: not found")
	ErrAlreadyNotified = errors.New("cart: abandonment notification already sent")
)

type Line struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Cart is read-only to the abandonment scanner; only the notification
// flag is mutated here, and it transitions false->true exactly once.
type Cart struct {
	ID                string
	OwnerID           string
	Items             []Line
	UpdatedAt         time.Time
	AbandonedNotified bool
}

func (c *Cart) MarkAbandonedNotified() error {
	if c.AbandonedNotified {
		return ErrAlreadyNotified
	}
	c.AbandonedNotified = true
	return nil
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Items = append([]Line(nil), c.Items...)
	return &clone
}

type Repository interface {
	Save(ctx context.Context, c *Cart) error
	Get(ctx context.Context, id string) (*Cart, error)
	// FindAbandoned returns carts last modified before the threshold that
	// still hold at least one item and have not been notified.
	FindAbandoned(ctx context.Context, before time.Time) ([]*Cart, error)
	// MarkNotified flips the notification flag. ErrAlreadyNotified if set.
	MarkNotified(ctx context.Context, id string) error
}
