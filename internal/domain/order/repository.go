package order

import "context"

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	// Delete removes an order persisted by a checkout attempt that was
	// subsequently rolled back. Committed orders are never deleted.
	Delete(ctx context.Context, id string) error
}
