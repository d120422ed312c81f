package stock

import "context"

// Tx is a set of product rows held under exclusive row locks.
// Mutations through Save are visible to other transactions only after Unlock.
type Tx interface {
	Get(productID string) (*Record, error)
	Save(rec *Record) error
	Unlock()
}

// Repository provides row-level locking over stock records.
type Repository interface {
	// Lock acquires exclusive locks on the given product rows.
	// Implementations must lock in ascending product-id order regardless of
	// the order of productIDs, and honor the context deadline while waiting
	// (returning ErrLockTimeout on expiry).
	Lock(ctx context.Context, productIDs []string) (Tx, error)

	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, productID string) (*Record, error)
}
