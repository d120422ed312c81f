package coupon

import "context"

// Tx exposes one coupon row and its usage records under the coupon row lock.
type Tx interface {
	Coupon() *Coupon
	UsageCount() int
	UserUsageCount(userID string) int
	// AppendUsage records a consumption. A record with the same
	// (coupon, user, order) triple returns ErrDuplicateUsage.
	AppendUsage(rec UsageRecord) error
	// RemoveUsage compensates a not-yet-committed consumption during
	// checkout rollback. Committed records are never removed.
	RemoveUsage(orderID string) error
	Unlock()
}

type Repository interface {
	// Lock acquires the coupon row lock, honoring the context deadline
	// while waiting (ErrLockTimeout on expiry).
	Lock(ctx context.Context, code string) (Tx, error)

	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, code string) (*Coupon, error)
}
