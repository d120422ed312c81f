package coupon

import (
	"context"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/coupon"
	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

const componentTracker = "coupon_tracker"

// Tracker enforces per-user and global usage caps for discount codes.
// The coupon row lock serializes concurrent consumption of the last
// remaining use; the usage count is derived from the audit records, so
// there is no separate counter to lose updates on.
type Tracker struct {
	repo     domain.Repository
	lockWait time.Duration

	log          observability.Logger
	consumptions observability.Counter

	now func() time.Time
}

func NewTracker(repo domain.Repository, lockWait time.Duration, logger observability.Logger, tel observability.Observability) *Tracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.Nop()
	}
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &Tracker{
		repo:         repo,
		lockWait:     lockWait,
		log:          logger.With(observability.F("component", componentTracker)),
		consumptions: tel.Metrics().Counter(observability.MCouponConsumptions),
		now:          time.Now,
	}
}

// TryConsume records one use of the coupon for the user and order. It
// returns nil on success, domain.ErrNotActive when the coupon is inactive
// or outside its validity window, and domain.ErrLimitExceeded when either
// the global or the per-user cap is reached.
func (t *Tracker) TryConsume(ctx context.Context, code, userID, orderID string) error {
	lockCtx, cancel := context.WithTimeout(ctx, t.lockWait)
	defer cancel()

	tx, err := t.repo.Lock(lockCtx, code)
	if err != nil {
		t.consumptions.Add(1, observability.L("outcome", "error"))
		return err
	}
	defer tx.Unlock()

	c := tx.Coupon()
	if err := c.ValidAt(t.now().UTC()); err != nil {
		t.consumptions.Add(1, observability.L("outcome", "not_active"))
		return err
	}
	if tx.UsageCount() >= c.UsageLimit {
		t.consumptions.Add(1, observability.L("outcome", "limit_exceeded"))
		return domain.ErrLimitExceeded
	}
	if tx.UserUsageCount(userID) >= c.UsageLimitPerUser {
		t.consumptions.Add(1, observability.L("outcome", "limit_exceeded"))
		return domain.ErrLimitExceeded
	}

	err = tx.AppendUsage(domain.UsageRecord{
		CouponCode: c.Code,
		UserID:     userID,
		OrderID:    orderID,
		UsedAt:     t.now().UTC(),
	})
	if err != nil {
		// A duplicate record for (coupon, user, order) cannot happen under
		// correct locking; treat it as an invariant violation.
		logger := logctx.FromOr(ctx, t.log)
		logger.Error("coupon_invariant_violation",
			observability.F("invariant", "unique_usage_record"),
			observability.F("coupon_code", c.Code),
			observability.F("order_id", orderID),
			observability.Err(err),
		)
		t.consumptions.Add(1, observability.L("outcome", "invariant_violation"))
		return err
	}

	t.consumptions.Add(1, observability.L("outcome", "consumed"))
	return nil
}

// Rollback removes the usage record written for a checkout attempt that is
// being rolled back. Committed usage records are immutable; this compensates
// only the attempt's own uncommitted write.
func (t *Tracker) Rollback(ctx context.Context, code, orderID string) error {
	lockCtx, cancel := context.WithTimeout(ctx, t.lockWait)
	defer cancel()

	tx, err := t.repo.Lock(lockCtx, code)
	if err != nil {
		return err
	}
	defer tx.Unlock()

	return tx.RemoveUsage(orderID)
}

// Validate performs the read-only pre-check used by the checkout endpoint:
// same rules as TryConsume, without writing a record.
func (t *Tracker) Validate(ctx context.Context, code, userID string) error {
	lockCtx, cancel := context.WithTimeout(ctx, t.lockWait)
	defer cancel()

	tx, err := t.repo.Lock(lockCtx, code)
	if err != nil {
		return err
	}
	defer tx.Unlock()

	c := tx.Coupon()
	if err := c.ValidAt(t.now().UTC()); err != nil {
		return err
	}
	if tx.UsageCount() >= c.UsageLimit {
		return domain.ErrLimitExceeded
	}
	if tx.UserUsageCount(userID) >= c.UsageLimitPerUser {
		return domain.ErrLimitExceeded
	}
	return nil
}
