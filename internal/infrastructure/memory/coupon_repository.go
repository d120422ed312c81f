package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/luxeshop/checkout-core/internal/domain/coupon"
)

// CouponRepository keeps coupon rows and their usage records in memory.
// The per-coupon lock serializes concurrent consumption; the usage count is
// derived from the records, never stored as a separate counter.
type CouponRepository struct {
	mu   sync.RWMutex
	rows map[string]*couponRow
}

type couponRow struct {
	sem    chan struct{}
	coupon *domain.Coupon
	usages []domain.UsageRecord
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		rows: make(map[string]*couponRow),
	}
}

func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	_ = ctx
	if c == nil || c.Code == "" {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code := normalizeCode(c.Code)
	if _, exists := r.rows[code]; exists {
		return nil
	}
	clone := *c
	clone.Code = code
	r.rows[code] = &couponRow{
		sem:    make(chan struct{}, 1),
		coupon: &clone,
	}
	return nil
}

func (r *CouponRepository) Get(ctx context.Context, code string) (*domain.Coupon, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[normalizeCode(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *row.coupon
	return &clone, nil
}

func (r *CouponRepository) Lock(ctx context.Context, code string) (domain.Tx, error) {
	r.mu.RLock()
	row, ok := r.rows[normalizeCode(code)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	select {
	case row.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, domain.ErrLockTimeout
	}
	return &couponTx{row: row}, nil
}

type couponTx struct {
	row      *couponRow
	unlocked bool
}

func (t *couponTx) Coupon() *domain.Coupon {
	clone := *t.row.coupon
	return &clone
}

func (t *couponTx) UsageCount() int {
	return len(t.row.usages)
}

func (t *couponTx) UserUsageCount(userID string) int {
	n := 0
	for _, u := range t.row.usages {
		if u.UserID == userID {
			n++
		}
	}
	return n
}

func (t *couponTx) AppendUsage(rec domain.UsageRecord) error {
	for _, u := range t.row.usages {
		if u.UserID == rec.UserID && u.OrderID == rec.OrderID {
			return domain.ErrDuplicateUsage
		}
	}
	t.row.usages = append(t.row.usages, rec)
	return nil
}

func (t *couponTx) RemoveUsage(orderID string) error {
	for i, u := range t.row.usages {
		if u.OrderID == orderID {
			t.row.usages = append(t.row.usages[:i], t.row.usages[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (t *couponTx) Unlock() {
	if t.unlocked {
		return
	}
	t.unlocked = true
	<-t.row.sem
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
