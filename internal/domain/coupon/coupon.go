package coupon

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("coupon: not found")
	ErrNotActive      = errors.New("coupon: not active")
	ErrLimitExceeded  = errors.New("coupon: usage limit exceeded")
	ErrDuplicateUsage = errors.New("coupon: duplicate usage record")
	ErrLockTimeout    = errors.New("coupon: row lock wait timed out")
)

// Coupon is the discount code metadata row. Its row lock serializes
// concurrent consumption of the remaining uses.
type Coupon struct {
	Code              string
	Description       string
	Active            bool
	ValidFrom         time.Time
	ValidUntil        time.Time
	UsageLimit        int
	UsageLimitPerUser int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func New(code string, usageLimit int, validFrom, validUntil time.Time) (*Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errors.New("coupon: code is required")
	}
	if usageLimit <= 0 {
		return nil, errors.New("coupon: usage limit must be greater than zero")
	}
	if validUntil.Before(validFrom) {
		return nil, errors.New("coupon: valid until must be after valid from")
	}
	now := time.Now().UTC()
	return &Coupon{
		Code:              code,
		Active:            true,
		ValidFrom:         validFrom,
		ValidUntil:        validUntil,
		UsageLimit:        usageLimit,
		UsageLimitPerUser: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// ValidAt reports whether the coupon can be consumed at t.
func (c *Coupon) ValidAt(t time.Time) error {
	if !c.Active {
		return ErrNotActive
	}
	if t.Before(c.ValidFrom) || t.After(c.ValidUntil) {
		return ErrNotActive
	}
	return nil
}

// UsageRecord is an immutable audit row; its existence is the increment.
type UsageRecord struct {
	CouponCode string
	UserID     string
	OrderID    string
	UsedAt     time.Time
}
