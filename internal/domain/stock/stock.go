package stock

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("stock: product not found")
	ErrInvalidQuantity    = errors.New("stock: quantity must be greater than zero")
	ErrInsufficientStock  = errors.New("stock: insufficient stock")
	ErrLockTimeout        = errors.New("stock: row lock wait timed out")
	ErrInvariantViolation = errors.New("stock: negative stock observed")
)

// Record is the authoritative stock counter for one product.
// Quantity never goes negative; every decrement happens under the row lock.
type Record struct {
	ProductID string
	Quantity  int
	Version   int64
	UpdatedAt time.Time
}

func NewRecord(productID string, quantity int) (*Record, error) {
	if productID == "" {
		return nil, errors.New("stock: product id is required")
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Record{
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (r *Record) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Quantity < 0 {
		return ErrInvariantViolation
	}
	if quantity > r.Quantity {
		return &InsufficientStockError{
			ProductID: r.ProductID,
			Requested: quantity,
			Available: r.Quantity,
		}
	}
	r.Quantity -= quantity
	r.touch()
	return nil
}

func (r *Record) Restock(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	r.Quantity += quantity
	r.touch()
	return nil
}

func (r *Record) touch() {
	r.Version++
	r.UpdatedAt = time.Now().UTC()
}

// InsufficientStockError names the first product that could not cover the
// requested quantity. It unwraps to ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
