package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/stock"
	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

const componentLedger = "stock_ledger"

var ErrReservationNotFound = errors.New("stock: reservation not found")

// Reservation is a provisional decrement tied to a pending checkout.
// It stays reversible until Commit; Release restores the quantities.
type Reservation struct {
	ID        string
	Items     map[string]int
	CreatedAt time.Time
}

type IDGenerator interface {
	NewID() string
}

// Ledger exclusively owns stock mutation. All decrements happen under row
// locks acquired in ascending product-id order; on any failure the whole
// reservation is refused with no partial decrement (fail closed).
type Ledger struct {
	repo     domain.Repository
	idGen    IDGenerator
	lockWait time.Duration

	mu      sync.Mutex
	pending map[string]*Reservation

	log          observability.Logger
	reservations observability.Counter
}

func NewLedger(repo domain.Repository, idGen IDGenerator, lockWait time.Duration, logger observability.Logger, tel observability.Observability) *Ledger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.Nop()
	}
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &Ledger{
		repo:         repo,
		idGen:        idGen,
		lockWait:     lockWait,
		pending:      make(map[string]*Reservation),
		log:          logger.With(observability.F("component", componentLedger)),
		reservations: tel.Metrics().Counter(observability.MStockReservations),
	}
}

// Reserve decrements a single product, all-or-nothing.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) (*Reservation, error) {
	return l.ReserveAll(ctx, map[string]int{productID: quantity})
}

// ReserveAll decrements every requested product or none of them. The first
// product (in ascending id order) that cannot cover its quantity is named
// in the returned InsufficientStockError.
func (l *Ledger) ReserveAll(ctx context.Context, items map[string]int) (*Reservation, error) {
	if len(items) == 0 {
		return nil, domain.ErrInvalidQuantity
	}
	ids := make([]string, 0, len(items))
	for id, qty := range items {
		if qty <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		ids = append(ids, id)
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.lockWait)
	defer cancel()

	tx, err := l.repo.Lock(lockCtx, ids)
	if err != nil {
		l.reservations.Add(1, observability.L("outcome", outcomeOf(err)))
		return nil, err
	}
	defer tx.Unlock()

	// Verify every row before touching any counter.
	records := make([]*domain.Record, 0, len(items))
	for _, id := range sortedIDs(items) {
		rec, err := tx.Get(id)
		if err != nil {
			l.reservations.Add(1, observability.L("outcome", "not_found"))
			return nil, err
		}
		if rec.Quantity < 0 {
			logger := logctx.FromOr(ctx, l.log)
			logger.Error("stock_invariant_violation",
				observability.F("invariant", "non_negative_stock"),
				observability.F("product_id", id),
				observability.F("quantity", rec.Quantity),
			)
			l.reservations.Add(1, observability.L("outcome", "invariant_violation"))
			return nil, domain.ErrInvariantViolation
		}
		if rec.Quantity < items[id] {
			l.reservations.Add(1, observability.L("outcome", "insufficient_stock"))
			return nil, &domain.InsufficientStockError{
				ProductID: id,
				Requested: items[id],
				Available: rec.Quantity,
			}
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		if err := rec.Deduct(items[rec.ProductID]); err != nil {
			return nil, err
		}
		if err := tx.Save(rec); err != nil {
			return nil, fmt.Errorf("stock: save: %w", err)
		}
	}

	res := &Reservation{
		ID:        l.idGen.NewID(),
		Items:     copyItems(items),
		CreatedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	l.pending[res.ID] = res
	l.mu.Unlock()

	l.reservations.Add(1, observability.L("outcome", "reserved"))
	return res, nil
}

// Commit finalizes a reservation; the decrement already applied becomes
// permanent and the handle is discarded.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	_ = ctx

	l.mu.Lock()
	_, ok := l.pending[reservationID]
	if ok {
		delete(l.pending, reservationID)
	}
	l.mu.Unlock()

	if !ok {
		return ErrReservationNotFound
	}
	l.reservations.Add(1, observability.L("outcome", "committed"))
	return nil
}

// Release restores the decremented quantities of a pending reservation,
// used when a later checkout step fails.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	res, ok := l.pending[reservationID]
	if ok {
		delete(l.pending, reservationID)
	}
	l.mu.Unlock()

	if !ok {
		return ErrReservationNotFound
	}

	ids := make([]string, 0, len(res.Items))
	for id := range res.Items {
		ids = append(ids, id)
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.lockWait)
	defer cancel()

	tx, err := l.repo.Lock(lockCtx, ids)
	if err != nil {
		// The handle is already gone; losing the restore would leak stock,
		// so surface loudly for operator intervention.
		logger := logctx.FromOr(ctx, l.log)
		logger.Error("stock_release_failed",
			observability.F("reservation_id", reservationID),
			observability.Err(err),
		)
		return err
	}
	defer tx.Unlock()

	for id, qty := range res.Items {
		rec, err := tx.Get(id)
		if err != nil {
			return err
		}
		if err := rec.Restock(qty); err != nil {
			return err
		}
		if err := tx.Save(rec); err != nil {
			return fmt.Errorf("stock: save: %w", err)
		}
	}

	l.reservations.Add(1, observability.L("outcome", "released"))
	return nil
}

// Restock creates the product row if needed and increments its counter.
func (l *Ledger) Restock(ctx context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.lockWait)
	defer cancel()

	tx, err := l.repo.Lock(lockCtx, []string{productID})
	if errors.Is(err, domain.ErrNotFound) {
		rec, recErr := domain.NewRecord(productID, quantity)
		if recErr != nil {
			return 0, recErr
		}
		if createErr := l.repo.Create(ctx, rec); createErr != nil {
			return 0, createErr
		}
		return rec.Quantity, nil
	}
	if err != nil {
		return 0, err
	}
	defer tx.Unlock()

	rec, err := tx.Get(productID)
	if err != nil {
		return 0, err
	}
	if err := rec.Restock(quantity); err != nil {
		return 0, err
	}
	if err := tx.Save(rec); err != nil {
		return 0, fmt.Errorf("stock: save: %w", err)
	}
	return rec.Quantity, nil
}

// Available reads the current counter without locking.
func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	rec, err := l.repo.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return rec.Quantity, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func sortedIDs(items map[string]int) []string {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyItems(items map[string]int) map[string]int {
	out := make(map[string]int, len(items))
	for k, v := range items {
		out[k] = v
	}
	return out
}
