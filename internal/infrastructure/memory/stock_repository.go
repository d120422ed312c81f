package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/luxeshop/checkout-core/internal/domain/stock"
)

// StockRepository keeps stock rows in memory with a per-row lock, standing in
// for a transactional row store with SELECT ... FOR UPDATE semantics.
type StockRepository struct {
	mu   sync.RWMutex
	rows map[string]*stockRow
}

type stockRow struct {
	sem chan struct{} // capacity 1; holding the token is holding the row lock
	rec *domain.Record
}

func NewStockRepository() *StockRepository {
	return &StockRepository{
		rows: make(map[string]*stockRow),
	}
}

func (r *StockRepository) Create(ctx context.Context, rec *domain.Record) error {
	_ = ctx
	if rec == nil || rec.ProductID == "" {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[rec.ProductID]; exists {
		return nil
	}
	r.rows[rec.ProductID] = &stockRow{
		sem: make(chan struct{}, 1),
		rec: cloneRecord(rec),
	}
	return nil
}

func (r *StockRepository) Get(ctx context.Context, productID string) (*domain.Record, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(row.rec), nil
}

// Lock acquires row locks in ascending product-id order so that concurrent
// multi-item transactions cannot form a lock-ordering cycle.
func (r *StockRepository) Lock(ctx context.Context, productIDs []string) (domain.Tx, error) {
	ids := dedupSorted(productIDs)

	r.mu.RLock()
	rows := make([]*stockRow, 0, len(ids))
	for _, id := range ids {
		row, ok := r.rows[id]
		if !ok {
			r.mu.RUnlock()
			return nil, domain.ErrNotFound
		}
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	locked := make([]*stockRow, 0, len(rows))
	for _, row := range rows {
		select {
		case row.sem <- struct{}{}:
			locked = append(locked, row)
		case <-ctx.Done():
			unlockRows(locked)
			return nil, domain.ErrLockTimeout
		}
	}

	tx := &stockTx{rows: make(map[string]*stockRow, len(ids))}
	for i, id := range ids {
		tx.rows[id] = locked[i]
	}
	tx.locked = locked
	return tx, nil
}

type stockTx struct {
	rows     map[string]*stockRow
	locked   []*stockRow
	unlocked bool
}

func (t *stockTx) Get(productID string) (*domain.Record, error) {
	row, ok := t.rows[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(row.rec), nil
}

func (t *stockTx) Save(rec *domain.Record) error {
	if rec == nil {
		return nil
	}
	row, ok := t.rows[rec.ProductID]
	if !ok {
		return domain.ErrNotFound
	}
	row.rec = cloneRecord(rec)
	return nil
}

func (t *stockTx) Unlock() {
	if t.unlocked {
		return
	}
	t.unlocked = true
	unlockRows(t.locked)
}

func unlockRows(rows []*stockRow) {
	for i := len(rows) - 1; i >= 0; i-- {
		<-rows[i].sem
	}
}

func dedupSorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i == 0 || id != out[i-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}

func cloneRecord(rec *domain.Record) *domain.Record {
	if rec == nil {
		return nil
	}
	clone := *rec
	return &clone
}
