package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/stock"
	"github.com/luxeshop/checkout-core/internal/infrastructure/memory"
)

type countingIDGen struct{ n atomic.Int64 }

func (g *countingIDGen) NewID() string {
	return fmt.Sprintf("res-%d", g.n.Add(1))
}

func newTestLedger(t *testing.T, levels map[string]int) (*Ledger, *memory.StockRepository) {
	t.Helper()
	repo := memory.NewStockRepository()
	for id, qty := range levels {
		rec, err := domain.NewRecord(id, qty)
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.Create(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	return NewLedger(repo, &countingIDGen{}, time.Second, nil, nil), repo
}

func available(t *testing.T, repo *memory.StockRepository, id string) int {
	t.Helper()
	rec, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return rec.Quantity
}

func TestLedgerReserveCommit(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]int{"sku-1": 10, "sku-2": 4})
	ctx := context.Background()

	res, err := ledger.ReserveAll(ctx, map[string]int{"sku-1": 3, "sku-2": 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := available(t, repo, "sku-1"); got != 7 {
		t.Fatalf("sku-1 = %d, want 7", got)
	}
	if got := available(t, repo, "sku-2"); got != 2 {
		t.Fatalf("sku-2 = %d, want 2", got)
	}

	if err := ledger.Commit(ctx, res.ID); err != nil {
		t.Fatal(err)
	}
	// Commit is final: no restore, no second settle.
	if got := available(t, repo, "sku-1"); got != 7 {
		t.Fatalf("sku-1 = %d after commit, want 7", got)
	}
	if err := ledger.Commit(ctx, res.ID); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("second commit err = %v, want ErrReservationNotFound", err)
	}
	if err := ledger.Release(ctx, res.ID); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("release after commit err = %v, want ErrReservationNotFound", err)
	}
}

func TestLedgerReleaseRestores(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]int{"sku-1": 5})
	ctx := context.Background()

	res, err := ledger.ReserveAll(ctx, map[string]int{"sku-1": 5})
	if err != nil {
		t.Fatal(err)
	}
	if got := available(t, repo, "sku-1"); got != 0 {
		t.Fatalf("sku-1 = %d, want 0", got)
	}

	if err := ledger.Release(ctx, res.ID); err != nil {
		t.Fatal(err)
	}
	if got := available(t, repo, "sku-1"); got != 5 {
		t.Fatalf("sku-1 = %d after release, want 5", got)
	}
}

func TestLedgerAllOrNothing(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]int{"sku-1": 10, "sku-2": 1})

	_, err := ledger.ReserveAll(context.Background(), map[string]int{"sku-1": 2, "sku-2": 3})
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.ProductID != "sku-2" || insufficient.Available != 1 || insufficient.Requested != 3 {
		t.Fatalf("detail = %+v", insufficient)
	}

	// Nothing was deducted, including from the product that had enough.
	if got := available(t, repo, "sku-1"); got != 10 {
		t.Fatalf("sku-1 = %d, want 10", got)
	}
	if got := available(t, repo, "sku-2"); got != 1 {
		t.Fatalf("sku-2 = %d, want 1", got)
	}
}

func TestLedgerNoOversellUnderContention(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]int{"sku-1": 30})

	var reserved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.ReserveAll(context.Background(), map[string]int{"sku-1": 1})
			if err == nil {
				reserved.Add(1)
				return
			}
			var insufficient *domain.InsufficientStockError
			if !errors.As(err, &insufficient) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := reserved.Load(); got != 30 {
		t.Fatalf("reservations = %d, want 30", got)
	}
	if got := available(t, repo, "sku-1"); got != 0 {
		t.Fatalf("sku-1 = %d, want 0", got)
	}
}

func TestLedgerValidation(t *testing.T) {
	ledger, _ := newTestLedger(t, map[string]int{"sku-1": 5})
	ctx := context.Background()

	if _, err := ledger.ReserveAll(ctx, map[string]int{"sku-1": 0}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("zero quantity err = %v, want ErrInvalidQuantity", err)
	}
	if _, err := ledger.ReserveAll(ctx, map[string]int{"sku-1": -2}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("negative quantity err = %v, want ErrInvalidQuantity", err)
	}
	if _, err := ledger.ReserveAll(ctx, map[string]int{"nope": 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown product err = %v, want ErrNotFound", err)
	}
	if _, err := ledger.ReserveAll(ctx, nil); err == nil {
		t.Fatal("empty reservation accepted")
	}
}

func TestLedgerRestock(t *testing.T) {
	ledger, repo := newTestLedger(t, map[string]int{"sku-1": 2})
	ctx := context.Background()

	n, err := ledger.Restock(ctx, "sku-1", 8)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("available = %d, want 10", n)
	}

	// Restocking an unknown product creates the row.
	n, err = ledger.Restock(ctx, "sku-new", 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("available = %d, want 7", n)
	}
	if got := available(t, repo, "sku-new"); got != 7 {
		t.Fatalf("sku-new = %d, want 7", got)
	}

	if _, err := ledger.Restock(ctx, "sku-1", 0); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
}
