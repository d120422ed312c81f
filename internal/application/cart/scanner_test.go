package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/cart"
	domoutbox "github.com/luxeshop/checkout-core/internal/domain/outbox"
	"github.com/luxeshop/checkout-core/internal/infrastructure/memory"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
	fail   error
}

func (p *capturingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) cartIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		if evt, ok := e.(domain.CartAbandonedEvent); ok {
			out = append(out, evt.CartID)
		}
	}
	return out
}

func saveCart(t *testing.T, repo *memory.CartRepository, id string, age time.Duration, items int) {
	t.Helper()
	lines := make([]domain.Line, items)
	for i := range lines {
		lines[i] = domain.Line{ProductID: "sku-1", Quantity: 1}
	}
	err := repo.Save(context.Background(), &domain.Cart{
		ID:        id,
		OwnerID:   "owner-" + id,
		Items:     lines,
		UpdatedAt: time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestScannerFlagsOnlyStaleCarts(t *testing.T) {
	repo := memory.NewCartRepository()
	pub := &capturingPublisher{}
	scanner := NewScanner(repo, pub, time.Minute, 30*time.Minute, nil)

	saveCart(t, repo, "old", time.Hour, 2)
	saveCart(t, repo, "older", 2*time.Hour, 1)
	saveCart(t, repo, "fresh", time.Minute, 3)
	saveCart(t, repo, "empty", time.Hour, 0)

	n, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("notified = %d, want 2", n)
	}

	got := pub.cartIDs()
	want := map[string]bool{"old": true, "older": true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Fatalf("notified carts = %v, want old and older", got)
	}

	for _, id := range []string{"old", "older"} {
		c, err := repo.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if !c.AbandonedNotified {
			t.Fatalf("cart %s not flagged", id)
		}
	}
}

func TestScannerNotifiesAtMostOnce(t *testing.T) {
	repo := memory.NewCartRepository()
	pub := &capturingPublisher{}
	scanner := NewScanner(repo, pub, time.Minute, 30*time.Minute, nil)

	saveCart(t, repo, "stale", time.Hour, 1)

	for i := 0; i < 3; i++ {
		if _, err := scanner.Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if got := pub.cartIDs(); len(got) != 1 {
		t.Fatalf("notifications = %v, want exactly one", got)
	}
}

func TestScannerPublishFailureLeavesCartUnflagged(t *testing.T) {
	repo := memory.NewCartRepository()
	pub := &capturingPublisher{fail: context.DeadlineExceeded}
	scanner := NewScanner(repo, pub, time.Minute, 30*time.Minute, nil)

	saveCart(t, repo, "stale", time.Hour, 1)

	n, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("notified = %d, want 0", n)
	}

	c, err := repo.Get(context.Background(), "stale")
	if err != nil {
		t.Fatal(err)
	}
	if c.AbandonedNotified {
		t.Fatal("cart flagged despite failed publish")
	}

	// Next pass succeeds and picks it up again.
	pub.mu.Lock()
	pub.fail = nil
	pub.mu.Unlock()

	n, err = scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("notified = %d, want 1 on retry", n)
	}
}

func TestScannerActivityResetsClock(t *testing.T) {
	repo := memory.NewCartRepository()
	pub := &capturingPublisher{}
	scanner := NewScanner(repo, pub, time.Minute, 30*time.Minute, nil)

	saveCart(t, repo, "busy", time.Hour, 1)

	// The shopper comes back before the sweep.
	c, err := repo.Get(context.Background(), "busy")
	if err != nil {
		t.Fatal(err)
	}
	c.UpdatedAt = time.Now().UTC()
	if err := repo.Save(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	n, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("notified = %d, want 0 for active cart", n)
	}
}
