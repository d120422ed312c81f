package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	domcart "github.com/luxeshop/checkout-core/internal/domain/cart"
	domorder "github.com/luxeshop/checkout-core/internal/domain/order"
	"github.com/luxeshop/checkout-core/internal/infrastructure/outbox"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
}

func (s *recordingSink) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) snapshot() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

func TestWorkerTranslatesEvents(t *testing.T) {
	bus := outbox.NewBus(nil)
	sink := &recordingSink{}
	NewWorker(bus, sink, nil).Start()

	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	ctx := context.Background()
	events := []struct {
		publish  func() error
		wantKind string
		wantTo   string
	}{
		{
			publish: func() error {
				return bus.Publish(ctx, domorder.OrderPlacedEvent{OrderID: "o1", CustomerID: "c1", Amount: 100})
			},
			wantKind: "order_confirmation",
			wantTo:   "c1",
		},
		{
			publish: func() error {
				return bus.Publish(ctx, domorder.PaymentConfirmedEvent{OrderID: "o1", CustomerID: "c1"})
			},
			wantKind: "payment_confirmed",
			wantTo:   "c1",
		},
		{
			publish: func() error {
				return bus.Publish(ctx, domorder.PaymentFailedEvent{OrderID: "o2", CustomerID: "c2", Reason: "declined"})
			},
			wantKind: "payment_failed",
			wantTo:   "c2",
		},
		{
			publish: func() error {
				return bus.Publish(ctx, domcart.CartAbandonedEvent{CartID: "k1", OwnerID: "c3"})
			},
			wantKind: "cart_abandoned",
			wantTo:   "c3",
		},
	}

	for _, ev := range events {
		if err := ev.publish(); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sink.snapshot()) < len(events) {
		time.Sleep(5 * time.Millisecond)
	}

	sent := sink.snapshot()
	if len(sent) != len(events) {
		t.Fatalf("sent %d notifications, want %d", len(sent), len(events))
	}

	byKind := make(map[string]Notification, len(sent))
	for _, n := range sent {
		byKind[n.Kind] = n
	}
	for _, ev := range events {
		n, ok := byKind[ev.wantKind]
		if !ok {
			t.Fatalf("no notification of kind %q", ev.wantKind)
		}
		if n.RecipientID != ev.wantTo {
			t.Fatalf("%s recipient = %q, want %q", ev.wantKind, n.RecipientID, ev.wantTo)
		}
	}
}
