package checkout

import (
	"errors"
	"testing"
)

func TestAttemptHappyPath(t *testing.T) {
	a := NewAttempt()
	if got := a.State(); got != StateStarted {
		t.Fatalf("initial state = %q, want %q", got, StateStarted)
	}

	steps := []struct {
		name string
		fn   func() error
		want State
	}{
		{"stock reserved", a.StockReserved, StateStockReserved},
		{"coupon applied", a.CouponApplied, StateCouponApplied},
		{"order persisted", a.OrderPersisted, StateOrderPersisted},
		{"payment initiated", a.PaymentInitiated, StatePaymentInitiated},
		{"committed", a.Committed, StateCommitted},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if got := a.State(); got != st.want {
			t.Fatalf("%s: state = %q, want %q", st.name, got, st.want)
		}
	}

	if !a.Terminal() {
		t.Fatal("committed attempt should be terminal")
	}
}

func TestAttemptCouponStepOptional(t *testing.T) {
	a := NewAttempt()
	if err := a.StockReserved(); err != nil {
		t.Fatal(err)
	}
	if err := a.OrderPersisted(); err != nil {
		t.Fatalf("order persisted without coupon: %v", err)
	}
	if got := a.State(); got != StateOrderPersisted {
		t.Fatalf("state = %q, want %q", got, StateOrderPersisted)
	}
}

func TestAttemptInvalidTransitions(t *testing.T) {
	t.Run("payment before persistence", func(t *testing.T) {
		a := NewAttempt()
		if err := a.StockReserved(); err != nil {
			t.Fatal(err)
		}
		if err := a.PaymentInitiated(); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("commit from started", func(t *testing.T) {
		a := NewAttempt()
		if err := a.Committed(); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("no forward progress after rollback", func(t *testing.T) {
		a := NewAttempt()
		if err := a.StockReserved(); err != nil {
			t.Fatal(err)
		}
		if err := a.RolledBack("payment declined"); err != nil {
			t.Fatal(err)
		}
		if !a.Terminal() {
			t.Fatal("rolled back attempt should be terminal")
		}
		if err := a.OrderPersisted(); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("committed attempt cannot roll back", func(t *testing.T) {
		a := NewAttempt()
		for _, fn := range []func() error{a.StockReserved, a.OrderPersisted, a.PaymentInitiated, a.Committed} {
			if err := fn(); err != nil {
				t.Fatal(err)
			}
		}
		if err := a.RolledBack("late failure"); !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
		}
	})
}
