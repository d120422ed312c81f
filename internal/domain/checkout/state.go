package checkout

import "errors"

var ErrInvalidStateTransition = errors.New("checkout: invalid state transition")

type State string

const (
	StateStarted          State = "started"
	StateStockReserved    State = "stock_reserved"
	StateCouponApplied    State = "coupon_applied"
	StateOrderPersisted   State = "order_persisted"
	StatePaymentInitiated State = "payment_initiated"
	StateCommitted        State = "committed"
	StateRolledBack       State = "rolled_back"
)

// attemptState implements the state pattern for a single checkout attempt.
// Committed and RolledBack are terminal; RolledBack is reachable from every
// non-terminal state.
type attemptState interface {
	State() State
	OnStockReserved(a *Attempt) (attemptState, error)
	OnCouponApplied(a *Attempt) (attemptState, error)
	OnOrderPersisted(a *Attempt) (attemptState, error)
	OnPaymentInitiated(a *Attempt) (attemptState, error)
	OnCommitted(a *Attempt) (attemptState, error)
	OnRolledBack(a *Attempt, reason string) (attemptState, error)
}

// Attempt tracks the lifecycle of one checkout. The coordinator drives it
// through the transitions and relies on it to reject out-of-order steps.
type Attempt struct {
	state         attemptState
	FailureReason string
}

func NewAttempt() *Attempt {
	return &Attempt{state: startedState{}}
}

func (a *Attempt) State() State { return a.state.State() }

func (a *Attempt) Terminal() bool {
	s := a.State()
	return s == StateCommitted || s == StateRolledBack
}

func (a *Attempt) StockReserved() error    { return a.apply(a.state.OnStockReserved) }
func (a *Attempt) CouponApplied() error    { return a.apply(a.state.OnCouponApplied) }
func (a *Attempt) OrderPersisted() error   { return a.apply(a.state.OnOrderPersisted) }
func (a *Attempt) PaymentInitiated() error { return a.apply(a.state.OnPaymentInitiated) }
func (a *Attempt) Committed() error        { return a.apply(a.state.OnCommitted) }

func (a *Attempt) RolledBack(reason string) error {
	next, err := a.state.OnRolledBack(a, reason)
	if err != nil {
		return err
	}
	a.state = next
	return nil
}

func (a *Attempt) apply(fn func(*Attempt) (attemptState, error)) error {
	next, err := fn(a)
	if err != nil {
		return err
	}
	a.state = next
	return nil
}

type startedState struct{}

func (startedState) State() State { return StateStarted }

func (startedState) OnStockReserved(a *Attempt) (attemptState, error) {
	a.FailureReason = ""
	return stockReservedState{}, nil
}

func (startedState) OnCouponApplied(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (startedState) OnOrderPersisted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (startedState) OnPaymentInitiated(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (startedState) OnCommitted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (startedState) OnRolledBack(a *Attempt, reason string) (attemptState, error) {
	a.FailureReason = reason
	return rolledBackState{}, nil
}

type stockReservedState struct{}

func (stockReservedState) State() State { return StateStockReserved }

func (stockReservedState) OnStockReserved(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (stockReservedState) OnCouponApplied(a *Attempt) (attemptState, error) {
	return couponAppliedState{}, nil
}

// OnOrderPersisted allows skipping the coupon step; applying one is optional.
func (stockReservedState) OnOrderPersisted(a *Attempt) (attemptState, error) {
	return orderPersistedState{}, nil
}

func (stockReservedState) OnPaymentInitiated(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (stockReservedState) OnCommitted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (stockReservedState) OnRolledBack(a *Attempt, reason string) (attemptState, error) {
	a.FailureReason = reason
	return rolledBackState{}, nil
}

type couponAppliedState struct{}

func (couponAppliedState) State() State { return StateCouponApplied }

func (couponAppliedState) OnStockReserved(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (couponAppliedState) OnCouponApplied(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (couponAppliedState) OnOrderPersisted(a *Attempt) (attemptState, error) {
	return orderPersistedState{}, nil
}

func (couponAppliedState) OnPaymentInitiated(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (couponAppliedState) OnCommitted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (couponAppliedState) OnRolledBack(a *Attempt, reason string) (attemptState, error) {
	a.FailureReason = reason
	return rolledBackState{}, nil
}

type orderPersistedState struct{}

func (orderPersistedState) State() State { return StateOrderPersisted }

func (orderPersistedState) OnStockReserved(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (orderPersistedState) OnCouponApplied(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (orderPersistedState) OnOrderPersisted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (orderPersistedState) OnPaymentInitiated(a *Attempt) (attemptState, error) {
	return paymentInitiatedState{}, nil
}

func (orderPersistedState) OnCommitted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (orderPersistedState) OnRolledBack(a *Attempt, reason string) (attemptState, error) {
	a.FailureReason = reason
	return rolledBackState{}, nil
}

type paymentInitiatedState struct{}

func (paymentInitiatedState) State() State { return StatePaymentInitiated }

func (paymentInitiatedState) OnStockReserved(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (paymentInitiatedState) OnCouponApplied(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (paymentInitiatedState) OnOrderPersisted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (paymentInitiatedState) OnPaymentInitiated(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (paymentInitiatedState) OnCommitted(a *Attempt) (attemptState, error) {
	a.FailureReason = ""
	return committedState{}, nil
}

func (paymentInitiatedState) OnRolledBack(a *Attempt, reason string) (attemptState, error) {
	a.FailureReason = reason
	return rolledBackState{}, nil
}

type committedState struct{}

func (committedState) State() State { return StateCommitted }

func (committedState) OnStockReserved(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (committedState) OnCouponApplied(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (committedState) OnOrderPersisted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (committedState) OnPaymentInitiated(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (committedState) OnCommitted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (committedState) OnRolledBack(*Attempt, string) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

type rolledBackState struct{}

func (rolledBackState) State() State { return StateRolledBack }

func (rolledBackState) OnStockReserved(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (rolledBackState) OnCouponApplied(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (rolledBackState) OnOrderPersisted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (rolledBackState) OnPaymentInitiated(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (rolledBackState) OnCommitted(*Attempt) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (rolledBackState) OnRolledBack(*Attempt, string) (attemptState, error) {
	return nil, ErrInvalidStateTransition
}
