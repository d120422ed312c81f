package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

var ErrInvalidAmount = errors.New("payment: amount must be greater than zero")

// SimulatedInitiator stands in for the external payment provider: it
// allocates a provider-side reference for the order and leaves the
// outcome to be delivered later via webhook.
type SimulatedInitiator struct {
	log observability.Logger
}

func NewSimulatedInitiator(logger observability.Logger) *SimulatedInitiator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SimulatedInitiator{log: logger.With(observability.F("component", "payment_initiator"))}
}

func (p *SimulatedInitiator) Initiate(ctx context.Context, orderID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := "pay_" + uuid.NewString()
	logctx.FromOr(ctx, p.log).Info("payment_initiated",
		observability.F("order_id", orderID),
		observability.F("amount", amount),
		observability.F("payment_ref", ref),
	)
	return ref, nil
}
