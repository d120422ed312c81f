package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	stockapp "github.com/luxeshop/checkout-core/internal/application/stock"
	domain "github.com/luxeshop/checkout-core/internal/domain/checkout"
	coupondomain "github.com/luxeshop/checkout-core/internal/domain/coupon"
	"github.com/luxeshop/checkout-core/internal/domain/order"
	domoutbox "github.com/luxeshop/checkout-core/internal/domain/outbox"
	stockdomain "github.com/luxeshop/checkout-core/internal/domain/stock"
	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService = "checkout-service"
	useCaseCheckout = "checkout.execute"
	spanPrefix      = "UC."
	publishTimeout  = 300 * time.Millisecond
)

var (
	ErrNotFound   = order.ErrNotFound
	ErrValidation = errors.New("validation")
	ErrRepository = errors.New("checkout: repository failure")
)

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// StockReserver is the slice of the stock ledger the coordinator needs.
type StockReserver interface {
	ReserveAll(ctx context.Context, items map[string]int) (*stockapp.Reservation, error)
	Release(ctx context.Context, reservationID string) error
}

// CouponTracker consumes and compensates coupon usage records.
type CouponTracker interface {
	TryConsume(ctx context.Context, code, userID, orderID string) error
	Rollback(ctx context.Context, code, orderID string) error
}

// PaymentInitiator opens a payment with the external provider and returns
// the provider's reference for the order.
type PaymentInitiator interface {
	Initiate(ctx context.Context, orderID string, amount int64) (string, error)
}

type IDGenerator interface {
	NewID() string
}

// Coordinator drives a checkout attempt through reserve stock, consume
// coupon, persist order, initiate payment. Any failed step rolls back the
// steps already taken, in reverse order. Stock lock contention is the only
// retried failure.
type Coordinator struct {
	orders    order.Repository
	ledger    StockReserver
	coupons   CouponTracker
	payments  PaymentInitiator
	idGen     IDGenerator
	publisher domoutbox.Publisher
	tel       observability.Observability

	maxRetries   int
	retryBackoff time.Duration

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewCoordinator(
	orders order.Repository,
	ledger StockReserver,
	coupons CouponTracker,
	payments PaymentInitiator,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	maxRetries int,
	retryBackoff time.Duration,
	tel observability.Observability,
) *Coordinator {
	if tel == nil {
		tel = observability.Nop()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if retryBackoff <= 0 {
		retryBackoff = 25 * time.Millisecond
	}

	baseLog := tel.Logger().With(
		observability.F("service", checkoutService),
	)

	return &Coordinator{
		orders:       orders,
		ledger:       ledger,
		coupons:      coupons,
		payments:     payments,
		idGen:        idGen,
		publisher:    publisher,
		tel:          tel,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		log:          baseLog,
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

type Input struct {
	CustomerID string
	Items      []order.LineItem
	CouponCode string
}

type Result struct {
	OrderID    string
	Status     order.Status
	PaymentRef string
	State      domain.State
}

// Execute runs one checkout attempt.
func (c *Coordinator) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, c.log).With(observability.F("use_case", useCaseCheckout))

	ctx, span := c.tel.Tracer().Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("checkout.customer_id", cmd.CustomerID),
		attribute.Int("checkout.item_count", len(cmd.Items)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		c.reqCounter.Add(1,
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		c.durHistogram.Observe(lat,
			observability.L("use_case", useCaseCheckout),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.CustomerID == "" {
		outcome, statusText = "error", "CUSTOMER_ID_REQUIRED"
		return nil, newValidation("customer id is required")
	}
	if len(cmd.Items) == 0 {
		outcome, statusText = "error", "ITEMS_REQUIRED"
		return nil, newValidation("at least one line item is required")
	}
	for _, it := range cmd.Items {
		if it.ProductID == "" {
			outcome, statusText = "error", "PRODUCT_ID_REQUIRED"
			return nil, newValidation("product id is required")
		}
		if it.Quantity <= 0 {
			outcome, statusText = "error", "QUANTITY_INVALID"
			return nil, newValidation("quantity must be greater than zero")
		}
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	res, err := c.execute(ctx, logger, cmd)
	if err != nil {
		outcome, statusText = "error", statusFor(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", res.OrderID))
	return res, nil
}

func (c *Coordinator) execute(ctx context.Context, logger observability.Logger, cmd Input) (*Result, error) {
	attempt := domain.NewAttempt()

	// Stock lock contention is transient; everything else fails the attempt.
	reservation, err := c.reserveWithRetry(ctx, logger, quantitiesByProduct(cmd.Items))
	if err != nil {
		_ = attempt.RolledBack("stock_reservation_failed")
		return nil, err
	}
	if err := attempt.StockReserved(); err != nil {
		return nil, err
	}

	orderID := c.idGen.NewID()

	if cmd.CouponCode != "" {
		if err := c.coupons.TryConsume(ctx, cmd.CouponCode, cmd.CustomerID, orderID); err != nil {
			c.releaseStock(ctx, logger, reservation.ID)
			_ = attempt.RolledBack("coupon_rejected")
			return nil, err
		}
		if err := attempt.CouponApplied(); err != nil {
			return nil, err
		}
	}

	ord, err := order.New(orderID, cmd.CustomerID, cmd.Items)
	if err != nil {
		c.rollback(ctx, logger, reservation.ID, cmd.CouponCode, orderID, nil)
		_ = attempt.RolledBack("order_invalid")
		return nil, err
	}
	ord.CouponCode = cmd.CouponCode
	ord.ReservationID = reservation.ID

	if err := c.orders.Insert(ctx, ord); err != nil {
		c.rollback(ctx, logger, reservation.ID, cmd.CouponCode, orderID, nil)
		_ = attempt.RolledBack("order_insert_failed")
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	if err := attempt.OrderPersisted(); err != nil {
		return nil, err
	}

	paymentRef, err := c.payments.Initiate(ctx, ord.ID, ord.Amount)
	if err != nil {
		c.rollback(ctx, logger, reservation.ID, cmd.CouponCode, orderID, ord)
		_ = attempt.RolledBack("payment_initiation_failed")
		return nil, err
	}
	if err := attempt.PaymentInitiated(); err != nil {
		return nil, err
	}

	ord.PaymentRef = paymentRef
	if err := c.orders.Update(ctx, ord); err != nil {
		logger.Error("checkout_payment_ref_persist_failed",
			observability.F("order_id", ord.ID),
			observability.Err(err),
		)
	}

	c.publish(ctx, logger, order.NewOrderPlacedEvent(ord))

	if err := attempt.Committed(); err != nil {
		return nil, err
	}

	// The reservation stays pending until the payment webhook lands;
	// payment.authorized commits it, payment.failed releases it.
	return &Result{
		OrderID:    ord.ID,
		Status:     ord.Status,
		PaymentRef: ord.PaymentRef,
		State:      attempt.State(),
	}, nil
}

func (c *Coordinator) reserveWithRetry(ctx context.Context, logger observability.Logger, items map[string]int) (*stockapp.Reservation, error) {
	backoff := c.retryBackoff
	var err error
	for i := 1; i <= c.maxRetries; i++ {
		var res *stockapp.Reservation
		res, err = c.ledger.ReserveAll(ctx, items)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, stockdomain.ErrLockTimeout) {
			return nil, err
		}
		logger.Warn("checkout_stock_lock_contended",
			observability.F("attempt", i),
			observability.F("max_attempts", c.maxRetries),
		)
		if i == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, err
}

// rollback undoes the side effects of a failed attempt in reverse order.
// ord is non-nil only when the order row was already inserted.
func (c *Coordinator) rollback(ctx context.Context, logger observability.Logger, reservationID, couponCode, orderID string, ord *order.Order) {
	if ord != nil {
		if err := c.orders.Delete(ctx, ord.ID); err != nil {
			logger.Error("checkout_rollback_order_delete_failed",
				observability.F("order_id", ord.ID),
				observability.Err(err),
			)
		}
	}
	if couponCode != "" {
		if err := c.coupons.Rollback(ctx, couponCode, orderID); err != nil && !errors.Is(err, coupondomain.ErrNotFound) {
			logger.Error("checkout_rollback_coupon_failed",
				observability.F("coupon_code", couponCode),
				observability.F("order_id", orderID),
				observability.Err(err),
			)
		}
	}
	c.releaseStock(ctx, logger, reservationID)
}

func (c *Coordinator) releaseStock(ctx context.Context, logger observability.Logger, reservationID string) {
	if err := c.ledger.Release(ctx, reservationID); err != nil {
		logger.Error("checkout_rollback_release_failed",
			observability.F("reservation_id", reservationID),
			observability.Err(err),
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(pubCtx, e); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.Err(err),
		)
	}
}

func quantitiesByProduct(items []order.LineItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

func statusFor(err error) string {
	var insuff *stockdomain.InsufficientStockError
	switch {
	case errors.As(err, &insuff):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, stockdomain.ErrLockTimeout):
		return "STOCK_LOCK_TIMEOUT"
	case errors.Is(err, stockdomain.ErrNotFound):
		return "PRODUCT_NOT_FOUND"
	case errors.Is(err, coupondomain.ErrLimitExceeded):
		return "COUPON_LIMIT_EXCEEDED"
	case errors.Is(err, coupondomain.ErrNotActive):
		return "COUPON_NOT_ACTIVE"
	case errors.Is(err, coupondomain.ErrNotFound):
		return "COUPON_NOT_FOUND"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CONTEXT_CANCELED"
	default:
		return "INTERNAL"
	}
}
