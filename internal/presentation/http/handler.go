package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	appCheckout "github.com/luxeshop/checkout-core/internal/application/checkout"
	appCoupon "github.com/luxeshop/checkout-core/internal/application/coupon"
	appStock "github.com/luxeshop/checkout-core/internal/application/stock"
	appWebhook "github.com/luxeshop/checkout-core/internal/application/webhook"
	domainCoupon "github.com/luxeshop/checkout-core/internal/domain/coupon"
	domainOrder "github.com/luxeshop/checkout-core/internal/domain/order"
	domainStock "github.com/luxeshop/checkout-core/internal/domain/stock"
	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
	"github.com/luxeshop/checkout-core/internal/ratelimit"
)

type Handler struct {
	checkout *appCheckout.Coordinator
	webhooks *appWebhook.Service
	orders   domainOrder.Repository
	ledger   *appStock.Ledger
	coupons  *appCoupon.Tracker
	limiter  *ratelimit.Limiter
	log      observability.Logger
	tel      observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerSignature      = "X-Webhook-Signature"

	maxWebhookBody = 1 << 20
)

func NewHandler(
	checkout *appCheckout.Coordinator,
	webhooks *appWebhook.Service,
	orders domainOrder.Repository,
	ledger *appStock.Ledger,
	coupons *appCoupon.Tracker,
	limiter *ratelimit.Limiter,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		checkout: checkout,
		webhooks: webhooks,
		orders:   orders,
		ledger:   ledger,
		coupons:  coupons,
		limiter:  limiter,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger) → Access log → Handler
	h.muxHandle(mux, http.MethodPost, "/api/orders/checkout", h.handleCheckout)
	h.muxHandle(mux, http.MethodGet, "/api/orders/", h.handleGetOrder)
	h.muxHandle(mux, http.MethodPost, "/api/payment/webhook", h.handleWebhook)
	h.muxHandle(mux, http.MethodPost, "/api/coupons/validate", h.handleValidateCoupon)
	h.muxHandle(mux, http.MethodPost, "/api/admin/stock", h.handleRestock)
	h.muxHandle(mux, http.MethodGet, "/api/admin/ratelimit", h.handleRateLimitStatus)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(r.Context(), method+" "+route)
		r = r.WithContext(ctx)

		wrapped := ObservabilityMiddleware(
			logctx.FromOr(ctx, h.log),
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			h.tel,
		)(
			h.withAccessLog(http.HandlerFunc(handler)),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type checkoutItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type checkoutRequest struct {
	CustomerID string         `json:"customer_id"`
	Items      []checkoutItem `json:"items"`
	CouponCode string         `json:"coupon_code,omitempty"`
}

type checkoutResponse struct {
	OrderID    string             `json:"order_id"`
	Status     domainOrder.Status `json:"status"`
	PaymentRef string             `json:"payment_ref"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]domainOrder.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domainOrder.LineItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	result, err := h.checkout.Execute(r.Context(), appCheckout.Input{
		CustomerID: req.CustomerID,
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:    result.OrderID,
		Status:     result.Status,
		PaymentRef: result.PaymentRef,
	})
}

type orderResponse struct {
	OrderID       string             `json:"order_id"`
	CustomerID    string             `json:"customer_id"`
	Amount        int64              `json:"amount"`
	CouponCode    string             `json:"coupon_code,omitempty"`
	PaymentRef    string             `json:"payment_ref,omitempty"`
	Status        domainOrder.Status `json:"status"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, domainOrder.ErrNotFound)
		return
	}

	ord, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:       ord.ID,
		CustomerID:    ord.CustomerID,
		Amount:        ord.Amount,
		CouponCode:    ord.CouponCode,
		PaymentRef:    ord.PaymentRef,
		Status:        ord.Status,
		FailureReason: ord.FailureReason,
	})
}

type webhookRequest struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type webhookResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.webhooks.VerifySignature(payload, r.Header.Get(headerSignature)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = h.webhooks.Process(r.Context(), appWebhook.Event{
		ID:        req.EventID,
		Type:      req.EventType,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Reason:    req.Reason,
	})
	if err != nil {
		if errors.Is(err, appWebhook.ErrMissingField) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// The provider retries non-2xx deliveries; the idempotency gate
		// makes that safe.
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Duplicates also land here: redelivery must be acknowledged.
	writeJSON(w, http.StatusOK, webhookResponse{EventID: req.EventID, Status: "accepted"})
}

type couponValidationRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

type couponValidationResponse struct {
	Code  string `json:"code"`
	Valid bool   `json:"valid"`
}

// handleValidateCoupon answers the pre-checkout eligibility check. It is
// advisory only; the authoritative check happens again under the coupon
// row lock when the checkout consumes the code.
func (h *Handler) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponValidationRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Code == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("code and user_id are required"))
		return
	}

	if err := h.coupons.Validate(r.Context(), req.Code, req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, couponValidationResponse{Code: req.Code, Valid: true})
}

type restockRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type restockResponse struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	available, err := h.ledger.Restock(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, restockResponse{ProductID: req.ProductID, Available: available})
}

type rateLimitStatusResponse struct {
	ClientID        string `json:"client_id"`
	Category        string `json:"category"`
	MinuteLimit     int    `json:"minute_limit"`
	MinuteRemaining int    `json:"minute_remaining"`
	HourLimit       int    `json:"hour_limit"`
	HourRemaining   int    `json:"hour_remaining"`
}

func (h *Handler) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = ratelimit.DefaultClientID(r)
	}
	cat := ratelimit.Category(r.URL.Query().Get("category"))
	if cat == "" {
		cat = ratelimit.CategoryDefault
	}

	st := h.limiter.Status(r.Context(), clientID, cat)
	writeJSON(w, http.StatusOK, rateLimitStatusResponse{
		ClientID:        clientID,
		Category:        string(cat),
		MinuteLimit:     st.MinuteLimit,
		MinuteRemaining: st.MinuteRemaining,
		HourLimit:       st.HourLimit,
		HourRemaining:   st.HourRemaining,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

func decodeJSON(ctx context.Context, r *http.Request, dst any) error {
	_ = ctx
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *domainStock.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient_stock",
			"product_id": insufficient.ProductID,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
	case errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainStock.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainCoupon.ErrNotFound),
		errors.Is(err, domainCoupon.ErrNotActive),
		errors.Is(err, domainCoupon.ErrLimitExceeded):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, appCheckout.ErrValidation),
		errors.Is(err, domainStock.ErrInvalidQuantity),
		errors.Is(err, domainOrder.ErrInvalidQuantity),
		errors.Is(err, domainOrder.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
