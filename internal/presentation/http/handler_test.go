package httppresentation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appCheckout "github.com/luxeshop/checkout-core/internal/application/checkout"
	appCoupon "github.com/luxeshop/checkout-core/internal/application/coupon"
	appStock "github.com/luxeshop/checkout-core/internal/application/stock"
	appWebhook "github.com/luxeshop/checkout-core/internal/application/webhook"
	coupondomain "github.com/luxeshop/checkout-core/internal/domain/coupon"
	domoutbox "github.com/luxeshop/checkout-core/internal/domain/outbox"
	stockdomain "github.com/luxeshop/checkout-core/internal/domain/stock"
	"github.com/luxeshop/checkout-core/internal/infrastructure/memory"
	"github.com/luxeshop/checkout-core/internal/ratelimit"
)

const testWebhookSecret = "hook-secret"

type testIDGen struct{ n atomic.Int64 }

func (g *testIDGen) NewID() string {
	return fmt.Sprintf("id-%d", g.n.Add(1))
}

type testPayments struct{}

func (testPayments) Initiate(_ context.Context, orderID string, _ int64) (string, error) {
	return "pay_" + orderID, nil
}

type dropPublisher struct{}

func (dropPublisher) Publish(context.Context, domoutbox.Event) error { return nil }

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	stockRepo := memory.NewStockRepository()
	for id, qty := range map[string]int{"sku-1": 10, "sku-2": 1} {
		rec, err := stockdomain.NewRecord(id, qty)
		if err != nil {
			t.Fatal(err)
		}
		if err := stockRepo.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	couponRepo := memory.NewCouponRepository()
	now := time.Now().UTC()
	coupon, err := coupondomain.New("SAVE10", 1, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := couponRepo.Create(ctx, coupon); err != nil {
		t.Fatal(err)
	}

	orders := memory.NewOrderRepository()
	ledger := appStock.NewLedger(stockRepo, &testIDGen{}, time.Second, nil, nil)
	tracker := appCoupon.NewTracker(couponRepo, time.Second, nil, nil)
	coordinator := appCheckout.NewCoordinator(
		orders, ledger, tracker, testPayments{}, &testIDGen{}, dropPublisher{},
		3, time.Millisecond, nil,
	)
	webhooks := appWebhook.NewService(
		memory.NewWebhookStore(), orders, ledger, dropPublisher{}, testWebhookSecret, nil,
	)
	limiter := ratelimit.New(ratelimit.DefaultConfig(), ratelimit.NewMemoryStore(), nil, nil)

	return NewHandler(coordinator, webhooks, orders, ledger, tracker, limiter, nil).Router()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func checkoutBody(sku string, qty int, coupon string) map[string]any {
	body := map[string]any{
		"customer_id": "cust-1",
		"items": []map[string]any{
			{"product_id": sku, "quantity": qty, "unit_price": 500},
		},
	}
	if coupon != "" {
		body["coupon_code"] = coupon
	}
	return body
}

func TestHandlerCheckout(t *testing.T) {
	h := newTestServer(t)

	rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-1", 2, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OrderID == "" || resp.PaymentRef == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	t.Run("order readable afterwards", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/"+resp.OrderID, nil)
		get := httptest.NewRecorder()
		h.ServeHTTP(get, req)
		if get.Code != http.StatusOK {
			t.Fatalf("status = %d", get.Code)
		}
		var ord orderResponse
		if err := json.Unmarshal(get.Body.Bytes(), &ord); err != nil {
			t.Fatal(err)
		}
		if ord.Amount != 1000 {
			t.Fatalf("amount = %d, want 1000", ord.Amount)
		}
	})
}

func TestHandlerCheckoutErrors(t *testing.T) {
	h := newTestServer(t)

	t.Run("insufficient stock carries detail", func(t *testing.T) {
		rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-2", 5, ""))
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["error"] != "insufficient_stock" || body["product_id"] != "sku-2" {
			t.Fatalf("body = %v", body)
		}
		if body["requested"] != float64(5) || body["available"] != float64(1) {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-ghost", 1, ""))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("unknown coupon", func(t *testing.T) {
		rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-1", 1, "NOPE"))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rr.Code)
		}
	})

	t.Run("coupon exhausted", func(t *testing.T) {
		if rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-1", 1, "SAVE10")); rr.Code != http.StatusCreated {
			t.Fatalf("first coupon use status = %d", rr.Code)
		}
		rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-1", 1, "SAVE10"))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rr.Code)
		}
	})

	t.Run("validation", func(t *testing.T) {
		rr := postJSON(t, h, "/api/orders/checkout", map[string]any{"customer_id": "c"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout", bytes.NewReader([]byte("{")))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/checkout", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rr.Code)
		}
	})
}

func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandlerWebhook(t *testing.T) {
	h := newTestServer(t)

	rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-1", 1, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d", rr.Code)
	}
	var co checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &co); err != nil {
		t.Fatal(err)
	}

	payload, err := json.Marshal(webhookRequest{
		EventID:   "evt-1",
		EventType: "payment.authorized",
		OrderID:   co.OrderID,
		PaymentID: "pay-final",
	})
	if err != nil {
		t.Fatal(err)
	}

	deliver := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
		req.Header.Set(headerSignature, sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	t.Run("bad signature", func(t *testing.T) {
		if w := deliver("deadbeef"); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("delivery and redelivery both succeed", func(t *testing.T) {
		sig := signPayload(payload)
		for i := 0; i < 2; i++ {
			w := deliver(sig)
			if w.Code != http.StatusOK {
				t.Fatalf("delivery %d status = %d, body = %s", i+1, w.Code, w.Body.String())
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/api/orders/"+co.OrderID, nil)
		get := httptest.NewRecorder()
		h.ServeHTTP(get, req)
		var ord orderResponse
		if err := json.Unmarshal(get.Body.Bytes(), &ord); err != nil {
			t.Fatal(err)
		}
		if ord.Status != "completed" {
			t.Fatalf("status = %q, want completed", ord.Status)
		}
		if ord.PaymentRef != "pay-final" {
			t.Fatalf("payment ref = %q", ord.PaymentRef)
		}
	})
}

func TestHandlerRestock(t *testing.T) {
	h := newTestServer(t)

	rr := postJSON(t, h, "/api/admin/stock", restockRequest{ProductID: "sku-1", Quantity: 5})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp restockResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Available != 15 {
		t.Fatalf("available = %d, want 15", resp.Available)
	}

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		rr := postJSON(t, h, "/api/admin/stock", restockRequest{ProductID: "sku-1", Quantity: 0})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHandlerRateLimitStatus(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ratelimit?client_id=user:1&category=auth", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp rateLimitStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Category != "auth" || resp.MinuteLimit != 5 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandlerUnknownOrder(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/orders/no-such-order", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandlerHealth(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandlerValidateCoupon(t *testing.T) {
	h := newTestServer(t)

	t.Run("eligible code", func(t *testing.T) {
		rr := postJSON(t, h, "/api/coupons/validate", map[string]any{
			"code": "SAVE10", "user_id": "cust-1",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		var resp couponValidationResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if !resp.Valid || resp.Code != "SAVE10" {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("does not consume a use", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rr := postJSON(t, h, "/api/coupons/validate", map[string]any{
				"code": "SAVE10", "user_id": "cust-1",
			})
			if rr.Code != http.StatusOK {
				t.Fatalf("attempt %d: status = %d", i, rr.Code)
			}
		}
		rr := postJSON(t, h, "/api/orders/checkout", checkoutBody("sku-1", 1, "SAVE10"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("checkout after validations: status = %d, body = %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("exhausted code rejected", func(t *testing.T) {
		// The single SAVE10 use was consumed by the checkout above.
		rr := postJSON(t, h, "/api/coupons/validate", map[string]any{
			"code": "SAVE10", "user_id": "cust-2",
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rr.Code)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		rr := postJSON(t, h, "/api/coupons/validate", map[string]any{
			"code": "NOPE", "user_id": "cust-1",
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rr.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rr := postJSON(t, h, "/api/coupons/validate", map[string]any{"code": "SAVE10"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}
