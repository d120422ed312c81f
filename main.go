package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	appCart "github.com/luxeshop/checkout-core/internal/application/cart"
	appCheckout "github.com/luxeshop/checkout-core/internal/application/checkout"
	appCoupon "github.com/luxeshop/checkout-core/internal/application/coupon"
	appStock "github.com/luxeshop/checkout-core/internal/application/stock"
	appWebhook "github.com/luxeshop/checkout-core/internal/application/webhook"
	"github.com/luxeshop/checkout-core/internal/config"
	"github.com/luxeshop/checkout-core/internal/infrastructure/id"
	"github.com/luxeshop/checkout-core/internal/infrastructure/memory"
	"github.com/luxeshop/checkout-core/internal/infrastructure/notify"
	infraobs "github.com/luxeshop/checkout-core/internal/infrastructure/observability"
	"github.com/luxeshop/checkout-core/internal/infrastructure/observability/oteltrace"
	"github.com/luxeshop/checkout-core/internal/infrastructure/observability/prometrics"
	"github.com/luxeshop/checkout-core/internal/infrastructure/observability/zaplogger"
	"github.com/luxeshop/checkout-core/internal/infrastructure/outbox"
	infraPayment "github.com/luxeshop/checkout-core/internal/infrastructure/payment"
	"github.com/luxeshop/checkout-core/internal/infrastructure/redisstore"
	"github.com/luxeshop/checkout-core/internal/observability"
	httppresentation "github.com/luxeshop/checkout-core/internal/presentation/http"
	"github.com/luxeshop/checkout-core/internal/ratelimit"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	defer func() {
		if s, ok := baseLogger.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}()

	metrics := prometrics.New("luxeshop", "checkout")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests:        metrics.Counter(string(observability.MUsecaseRequests), "Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests:           metrics.Counter(string(observability.MHTTPRequests), "Total number of HTTP requests.", "method", "route", "status"),
		observability.MRateLimitDecisions:     metrics.Counter(string(observability.MRateLimitDecisions), "Rate limiter admit and reject decisions.", "category", "outcome"),
		observability.MRateLimitStoreFailures: metrics.Counter(string(observability.MRateLimitStoreFailures), "Counter store faults answered by failing open.", "category"),
		observability.MStockReservations:      metrics.Counter(string(observability.MStockReservations), "Stock reservation attempts by outcome.", "outcome"),
		observability.MWebhookEvents:          metrics.Counter(string(observability.MWebhookEvents), "Payment webhook deliveries by outcome.", "type", "outcome"),
		observability.MCouponConsumptions:     metrics.Counter(string(observability.MCouponConsumptions), "Coupon consumption attempts by outcome.", "outcome"),
		observability.MNotificationsSent:      metrics.Counter(string(observability.MNotificationsSent), "Customer notifications by kind and outcome.", "kind", "outcome"),
		observability.MAbandonedCartsNotified: metrics.Counter(string(observability.MAbandonedCartsNotified), "Carts flagged by the abandonment scanner."),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration:     metrics.Histogram(string(observability.MUsecaseDuration), "Duration of use case execution in seconds.", prometrics.DefaultLatencyBuckets, "use_case"),
		observability.MHTTPRequestDuration: metrics.Histogram(string(observability.MHTTPRequestDuration), "Duration of HTTP requests in seconds.", prometrics.DefaultLatencyBuckets, "method", "route"),
	}

	tel := infraobs.New(oteltrace.New(cfg.ServiceName), baseLogger, counters, histograms)
	systemLogger := tel.Logger().With(observability.F("component", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repositories.
	stockRepo := memory.NewStockRepository()
	couponRepo := memory.NewCouponRepository()
	orderRepo := memory.NewOrderRepository()
	cartRepo := memory.NewCartRepository()
	webhookStore := memory.NewWebhookStore()

	// In-memory event bus (outbox for a single-process deployment).
	bus := outbox.NewBus(tel.Logger())
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	// Rate limiter; Redis-backed counters when REDIS_ADDR is set.
	rlCfg := ratelimit.Config{
		Limits: map[ratelimit.Category]ratelimit.Limits{
			ratelimit.CategoryAuth:     {PerMinute: cfg.AuthPerMinute, PerHour: cfg.AuthPerHour},
			ratelimit.CategoryAdmin:    {PerMinute: cfg.AdminPerMinute, PerHour: cfg.AdminPerHour},
			ratelimit.CategoryPayment:  {PerMinute: cfg.PaymentPerMinute, PerHour: cfg.PaymentPerHour},
			ratelimit.CategoryProducts: {PerMinute: cfg.ProductsPerMinute, PerHour: cfg.ProductsPerHour},
			ratelimit.CategoryOrders:   {PerMinute: cfg.OrdersPerMinute, PerHour: cfg.OrdersPerHour},
			ratelimit.CategoryDefault:  {PerMinute: cfg.DefaultPerMinute, PerHour: cfg.DefaultPerHour},
		},
		BurstCapacity: cfg.RateBurstCapacity,
		BurstWindow:   cfg.RateBurstWindow,
		IdleTTL:       cfg.RateIdleTTL,
		SweepEvery:    cfg.RateSweepEvery,
	}
	var counterStore ratelimit.CounterStore = ratelimit.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		counterStore = redisstore.NewStore(rdb)
		systemLogger.Info("ratelimit_store_redis", observability.F("addr", cfg.RedisAddr))
	}
	limiter := ratelimit.New(rlCfg, counterStore, tel.Logger(), tel)
	limiter.StartSweeper(ctx)

	// Application services.
	idGenerator := id.NewUUIDGenerator()
	ledger := appStock.NewLedger(stockRepo, idGenerator, cfg.LockWait, tel.Logger(), tel)
	couponTracker := appCoupon.NewTracker(couponRepo, cfg.LockWait, tel.Logger(), tel)
	paymentInitiator := infraPayment.NewSimulatedInitiator(tel.Logger())
	coordinator := appCheckout.NewCoordinator(
		orderRepo, ledger, couponTracker, paymentInitiator,
		idGenerator, bus, cfg.CheckoutMaxRetries, cfg.CheckoutRetryBackoff, tel,
	)
	webhookService := appWebhook.NewService(webhookStore, orderRepo, ledger, bus, cfg.WebhookSecret, tel)

	// Background workers.
	scanner := appCart.NewScanner(cartRepo, bus, cfg.CartScanEvery, cfg.CartStaleAfter, tel)
	go scanner.Run(ctx)

	notifyWorker := notify.NewWorker(bus, notify.NewLogSink(tel.Logger()), tel)
	notifyWorker.Start()

	// HTTP surface.
	handler := httppresentation.NewHandler(coordinator, webhookService, orderRepo, ledger, couponTracker, limiter, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", ratelimit.Middleware(limiter, ratelimit.DefaultClientID)(handler.Router()))

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				observability.Err(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			observability.Err(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}
