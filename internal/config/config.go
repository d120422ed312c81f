// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration knobs for the HTTP server, rate limiting,
// checkout retries, and background sweeps.
type Config struct {
	ServiceName     string
	Env             string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Rate limiting. RedisAddr empty means the in-memory counter store.
	RedisAddr          string
	RateBurstCapacity  int
	RateBurstWindow    time.Duration
	RateIdleTTL        time.Duration
	RateSweepEvery     time.Duration
	AuthPerMinute      int
	AuthPerHour        int
	AdminPerMinute     int
	AdminPerHour       int
	PaymentPerMinute   int
	PaymentPerHour     int
	ProductsPerMinute  int
	ProductsPerHour    int
	OrdersPerMinute    int
	OrdersPerHour      int
	DefaultPerMinute   int
	DefaultPerHour     int

	// Stock row locks and checkout retries.
	LockWait             time.Duration
	CheckoutMaxRetries   int
	CheckoutRetryBackoff time.Duration

	// Webhook signature verification. Empty disables the check.
	WebhookSecret string

	// Abandoned cart sweep.
	CartScanEvery  time.Duration
	CartStaleAfter time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		ServiceName:     getenv("SERVICE_NAME", "checkout-core"),
		Env:             getenv("ENV", "dev"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 10),

		RedisAddr:         getenv("REDIS_ADDR", ""),
		RateBurstCapacity: atoienv("RATE_BURST_CAPACITY", 10),
		RateBurstWindow:   durenvs("RATE_BURST_WINDOW", 10),
		RateIdleTTL:       durenvs("RATE_IDLE_TTL", 7200),
		RateSweepEvery:    durenvs("RATE_SWEEP_EVERY", 120),
		AuthPerMinute:     atoienv("RATE_AUTH_PER_MINUTE", 5),
		AuthPerHour:       atoienv("RATE_AUTH_PER_HOUR", 100),
		AdminPerMinute:    atoienv("RATE_ADMIN_PER_MINUTE", 50),
		AdminPerHour:      atoienv("RATE_ADMIN_PER_HOUR", 500),
		PaymentPerMinute:  atoienv("RATE_PAYMENT_PER_MINUTE", 30),
		PaymentPerHour:    atoienv("RATE_PAYMENT_PER_HOUR", 300),
		ProductsPerMinute: atoienv("RATE_PRODUCTS_PER_MINUTE", 100),
		ProductsPerHour:   atoienv("RATE_PRODUCTS_PER_HOUR", 1000),
		OrdersPerMinute:   atoienv("RATE_ORDERS_PER_MINUTE", 60),
		OrdersPerHour:     atoienv("RATE_ORDERS_PER_HOUR", 600),
		DefaultPerMinute:  atoienv("RATE_DEFAULT_PER_MINUTE", 100),
		DefaultPerHour:    atoienv("RATE_DEFAULT_PER_HOUR", 1000),

		LockWait:             durenvms("STOCK_LOCK_WAIT_MS", 2000),
		CheckoutMaxRetries:   atoienv("CHECKOUT_MAX_RETRIES", 3),
		CheckoutRetryBackoff: durenvms("CHECKOUT_RETRY_BACKOFF_MS", 25),

		WebhookSecret: getenv("WEBHOOK_SECRET", ""),

		CartScanEvery:  durenvs("CART_SCAN_EVERY", 300),
		CartStaleAfter: durenvs("CART_STALE_AFTER", 1800),
	}
}
