package ratelimit

import (
	"context"
	"time"

	"github.com/luxeshop/checkout-core/internal/observability"
	"github.com/luxeshop/checkout-core/internal/observability/logctx"
)

const componentRateLimit = "ratelimit"

// Limits caps one (client, category) pair over the two rolling windows.
type Limits struct {
	PerMinute int
	PerHour   int
}

type Config struct {
	Limits        map[Category]Limits
	BurstCapacity int
	BurstWindow   time.Duration
	IdleTTL       time.Duration
	SweepEvery    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Limits: map[Category]Limits{
			CategoryAuth:     {PerMinute: 5, PerHour: 100},
			CategoryAdmin:    {PerMinute: 50, PerHour: 500},
			CategoryPayment:  {PerMinute: 30, PerHour: 300},
			CategoryProducts: {PerMinute: 100, PerHour: 1000},
			CategoryOrders:   {PerMinute: 60, PerHour: 600},
			CategoryDefault:  {PerMinute: 100, PerHour: 1000},
		},
		BurstCapacity: 10,
		BurstWindow:   10 * time.Second,
		IdleTTL:       2 * time.Hour,
		SweepEvery:    2 * time.Minute,
	}
}

func (c Config) limitsFor(cat Category) Limits {
	if l, ok := c.Limits[cat]; ok {
		return l
	}
	return c.Limits[CategoryDefault]
}

// Status is the point-in-time view of a client's remaining allowance.
type Status struct {
	MinuteLimit     int
	MinuteRemaining int
	HourLimit       int
	HourRemaining   int
}

type Decision struct {
	Allowed    bool
	Status     Status
	RetryAfter time.Duration
}

// CounterStore applies the dual-window check-and-increment for one key.
// Both window counters advance only when both are under their limits; a
// rejected call increments neither.
type CounterStore interface {
	Incr(ctx context.Context, clientID string, cat Category, limits Limits, now time.Time) (Decision, error)
	Status(ctx context.Context, clientID string, cat Category, limits Limits, now time.Time) (Status, error)
}

// Sweeper is implemented by stores that hold per-key state in process and
// need idle keys evicted to bound memory.
type Sweeper interface {
	Sweep(cutoff time.Time) int
}

// Limiter enforces per-client, per-category request caps. Normal rejection
// is a first-class return value; a store fault fails open (the request is
// allowed) and is logged, favoring availability over strict enforcement.
type Limiter struct {
	cfg   Config
	store CounterStore
	burst *burstGate

	log           observability.Logger
	decisions     observability.Counter
	storeFailures observability.Counter

	now func() time.Time
}

func New(cfg Config, store CounterStore, logger observability.Logger, tel observability.Observability) *Limiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.Nop()
	}
	return &Limiter{
		cfg:           cfg,
		store:         store,
		burst:         newBurstGate(cfg.BurstCapacity, cfg.BurstWindow),
		log:           logger.With(observability.F("component", componentRateLimit)),
		decisions:     tel.Metrics().Counter(observability.MRateLimitDecisions),
		storeFailures: tel.Metrics().Counter(observability.MRateLimitStoreFailures),
		now:           time.Now,
	}
}

// Allow records one request attempt for the client in the given category and
// reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, clientID string, cat Category) Decision {
	limits := l.cfg.limitsFor(cat)
	now := l.now()

	if l.burst != nil && !l.burst.allow(clientID, now) {
		l.decisions.Add(1,
			observability.L("category", string(cat)),
			observability.L("outcome", "rejected_burst"),
		)
		st, _ := l.store.Status(ctx, clientID, cat, limits, now)
		return Decision{Allowed: false, Status: st, RetryAfter: l.cfg.BurstWindow}
	}

	dec, err := l.store.Incr(ctx, clientID, cat, limits, now)
	if err != nil {
		// Fail open: a counter-store fault must not turn into an outage.
		l.storeFailures.Add(1, observability.L("category", string(cat)))
		logger := logctx.FromOr(ctx, l.log)
		logger.Warn("ratelimit_store_fault",
			observability.F("client_id", clientID),
			observability.F("category", cat),
			observability.Err(err),
		)
		return Decision{
			Allowed: true,
			Status: Status{
				MinuteLimit:     limits.PerMinute,
				MinuteRemaining: limits.PerMinute,
				HourLimit:       limits.PerHour,
				HourRemaining:   limits.PerHour,
			},
		}
	}

	outcome := "allowed"
	if !dec.Allowed {
		outcome = "rejected"
	}
	l.decisions.Add(1,
		observability.L("category", string(cat)),
		observability.L("outcome", outcome),
	)
	return dec
}

// Status reports the current allowance without consuming a request.
func (l *Limiter) Status(ctx context.Context, clientID string, cat Category) Status {
	limits := l.cfg.limitsFor(cat)
	st, err := l.store.Status(ctx, clientID, cat, limits, l.now())
	if err != nil {
		return Status{
			MinuteLimit:     limits.PerMinute,
			MinuteRemaining: limits.PerMinute,
			HourLimit:       limits.PerHour,
			HourRemaining:   limits.PerHour,
		}
	}
	return st
}

// StartSweeper evicts idle keys periodically until the context is done.
func (l *Limiter) StartSweeper(ctx context.Context) {
	sweeper, ok := l.store.(Sweeper)
	if l.cfg.SweepEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cfg.SweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cutoff := l.now().Add(-l.cfg.IdleTTL)
				evicted := 0
				if ok {
					evicted += sweeper.Sweep(cutoff)
				}
				if l.burst != nil {
					evicted += l.burst.sweep(cutoff)
				}
				if evicted > 0 {
					l.log.Debug("ratelimit_idle_keys_evicted",
						observability.F("evicted", evicted),
					)
				}
			}
		}
	}()
}
