package cart

import (
	"context"
	"errors"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/cart"
	domoutbox "github.com/luxeshop/checkout-core/internal/domain/outbox"
	"github.com/luxeshop/checkout-core/internal/observability"
)

const publishTimeout = 300 * time.Millisecond

// Scanner periodically flags carts that have been idle past the staleness
// threshold. Each cart is notified at most once; the notified flag is set
// only after the abandonment event is published.
type Scanner struct {
	carts      domain.Repository
	publisher  domoutbox.Publisher
	interval   time.Duration
	staleAfter time.Duration

	log      observability.Logger
	notified observability.Counter

	now func() time.Time
}

func NewScanner(
	carts domain.Repository,
	publisher domoutbox.Publisher,
	interval, staleAfter time.Duration,
	tel observability.Observability,
) *Scanner {
	if tel == nil {
		tel = observability.Nop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Scanner{
		carts:      carts,
		publisher:  publisher,
		interval:   interval,
		staleAfter: staleAfter,
		log:        tel.Logger().With(observability.F("component", "cart_scanner")),
		notified:   tel.Metrics().Counter(observability.MAbandonedCartsNotified),
		now:        time.Now,
	}
}

// Run blocks, scanning on every tick until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("cart_scanner_started",
		observability.F("interval", s.interval.String()),
		observability.F("stale_after", s.staleAfter.String()),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("cart_scanner_stopped")
			return
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.log.Error("cart_scan_failed", observability.Err(err))
			}
		}
	}
}

// Scan flags every abandoned cart not yet notified and returns how many
// were flagged in this pass.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)

	stale, err := s.carts.FindAbandoned(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := s.notifyOne(ctx, c); err != nil {
			s.log.Error("cart_abandoned_notify_failed",
				observability.F("cart_id", c.ID),
				observability.Err(err),
			)
			continue
		}
		count++
	}

	if count > 0 {
		s.log.Info("cart_scan_done", observability.F("notified", count))
	}
	return count, nil
}

func (s *Scanner) notifyOne(ctx context.Context, c *domain.Cart) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, domain.NewCartAbandonedEvent(c)); err != nil {
		return err
	}

	// Flag after the publish so a crash in between re-notifies rather
	// than silently dropping the cart. Publish only confirms the enqueue
	// on the in-process bus; an event still buffered when the process
	// dies is lost with the flag already set. A durable hand-off needs a
	// persistent queue behind the publisher port.
	if err := s.carts.MarkNotified(ctx, c.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyNotified) {
			return nil
		}
		return err
	}

	s.notified.Add(1)
	return nil
}
