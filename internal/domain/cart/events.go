package cart

import "time"

// CartAbandonedEvent is emitted for each stale cart picked up by the
// abandonment scanner; the notification worker turns it into a
// re-engagement email.
type CartAbandonedEvent struct {
	CartID     string
	OwnerID    string
	ItemCount  int
	LastActive time.Time
	OccurredAt time.Time
}

func (CartAbandonedEvent) EventName() string { return "cart.abandoned" }

func NewCartAbandonedEvent(c *Cart) CartAbandonedEvent {
	return CartAbandonedEvent{
		CartID:     c.ID,
		OwnerID:    c.OwnerID,
		ItemCount:  len(c.Items),
		LastActive: c.UpdatedAt,
		OccurredAt: time.Now().UTC(),
	}
}
