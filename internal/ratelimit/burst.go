package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// burstGate caps very short-term bursts per client with a token bucket,
// ahead of the minute/hour window counters.
type burstGate struct {
	mu       sync.Mutex
	entries  map[string]*burstEntry
	limit    rate.Limit
	capacity int
}

type burstEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newBurstGate(capacity int, window time.Duration) *burstGate {
	if capacity <= 0 || window <= 0 {
		return nil
	}
	return &burstGate{
		entries:  make(map[string]*burstEntry),
		limit:    rate.Every(window / time.Duration(capacity)),
		capacity: capacity,
	}
}

func (g *burstGate) allow(clientID string, now time.Time) bool {
	g.mu.Lock()
	ent, ok := g.entries[clientID]
	if !ok {
		ent = &burstEntry{lim: rate.NewLimiter(g.limit, g.capacity)}
		g.entries[clientID] = ent
	}
	ent.lastSeen = now
	g.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

func (g *burstGate) sweep(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for k, ent := range g.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(g.entries, k)
			n++
		}
	}
	return n
}
