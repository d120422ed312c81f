package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps window counters in a concurrent map keyed by
// (client, category). Each entry carries its own small lock so that the
// dual-window check-and-increment is atomic per key without any global lock.
type MemoryStore struct {
	entries sync.Map // string -> *windowEntry
}

type windowEntry struct {
	mu          sync.Mutex
	minuteCount int
	hourCount   int
	minuteStart time.Time
	hourStart   time.Time
	lastSeen    time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func storeKey(clientID string, cat Category) string {
	return clientID + "|" + string(cat)
}

func (s *MemoryStore) Incr(ctx context.Context, clientID string, cat Category, limits Limits, now time.Time) (Decision, error) {
	_ = ctx

	ent := s.entry(clientID, cat, now)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	ent.rollover(now)
	ent.lastSeen = now

	if ent.minuteCount >= limits.PerMinute || ent.hourCount >= limits.PerHour {
		// Neither counter advances; an already-limited client is not
		// penalized further for retrying.
		return Decision{
			Allowed:    false,
			Status:     ent.status(limits),
			RetryAfter: time.Minute,
		}, nil
	}

	ent.minuteCount++
	ent.hourCount++
	return Decision{Allowed: true, Status: ent.status(limits)}, nil
}

func (s *MemoryStore) Status(ctx context.Context, clientID string, cat Category, limits Limits, now time.Time) (Status, error) {
	_ = ctx

	ent := s.entry(clientID, cat, now)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	ent.rollover(now)
	return ent.status(limits), nil
}

// Sweep evicts keys idle since before cutoff and returns the count.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	n := 0
	s.entries.Range(func(key, value any) bool {
		ent := value.(*windowEntry)
		ent.mu.Lock()
		idle := ent.lastSeen.Before(cutoff)
		ent.mu.Unlock()
		if idle {
			s.entries.Delete(key)
			n++
		}
		return true
	})
	return n
}

func (s *MemoryStore) entry(clientID string, cat Category, now time.Time) *windowEntry {
	key := storeKey(clientID, cat)
	if v, ok := s.entries.Load(key); ok {
		return v.(*windowEntry)
	}
	v, _ := s.entries.LoadOrStore(key, &windowEntry{
		minuteStart: now,
		hourStart:   now,
		lastSeen:    now,
	})
	return v.(*windowEntry)
}

// rollover lazily resets a window whose start is at least one window length
// old. A request arriving exactly at the boundary lands in the new window.
func (e *windowEntry) rollover(now time.Time) {
	if now.Sub(e.minuteStart) >= time.Minute {
		e.minuteCount = 0
		e.minuteStart = now
	}
	if now.Sub(e.hourStart) >= time.Hour {
		e.hourCount = 0
		e.hourStart = now
	}
}

func (e *windowEntry) status(limits Limits) Status {
	return Status{
		MinuteLimit:     limits.PerMinute,
		MinuteRemaining: remaining(limits.PerMinute, e.minuteCount),
		HourLimit:       limits.PerHour,
		HourRemaining:   remaining(limits.PerHour, e.hourCount),
	}
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
