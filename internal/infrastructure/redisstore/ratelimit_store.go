// Package redisstore provides a Redis-backed counter store for the rate
// limiter, for deployments where limits must be shared across replicas.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/luxeshop/checkout-core/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

const (
	minuteBucketLayout = "200601021504"
	hourBucketLayout   = "2006010215"
)

// Store implements ratelimit.CounterStore with time-bucketed fixed-window
// keys: the bucket timestamp in the key gives exact boundary semantics, and
// key expiry replaces the in-memory idle sweep.
type Store struct {
	rdb    *redis.Client
	prefix string
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Incr(ctx context.Context, clientID string, cat ratelimit.Category, limits ratelimit.Limits, now time.Time) (ratelimit.Decision, error) {
	minuteKey, hourKey := s.keys(clientID, cat, now)

	pipe := s.rdb.Pipeline()
	minuteIncr := pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, 2*time.Minute)
	hourIncr := pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, 2*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("redis incr: %w", err)
	}

	minuteCount := int(minuteIncr.Val())
	hourCount := int(hourIncr.Val())

	if minuteCount > limits.PerMinute || hourCount > limits.PerHour {
		// Undo so a limited client's retries do not keep the counters pinned.
		undo := s.rdb.Pipeline()
		undo.Decr(ctx, minuteKey)
		undo.Decr(ctx, hourKey)
		if _, err := undo.Exec(ctx); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("redis decr: %w", err)
		}
		return ratelimit.Decision{
			Allowed:    false,
			Status:     status(limits, minuteCount-1, hourCount-1),
			RetryAfter: time.Minute,
		}, nil
	}

	return ratelimit.Decision{
		Allowed: true,
		Status:  status(limits, minuteCount, hourCount),
	}, nil
}

func (s *Store) Status(ctx context.Context, clientID string, cat ratelimit.Category, limits ratelimit.Limits, now time.Time) (ratelimit.Status, error) {
	minuteKey, hourKey := s.keys(clientID, cat, now)

	pipe := s.rdb.Pipeline()
	minuteGet := pipe.Get(ctx, minuteKey)
	hourGet := pipe.Get(ctx, hourKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return ratelimit.Status{}, fmt.Errorf("redis get: %w", err)
	}

	minuteCount, _ := minuteGet.Int()
	hourCount, _ := hourGet.Int()
	return status(limits, minuteCount, hourCount), nil
}

func (s *Store) keys(clientID string, cat ratelimit.Category, now time.Time) (string, string) {
	base := fmt.Sprintf("%s:%s:%s", s.prefix, clientID, cat)
	minuteKey := fmt.Sprintf("%s:minute:%s", base, now.UTC().Format(minuteBucketLayout))
	hourKey := fmt.Sprintf("%s:hour:%s", base, now.UTC().Format(hourBucketLayout))
	return minuteKey, hourKey
}

func status(limits ratelimit.Limits, minuteCount, hourCount int) ratelimit.Status {
	return ratelimit.Status{
		MinuteLimit:     limits.PerMinute,
		MinuteRemaining: clampRemaining(limits.PerMinute, minuteCount),
		HourLimit:       limits.PerHour,
		HourRemaining:   clampRemaining(limits.PerHour, hourCount),
	}
}

func clampRemaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
