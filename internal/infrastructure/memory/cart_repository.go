package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/luxeshop/checkout-core/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string]*domain.Cart),
	}
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	_ = ctx
	if c == nil || c.ID == "" {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[c.ID] = c.Clone()
	return nil
}

func (r *CartRepository) Get(ctx context.Context, id string) (*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *CartRepository) FindAbandoned(ctx context.Context, before time.Time) ([]*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Cart
	for _, c := range r.carts {
		if c.AbandonedNotified || len(c.Items) == 0 {
			continue
		}
		if !c.UpdatedAt.Before(before) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *CartRepository) MarkNotified(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[id]
	if !ok {
		return domain.ErrNotFound
	}
	return c.MarkAbandonedNotified()
}
