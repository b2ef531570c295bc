// Package cache keeps read-mostly query results in process memory for a
// bounded time. Writes to the underlying data never invalidate an entry;
// staleness is bounded only by the TTL or an explicit ClearAll.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	value    any
	cachedAt time.Time
}

type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	hits    prometheus.Counter
	misses  prometheus.Counter
}

// Get returns a fresh value. Expired entries are dropped.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.cachedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, cachedAt: c.now()}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load serves key from the cache or calls fn once, even when several callers
// miss at the same time. Errors are returned to every waiter and not cached.
// fn runs detached from the cancellation of the caller that started it; a
// caller whose ctx ends stops waiting without aborting the shared load.
func Load[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			c.hits.Inc()
			return typed, nil
		}
	}
	c.misses.Inc()
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		res, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, res)
		return res, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, _ := res.Val.(T)
		return typed, nil
	}
}

// Registry owns every named cache so an operator can reset them together.
type Registry struct {
	mu     sync.Mutex
	caches []*Cache
	now    func() time.Time
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

func NewRegistry(reg prometheus.Registerer, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		now: now,
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_cache_hits_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_cache_misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
	}
	if reg != nil {
		reg.MustRegister(r.hits, r.misses)
	}
	return r
}

func (r *Registry) New(name string, ttl time.Duration) *Cache {
	c := &Cache{
		ttl:     ttl,
		now:     r.now,
		entries: make(map[string]entry),
		hits:    r.hits.WithLabelValues(name),
		misses:  r.misses.WithLabelValues(name),
	}
	r.mu.Lock()
	r.caches = append(r.caches, c)
	r.mu.Unlock()
	return c
}

// ClearAll empties every registered cache.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.caches {
		c.Clear()
	}
}
