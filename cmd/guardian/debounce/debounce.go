// Package debounce drops identical actions repeated by the same actor within
// a short window.
package debounce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type key struct {
	actor  string
	action string
}

type Guard struct {
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
	seen   map[key]time.Time
}

func New(window time.Duration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{window: window, now: now, seen: make(map[key]time.Time)}
}

// Admit reports whether the action should run. A rejected attempt does not
// extend the window.
func (g *Guard) Admit(actor, action string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	k := key{actor: actor, action: action}
	if last, ok := g.seen[k]; ok && now.Sub(last) < g.window {
		return false
	}
	g.seen[k] = now
	return true
}

// Prune forgets keys older than the window and returns how many were dropped.
func (g *Guard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for k, last := range g.seen {
		if now.Sub(last) >= g.window {
			delete(g.seen, k)
			n++
		}
	}
	return n
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// StartPruner drops stale keys every interval until ctx is done.
func (g *Guard) StartPruner(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("Очистка debounce остановлена")
				return
			case <-ticker.C:
				if n := g.Prune(); n > 0 {
					logger.Debug("Удалены устаревшие ключи debounce", zap.Int("count", n))
				}
			}
		}
	}()
}
