// Package ratelimit bounds expensive per-event work per connection.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"fleet-monitor/realtime/internal/domain"
)

type bucket struct {
	mu          sync.Mutex
	remaining   int
	windowStart time.Time
}

// Limiter is a fixed-window point budget keyed by connection id. Buckets
// are independent; the map lock is only held to find or create a bucket.
type Limiter struct {
	points int
	window time.Duration
	now    func() time.Time

	buckets sync.Map // connection id -> *bucket
}

func NewLimiter(points int, window time.Duration) *Limiter {
	return &Limiter{
		points: points,
		window: window,
		now:    time.Now,
	}
}

// Consume takes one point from the connection's budget. It returns
// domain.ErrRateLimitExceeded once the budget is spent, until the window
// that started with the first consumed point has elapsed.
func (l *Limiter) Consume(connID string) error {
	raw, _ := l.buckets.LoadOrStore(connID, &bucket{})
	b := raw.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.remaining = l.points
	}
	if b.remaining <= 0 {
		return fmt.Errorf("%w: connection %s", domain.ErrRateLimitExceeded, connID)
	}
	b.remaining--
	return nil
}

// Forget drops the connection's bucket. Called on disconnect.
func (l *Limiter) Forget(connID string) {
	l.buckets.Delete(connID)
}
