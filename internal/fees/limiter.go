package fees

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter gates requests per caller key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// FixedWindowLimiter allows limit requests per key in each window. Buckets
// are independent; idle ones are swept once per window.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	buckets   sync.Map // string -> *window
	lastSweep atomic.Int64
}

// NewFixedWindowLimiter defaults to 10 requests per 60 seconds.
func NewFixedWindowLimiter(limit int, size time.Duration, now func() time.Time) *FixedWindowLimiter {
	if limit <= 0 {
		limit = 10
	}
	if size <= 0 {
		size = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	l := &FixedWindowLimiter{limit: limit, window: size, now: now}
	l.lastSweep.Store(now().UnixNano())
	return l
}

func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.maybeSweep(now)

	v, _ := l.buckets.LoadOrStore(key, &window{start: now})
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Sub(w.start) >= l.window {
		w.start = now
		w.count = 0
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (l *FixedWindowLimiter) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.window) || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	l.buckets.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		idle := now.Sub(w.start) >= 2*l.window
		w.mu.Unlock()
		if idle {
			l.buckets.CompareAndDelete(k, w)
		}
		return true
	})
}
