package rate

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	xrate "golang.org/x/time/rate"
)

type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// MemoryLimiter keeps one token bucket per key. Idle buckets age out of an
// LRU so the key space stays bounded.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
}

type bucket struct {
	limiter *xrate.Limiter
	limit   int
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{buckets: expirable.NewLRU[string, *bucket](100_000, nil, 10*time.Minute)}
}

// Allow admits one event for key when fewer than limit events happened in
// the trailing window. On refusal it reports how long until the next slot.
func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 {
		return true, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets.Get(key)
	if !ok || b.limit != limit || b.window != window {
		every := xrate.Every(window / time.Duration(limit))
		b = &bucket{limiter: xrate.NewLimiter(every, limit), limit: limit, window: window}
		m.buckets.Add(key, b)
	}

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}
