package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the rate limiting interface
type Limiter interface {
	// Allow checks if the action is allowed for the given key
	// Returns true if allowed, false if rate limited
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool

	// Remaining returns the number of remaining requests for the key
	Remaining(ctx context.Context, key string, limit int, window time.Duration) int

	// RetryAfter returns how long until the next request would be allowed
	RetryAfter(ctx context.Context, key string, window time.Duration) time.Duration
}

// MemoryLimiter keeps a token bucket per key. A bucket holds limit tokens
// and refills at limit per window.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) get(key string, limit int, window time.Duration) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		if limit < 1 {
			limit = 1
		}
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			window:  window,
		}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(key, limit, window).limiter.Allow()
}

func (l *MemoryLimiter) Remaining(_ context.Context, key string, limit int, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return limit
	}
	remaining := int(b.limiter.Tokens())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (l *MemoryLimiter) RetryAfter(_ context.Context, key string, window time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	tokens := b.limiter.Tokens()
	if tokens >= 1 {
		return 0
	}
	perToken := time.Duration(float64(time.Second) / float64(b.limiter.Limit()))
	return time.Duration((1 - tokens) * float64(perToken))
}

// Cleanup drops buckets idle for a full window; they would be full again.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (l *MemoryLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// Ensure MemoryLimiter implements Limiter
var _ Limiter = (*MemoryLimiter)(nil)
