// Package ratelimit bounds how often a candidate may start interviews.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// TokenBucket keeps one in-process token bucket per key. A bucket left idle
// long enough to refill completely is dropped, since a new one behaves the
// same.
type TokenBucket struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket allows perMinute events per key on average with bursts of
// up to burst.
func NewTokenBucket(perMinute, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	t := &TokenBucket{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if perMinute > 0 {
		t.idle = time.Duration(float64(burst) / float64(t.limit) * float64(time.Second))
	}
	return t
}

func (t *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idle > 0 && now.Sub(t.lastSweep) >= t.idle {
		t.sweep(now)
	}
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1), nil
}

// Len returns the number of tracked keys.
func (t *TokenBucket) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// sweep must be called with mu held.
func (t *TokenBucket) sweep(now time.Time) {
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) >= t.idle {
			delete(t.buckets, k)
		}
	}
	t.lastSweep = now
}

// RedisWindow is a fixed-window counter shared across server instances.
type RedisWindow struct {
	client    redis.Cmdable
	namespace string
	limit     int64
	window    time.Duration
	now       func() time.Time
}

// NewRedisWindow allows limit events per key in each window.
func NewRedisWindow(client redis.Cmdable, namespace string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{client: client, namespace: namespace, limit: int64(limit), window: window, now: time.Now}
}

func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	slot := r.now().UnixNano() / int64(r.window)
	k := fmt.Sprintf("%sratelimit:%s:%d", r.namespace, key, slot)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit %s: %w", key, err)
	}
	return incr.Val() <= r.limit, nil
}
