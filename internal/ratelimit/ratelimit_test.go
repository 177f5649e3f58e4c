package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	l := NewTokenBucket(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "cand-1"); !ok {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if ok, _ := l.Allow(ctx, "cand-1"); ok {
		t.Error("request beyond burst allowed")
	}
	if ok, _ := l.Allow(ctx, "cand-2"); !ok {
		t.Error("other candidates must have their own bucket")
	}
}

func TestTokenBucket_DropsIdleBuckets(t *testing.T) {
	l := NewTokenBucket(60, 2) // refills completely in 2s
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	l.Allow(ctx, "busy")
	l.Allow(ctx, "busy")
	if ok, _ := l.Allow(ctx, "busy"); ok {
		t.Fatal("request beyond burst allowed")
	}
	for i := range 50 {
		l.Allow(ctx, fmt.Sprintf("once-%d", i))
	}
	if n := l.Len(); n != 51 {
		t.Fatalf("Len = %d, want 51", n)
	}

	// busy keeps its bucket while it stays active.
	now = now.Add(time.Second)
	if ok, _ := l.Allow(ctx, "busy"); !ok {
		t.Fatal("one token should have refilled")
	}
	if ok, _ := l.Allow(ctx, "busy"); ok {
		t.Error("active bucket was reset")
	}

	now = now.Add(1500 * time.Millisecond)
	l.Allow(ctx, "late")
	if n := l.Len(); n != 2 {
		t.Errorf("Len after idle sweep = %d, want 2 (busy and late)", n)
	}

	now = now.Add(3 * time.Second)
	l.Allow(ctx, "late")
	if n := l.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		if ok, err := l.Allow(context.Background(), "x"); !ok || err != nil {
			t.Fatal("Unlimited denied a request")
		}
	}
}

func TestRedisWindow(t *testing.T) {
	addr := os.Getenv("REHEARSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REHEARSE_TEST_REDIS_ADDR not set, skipping redis test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	l := NewRedisWindow(client, "rehearse-test:", 2, time.Minute)
	fixed := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	key := uuid.NewString()
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if ok != want {
			t.Errorf("request %d: allowed = %v, want %v", i, ok, want)
		}
	}

	fixed = fixed.Add(time.Minute)
	if ok, _ := l.Allow(ctx, key); !ok {
		t.Error("new window should reset the count")
	}
}
