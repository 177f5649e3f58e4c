package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/rehearse/internal/metrics"
)

// RetryPolicy bounds calls to a backend.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

// DefaultRetryPolicy is three attempts starting at 500ms backoff, doubling.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	Timeout:        30 * time.Second,
}

// Retrying wraps an Engine with per-attempt timeouts and exponential
// backoff on transient failures. Permanent failures return immediately.
type Retrying struct {
	inner  Engine
	policy RetryPolicy
	name   string
	sleep  func(context.Context, time.Duration) error
}

// WithRetry decorates e. name labels metrics and logs.
func WithRetry(e Engine, name string, p RetryPolicy) *Retrying {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &Retrying{inner: e, policy: p, name: name, sleep: sleepCtx}
}

// Unwrap returns the decorated engine.
func (r *Retrying) Unwrap() Engine { return r.inner }

func (r *Retrying) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var out string
	err := r.run(ctx, "chat", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Chat(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var out []float32
	err := r.run(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Embed(ctx, model, text)
		return err
	})
	return out, err
}

func (r *Retrying) IsRunning(ctx context.Context) bool {
	return r.inner.IsRunning(ctx)
}

func (r *Retrying) run(ctx context.Context, op string, call func(context.Context) error) error {
	dep := r.name + "_" + op
	backoff := r.policy.InitialBackoff
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		start := time.Now()
		err = r.attempt(ctx, call)
		metrics.ObserveDependency(dep, start, err)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || ctx.Err() != nil || attempt == r.policy.MaxAttempts {
			break
		}
		slog.Warn("engine call failed, retrying", "dependency", dep, "attempt", attempt, "backoff", backoff, "error", err)
		if serr := r.sleep(ctx, backoff); serr != nil {
			return fmt.Errorf("%s: %w", dep, serr)
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: %w", dep, err)
}

func (r *Retrying) attempt(ctx context.Context, call func(context.Context) error) error {
	if r.policy.Timeout <= 0 {
		return call(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return call(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
