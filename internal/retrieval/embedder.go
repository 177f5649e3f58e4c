package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/rehearse/internal/cache"
	"github.com/kalambet/rehearse/internal/engine"
)

const maxEmbedsInFlight = 4

// Embedder turns candidate text into vectors with one embedding model.
// With a cache attached, unchanged chunks are not re-embedded on reindex.
type Embedder struct {
	engine engine.Engine
	model  string

	cache cache.Cache
	ttl   time.Duration
}

func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// WithCache memoizes vectors in c for ttl, keyed by model and text digest.
func (e *Embedder) WithCache(c cache.Cache, ttl time.Duration) *Embedder {
	e.cache = c
	e.ttl = ttl
	return e
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if e.cache != nil {
		var vec []float32
		if err := cache.GetJSON(ctx, e.cache, key, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if e.cache != nil {
		if err := cache.SetJSON(ctx, e.cache, key, vec, e.ttl); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

// EmbedBatch embeds texts with bounded concurrency. All vectors must share
// one dimension; a mix means the model changed mid-batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxEmbedsInFlight)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return out, nil
}

func (e *Embedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + e.model + ":" + hex.EncodeToString(sum[:16])
}
