// Package reranking re-scores retrieved context snippets with a chat model
// before they are shown to the interviewer.
package reranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
)

const defaultConcurrency = 3

// Reranker orders snippets by relevance to an interview focus and keeps at
// most topK of them.
type Reranker interface {
	Rerank(ctx context.Context, focus string, snippets []interview.Snippet, topK int) []interview.Snippet
}

// New returns an LLM reranker if enabled, Passthrough otherwise.
func New(e engine.Engine, model string, enabled bool, timeout time.Duration, threshold float64) Reranker {
	if !enabled {
		return Passthrough{}
	}
	return &LLM{
		engine:    e,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
		logger:    slog.Default(),
	}
}

// LLM asks a chat model how useful each snippet is for the interview focus.
// Snippets scoring below threshold are dropped.
type LLM struct {
	engine    engine.Engine
	model     string
	timeout   time.Duration
	threshold float64
	logger    *slog.Logger
}

// Rerank never fails. On timeout the retrieval order is kept; a snippet the
// model cannot score keeps its similarity score.
func (r *LLM) Rerank(ctx context.Context, focus string, snippets []interview.Snippet, topK int) []interview.Snippet {
	if len(snippets) <= 1 {
		return truncate(snippets, topK)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scored := make([]interview.Snippet, len(snippets))
	copy(scored, snippets)
	judged := make([]bool, len(snippets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for i := range scored {
		g.Go(func() error {
			score, err := r.score(gctx, focus, scored[i].Text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Debug("rerank: scoring failed, keeping similarity", "error", err)
				return nil
			}
			scored[i].Score = float32(score)
			judged[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		r.logger.Warn("rerank: timed out, keeping retrieval order", "error", errors.Join(err, ctx.Err()))
		metrics.Fallbacks.WithLabelValues("rerank", "timeout").Inc()
		return truncate(snippets, topK)
	}

	kept := scored[:0]
	for i, s := range scored {
		if judged[i] && float64(s.Score) < r.threshold {
			continue
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return truncate(kept, topK)
}

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "usefulness from 0.0 to 1.0"},
	},
	Required: []string{"score"},
}

func (r *LLM) score(ctx context.Context, focus, text string) (float64, error) {
	prompt := "An interviewer is preparing questions for: " + focus + "\n" +
		"Rate from 0.0 to 1.0 how useful this note about the candidate is for that interview.\n" +
		"Note: " + text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.engine.Chat(ctx, engine.ChatRequest{
		Model:       r.model,
		Messages:    []engine.Message{{Role: engine.RoleUser, Content: prompt}},
		Schema:      scoreSchema,
		Temperature: engine.Temp(0),
	})
	if err != nil {
		return 0, err
	}
	return parseScore(resp)
}

// parseScore reads {"score": x} out of a reply that may carry code fences
// or prose around the object.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	if obj.Score == nil {
		return 0, fmt.Errorf("missing score")
	}
	return min(max(*obj.Score, 0), 1), nil
}

// Passthrough keeps retrieval order.
type Passthrough struct{}

func (Passthrough) Rerank(_ context.Context, _ string, snippets []interview.Snippet, topK int) []interview.Snippet {
	return truncate(snippets, topK)
}

func truncate(s []interview.Snippet, n int) []interview.Snippet {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
