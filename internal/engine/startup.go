package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that the backend is reachable. When it also manages
// local models, missing ones are pulled with progress written to w and the
// chat model is warmed up so the first interview turn does not pay the
// cold-load penalty.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("inference backend is not reachable; check the engine URL and credentials")
	}

	mm, ok := e.(ModelManager)
	if !ok {
		return nil
	}

	models := make([]string, 0, 2)
	if chatModel != "" {
		models = append(models, chatModel)
	}
	if embedModel != "" && embedModel != chatModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if mm.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := mm.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if chatModel == "" {
		return nil
	}
	fmt.Fprintf(w, "model %s: warming up...\n", chatModel)
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := e.Chat(warmCtx, ChatRequest{
		Model:    chatModel,
		Messages: []Message{{Role: RoleUser, Content: "ping"}},
	})
	if err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", chatModel, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", chatModel)
	}
	return nil
}
