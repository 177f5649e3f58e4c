package engine

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by New.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	URL     string
	APIKey  string
}

// New constructs the configured backend. It does not check reachability;
// call EnsureReady for that.
func New(ctx context.Context, o Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(o.Backend)) {
	case "", BackendOllama:
		url := o.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		return NewOllamaEngine(url), nil
	case BackendOpenAI:
		return NewOpenAIEngine(o.URL, o.APIKey), nil
	case BackendGemini:
		g, err := NewGeminiEngine(ctx, o.APIKey)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q (want %s, %s or %s)", o.Backend, BackendOllama, BackendOpenAI, BackendGemini)
	}
}
