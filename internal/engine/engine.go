package engine

import "context"

// Engine abstracts an LLM backend (Ollama, an OpenAI-compatible server, or
// Gemini). The dialogue policy, the assessment engine and the context
// indexer depend on this interface rather than a concrete client.
type Engine interface {
	// Chat sends the request and returns the assistant's reply text.
	// When req.Schema is non-nil, a JSON object is requested.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// Embed returns the embedding vector for text using the given model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
