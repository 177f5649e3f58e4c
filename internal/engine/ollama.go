package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaBackend = "ollama"

// OllamaEngine talks to a local Ollama server over its HTTP API.
type OllamaEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaEngine creates an OllamaEngine targeting baseURL. Request
// deadlines come from the caller's context.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsRunning returns true if GET /api/tags answers 200 within two seconds.
func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of all models available locally.
func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var tags ollamaTagsResponse
	if err := e.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether the model is present locally. "llama3.2" matches
// "llama3.2:latest".
func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

// PullModel downloads a model, reading the streamed progress to completion.
func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	body, err := json.Marshal(map[string]any{"name": name, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

// Chat calls POST /api/chat without streaming. A schema is passed through
// as Ollama's structured output format.
func (e *OllamaEngine) Chat(ctx context.Context, req ChatRequest) (string, error) {
	cr := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if req.Schema != nil {
		cr.Format = req.Schema
	}
	if req.Temperature != nil {
		cr.Options = map[string]any{"temperature": *req.Temperature}
	}

	var result ollamaChatResponse
	if err := e.do(ctx, http.MethodPost, "/api/chat", cr, &result); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return result.Message.Content, nil
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed calls POST /api/embed and returns the first vector.
func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var result ollamaEmbedResponse
	if err := e.do(ctx, http.MethodPost, "/api/embed", map[string]string{"model": model, "input": text}, &result); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, ErrEmptyResponse
	}
	return result.Embeddings[0], nil
}

func (e *OllamaEngine) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Backend: ollamaBackend, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
