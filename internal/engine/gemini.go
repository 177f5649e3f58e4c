package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiBackend = "gemini"

// GeminiEngine uses the Gemini API through the genai SDK.
type GeminiEngine struct {
	client *genai.Client
}

// NewGeminiEngine creates a Gemini client. apiKey must be non-empty.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiEngine{client: client}, nil
}

// Chat maps system messages to the system instruction and assistant turns
// to the "model" role.
func (e *GeminiEngine) Chat(ctx context.Context, req ChatRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.Schema
	}

	resp, err := e.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", convertGeminiError(err))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", convertGeminiError(err))
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0].Values, nil
}

func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	return err == nil
}

func convertGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Backend: geminiBackend, Code: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &StatusError{Backend: geminiBackend, Code: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return err
}
