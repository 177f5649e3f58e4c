package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIBackend = "openai"

// OpenAIEngine targets any OpenAI-compatible chat and embeddings API
// (OpenAI itself, vLLM, LM Studio, DeepSeek and similar).
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for baseURL. An empty baseURL uses the
// SDK default. SDK retries are disabled; retrying is done by WithRetry.
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIEngine{client: openai.NewClient(opts...)}
}

func (e *OpenAIEngine) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := req.Messages
	if req.Schema != nil {
		messages = withSchemaInstruction(messages, req.Schema)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(openai.ChatModel(req.Model)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.F(*req.Temperature)
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat: %w", convertOpenAIError(err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](openai.EmbeddingNewParamsInputArrayOfStrings([]string{text})),
		Model: openai.F(openai.EmbeddingModel(model)),
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", convertOpenAIError(err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.Models.List(ctx)
	return err == nil
}

func convertOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Backend: openAIBackend, Code: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}

// withSchemaInstruction appends the expected JSON shape to the system
// prompt for backends without native schema support.
func withSchemaInstruction(msgs []Message, s *Schema) []Message {
	b, err := json.Marshal(s)
	if err != nil {
		return msgs
	}
	instruction := "Respond with a single JSON object matching this JSON schema and nothing else:\n" + string(b)

	out := make([]Message, 0, len(msgs)+1)
	placed := false
	for _, m := range msgs {
		if m.Role == RoleSystem && !placed {
			m.Content = m.Content + "\n\n" + instruction
			placed = true
		}
		out = append(out, m)
	}
	if !placed {
		out = append([]Message{{Role: RoleSystem, Content: instruction}}, out...)
	}
	return out
}
