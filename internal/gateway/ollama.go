package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ollamaBackend использует нативный API Ollama.
type ollamaBackend struct {
	client *api.Client
	model  string
}

// DefaultOllamaURL используется, когда адрес сервера не задан.
const DefaultOllamaURL = "http://localhost:11434"

// ollamaBaseURL приводит адрес к виду, который ожидает api.NewClient: без суффикса /v1.
func ollamaBaseURL(raw string) string {
	baseURL := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(raw), "/"), "/v1")
	if baseURL == "" {
		return DefaultOllamaURL
	}
	return baseURL
}

func newOllamaBackend(cfg Config) (*ollamaBackend, error) {
	baseURL := ollamaBaseURL(cfg.BaseURL)
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL %q: %w", baseURL, err)
	}
	return &ollamaBackend{
		client: api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		model:  cfg.Model,
	}, nil
}

func (b *ollamaBackend) complete(ctx context.Context, req Request) (string, UsageInfo, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model: b.model,
		Messages: []api.Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
		},
	}

	var resp api.ChatResponse
	err := b.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return "", UsageInfo{}, err
	}
	return resp.Message.Content, UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}
