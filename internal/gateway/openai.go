package gateway

import (
	"context"
	"math"
	"net/http"

	openaigo "github.com/sashabaranov/go-openai"
)

// openAIBackend работает с любым OpenAI-совместимым API (OpenAI, OpenRouter, DeepSeek).
type openAIBackend struct {
	client *openaigo.Client
	model  string
}

func newOpenAIBackend(cfg Config) *openAIBackend {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIBackend{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  cfg.Model,
	}
}

func (b *openAIBackend) complete(ctx context.Context, req Request) (string, UsageInfo, error) {
	temperature := float32(req.Temperature)
	if temperature == 0 {
		// go-openai опускает нулевую температуру (omitempty), и сервер подставляет 1.0.
		temperature = math.SmallestNonzeroFloat32
	}
	resp, err := b.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: b.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", UsageInfo{}, err
	}
	if len(resp.Choices) == 0 {
		return "", UsageInfo{}, errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
