package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiBackend обращается к Gemini через generative-ai-go.
type geminiBackend struct {
	client *genai.Client
	model  string
}

func newGeminiBackend(ctx context.Context, cfg Config) (*geminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiBackend{client: client, model: cfg.Model}, nil
}

func (b *geminiBackend) complete(ctx context.Context, req Request) (string, UsageInfo, error) {
	// GenerativeModel не потокобезопасен при изменении настроек, поэтому на каждый вызов свой.
	model := b.client.GenerativeModel(b.model)
	model.SetTemperature(float32(req.Temperature))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}

	resp, err := model.GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return "", UsageInfo{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", UsageInfo{}, errEmptyCompletion
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	var usage UsageInfo
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return sb.String(), usage, nil
}
