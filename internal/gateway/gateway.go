// Package gateway - единая точка вызова языковой модели.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"serial-novel/internal/models"

	"go.uber.org/zap"
)

// Поддерживаемые провайдеры.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Request - один запрос к модели: системный промпт, пользовательский промпт и температура.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
}

// Validate проверяет запрос до обращения к провайдеру.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return fmt.Errorf("%w: system prompt is empty", models.ErrInvalidGenerationRequest)
	}
	if strings.TrimSpace(r.UserPrompt) == "" {
		return fmt.Errorf("%w: user prompt is empty", models.ErrInvalidGenerationRequest)
	}
	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %.2f is outside [%.0f, %.0f]",
			models.ErrInvalidGenerationRequest, r.Temperature, MinTemperature, MaxTemperature)
	}
	return nil
}

// Generator выполняет ровно один вызов модели и возвращает текст без
// окружающих пробелов. Повторов и кэша нет. Ошибки провайдера
// возвращаются как *models.TransportError.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config - настройки подключения к провайдеру.
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// UsageInfo - расход токенов одного вызова.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	Estimated        bool
}

// completer - то, что реализует каждый провайдер. Валидация, обрезка,
// метрики и обертка ошибок делаются в client.
type completer interface {
	complete(ctx context.Context, req Request) (string, UsageInfo, error)
}

type client struct {
	provider string
	model    string
	backend  completer
	logger   *zap.Logger
}

// New создает Generator для провайдера из cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Generator, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: model name is empty", models.ErrInvalidInput)
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var (
		backend completer
		err     error
	)
	switch provider {
	case ProviderOpenAI:
		backend = newOpenAIBackend(cfg)
	case ProviderOllama:
		backend, err = newOllamaBackend(cfg)
	case ProviderGemini:
		backend, err = newGeminiBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown AI client type %q", models.ErrInvalidInput, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("AI client created",
		zap.String("provider", provider),
		zap.String("model", cfg.Model),
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("timeout", cfg.Timeout),
	)
	return newClient(provider, cfg.Model, backend, logger), nil
}

func newClient(provider, model string, backend completer, logger *zap.Logger) *client {
	return &client{
		provider: provider,
		model:    model,
		backend:  backend,
		logger:   logger.Named("Gateway"),
	}
}

// Generate реализует Generator.
func (c *client) Generate(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	start := time.Now()
	text, usage, err := c.backend.complete(ctx, req)
	duration := time.Since(start)

	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyCompletion
	}
	if errors.Is(err, errEmptyCompletion) {
		recordRequest(c.provider, c.model, statusError, duration)
		c.logger.Warn("AI returned an empty completion",
			zap.String("provider", c.provider),
			zap.Duration("duration", duration),
		)
		return "", models.NewMalformedGenerationError(text, err)
	}
	if err != nil {
		recordRequest(c.provider, c.model, statusError, duration)
		c.logger.Error("AI request failed",
			zap.String("provider", c.provider),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return "", &models.TransportError{Provider: c.provider, Err: err}
	}

	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = estimateUsage(c.model, req, text)
	}
	recordRequest(c.provider, c.model, statusSuccess, duration)
	recordUsage(c.provider, c.model, usage)

	c.logger.Debug("AI response received",
		zap.String("provider", c.provider),
		zap.Duration("duration", duration),
		zap.Int("response_length", len(text)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Bool("estimated_usage", usage.Estimated),
	)
	return strings.TrimSpace(text), nil
}
