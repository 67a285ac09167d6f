// Package outline строит и правит план эпизодов до генерации самих эпизодов.
package outline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"serial-novel/internal/gateway"
	"serial-novel/internal/models"
	"serial-novel/internal/normalizer"

	"go.uber.org/zap"
)

const (
	placeholderPrefix = "Outline for episode "
	placeholderSuffix = " could not be generated. Please try again."
)

// Placeholder возвращает текст-заглушку для эпизода k.
func Placeholder(k int) string { return placeholderPrefix + strconv.Itoa(k) + placeholderSuffix }

// IsPlaceholder сообщает, является ли текст заглушкой.
func IsPlaceholder(text string) bool {
	if !strings.HasPrefix(text, placeholderPrefix) || !strings.HasSuffix(text, placeholderSuffix) {
		return false
	}
	k, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(text, placeholderPrefix), placeholderSuffix))
	return err == nil && k > 0
}

// HasPlaceholders сообщает, есть ли в плане хотя бы одна заглушка.
func HasPlaceholders(outlines models.OutlineMap) bool {
	for _, text := range outlines {
		if IsPlaceholder(text) {
			return true
		}
	}
	return false
}

// FallbackOutlines - план из одних заглушек для эпизодов 1..total.
func FallbackOutlines(total int) models.OutlineMap {
	out := make(models.OutlineMap, total)
	for k := 1; k <= total; k++ {
		out[k] = Placeholder(k)
	}
	return out
}

// Pipeline генерирует и правит план эпизодов.
type Pipeline struct {
	gen    gateway.Generator
	logger *zap.Logger
}

func NewPipeline(gen gateway.Generator, logger *zap.Logger) *Pipeline {
	return &Pipeline{gen: gen, logger: logger.Named("OutlinePipeline")}
}

// GenerateOutlines строит план всех эпизодов одним вызовом.
// Если ответ не разбирается или ключи не совпадают с {1..N}, возвращается
// план из заглушек и nil: ошибкой считается только сбой самого вызова.
func (p *Pipeline) GenerateOutlines(ctx context.Context, info *models.StoryInfo) (models.OutlineMap, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	raw, err := p.gen.Generate(ctx, gateway.Request{
		SystemPrompt: generateSystemPrompt,
		UserPrompt:   generateUserPrompt(info),
		Temperature:  GenerateTemperature,
	})
	if err != nil {
		return nil, err
	}

	var outlines models.OutlineMap
	if err := normalizer.ParseStrictJSON(normalizer.ExtractJSONObject(raw), &outlines); err != nil {
		p.logger.Warn("Failed to parse outlines, using placeholders",
			zap.String("title", info.Title), zap.Error(err))
		return FallbackOutlines(info.TotalEpisodes), nil
	}
	for k, text := range outlines {
		outlines[k] = strings.TrimSpace(text)
	}
	if err := outlines.Validate(info.TotalEpisodes); err != nil {
		p.logger.Warn("Outline keys do not cover the story, using placeholders",
			zap.String("title", info.Title), zap.Error(err))
		return FallbackOutlines(info.TotalEpisodes), nil
	}
	return outlines, nil
}

// ImproveOutline переписывает план эпизода k по отзыву пользователя.
// Меняется только outlines[k].
func (p *Pipeline) ImproveOutline(ctx context.Context, info *models.StoryInfo, outlines models.OutlineMap, k int, feedback string) (string, error) {
	if k < 1 || k > info.TotalEpisodes {
		return "", fmt.Errorf("%w: episode %d is outside 1..%d", models.ErrInvalidInput, k, info.TotalEpisodes)
	}
	if strings.TrimSpace(feedback) == "" {
		return "", fmt.Errorf("%w: feedback is empty", models.ErrInvalidInput)
	}
	original, ok := outlines[k]
	if !ok {
		return "", fmt.Errorf("%w: no outline for episode %d", models.ErrNotFound, k)
	}

	improved, err := p.gen.Generate(ctx, gateway.Request{
		SystemPrompt: improveSystemPrompt,
		UserPrompt:   improveUserPrompt(info, outlines, k, original, feedback),
		Temperature:  ImproveTemperature,
	})
	if err != nil {
		return "", err
	}
	outlines[k] = improved
	p.logger.Info("Outline improved", zap.String("title", info.Title), zap.Int("episode", k))
	return improved, nil
}

// MaintainFlow последовательно согласует эпизоды modified+1..N с изменением.
// Для j используется уже обновленный контекст 1..j-1; ответ всегда
// записывается в outlines[j]. При ошибке на j эпизоды до j остаются обновленными.
func (p *Pipeline) MaintainFlow(ctx context.Context, info *models.StoryInfo, outlines models.OutlineMap, modified int) (models.OutlineMap, error) {
	if modified >= info.TotalEpisodes {
		return outlines, nil
	}
	if modified < 1 {
		return outlines, fmt.Errorf("%w: modified episode %d", models.ErrInvalidInput, modified)
	}
	for j := modified + 1; j <= info.TotalEpisodes; j++ {
		if err := ctx.Err(); err != nil {
			return outlines, err
		}
		updated, err := p.gen.Generate(ctx, gateway.Request{
			SystemPrompt: flowSystemPrompt(info, j, modified),
			UserPrompt:   flowUserPrompt(info, outlines, j, modified),
			Temperature:  FlowTemperature,
		})
		if err != nil {
			return outlines, fmt.Errorf("flow for episode %d: %w", j, err)
		}
		outlines[j] = updated
		p.logger.Debug("Outline flow updated", zap.String("title", info.Title), zap.Int("episode", j))
	}
	return outlines, nil
}
