// Package translation переводит готовые эпизоды на другой язык.
package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"serial-novel/internal/gateway"
	"serial-novel/internal/models"
)

const (
	Temperature      = 0.3
	OriginalLanguage = "English"
)

// Translator переводит текст через языковую модель, по одному вызову на поле.
type Translator struct {
	gen gateway.Generator
	now func() time.Time
}

// Option настраивает Translator.
type Option func(*Translator)

// WithClock подменяет источник времени для отметки translated_at.
func WithClock(now func() time.Time) Option {
	return func(t *Translator) { t.now = now }
}

func NewTranslator(gen gateway.Generator, opts ...Option) *Translator {
	t := &Translator{gen: gen, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func systemPrompt(language string) string {
	return fmt.Sprintf(`You are a professional literary translator.
Translate the user's text from %s into %s.
Keep the meaning, tone, names and paragraph breaks. Do not summarise, explain or add notes.
Output only the translation.`, OriginalLanguage, language)
}

// TranslateText переводит один фрагмент. Пустой текст возвращается без вызова модели.
func (t *Translator) TranslateText(ctx context.Context, text, language string) (string, error) {
	if strings.TrimSpace(language) == "" {
		return "", fmt.Errorf("%w: target language is empty", models.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	return t.gen.Generate(ctx, gateway.Request{
		SystemPrompt: systemPrompt(language),
		UserPrompt:   text,
		Temperature:  Temperature,
	})
}

// TranslateEpisode переводит заголовок, текст и (если есть) последнюю сцену.
// Списки персонажей и краткое содержание копируются без перевода.
func (t *Translator) TranslateEpisode(ctx context.Context, rec *models.EpisodeRecord, language string) (*models.TranslatedEpisode, error) {
	out := &models.TranslatedEpisode{EpisodeRecord: *rec}
	out.KilledCharacters = append([]string(nil), rec.KilledCharacters...)
	out.CurrentCharacters = append([]string(nil), rec.CurrentCharacters...)

	var err error
	if out.Title, err = t.TranslateText(ctx, rec.Title, language); err != nil {
		return nil, fmt.Errorf("translate title: %w", err)
	}
	if out.Body, err = t.TranslateText(ctx, rec.Body, language); err != nil {
		return nil, fmt.Errorf("translate body: %w", err)
	}
	if strings.TrimSpace(rec.EndedAt) != "" {
		if out.EndedAt, err = t.TranslateText(ctx, rec.EndedAt, language); err != nil {
			return nil, fmt.Errorf("translate ended_at: %w", err)
		}
	}

	out.Translation = models.Translation{
		OriginalLanguage: OriginalLanguage,
		TargetLanguage:   language,
		TranslatedAt:     t.now().UTC().Format(time.RFC3339),
	}
	return out, nil
}
