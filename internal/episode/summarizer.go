package episode

import (
	"context"

	"serial-novel/internal/gateway"
)

// Summarizer сворачивает эпизоды в бегущее краткое содержание.
type Summarizer struct {
	gen gateway.Generator
}

func NewSummarizer(gen gateway.Generator) *Summarizer {
	return &Summarizer{gen: gen}
}

// Summarize возвращает новое бегущее содержание. Для первого эпизода
// previous пуст; иначе модель объединяет previous и body в один текст.
func (s *Summarizer) Summarize(ctx context.Context, body, previous string) (string, error) {
	return s.gen.Generate(ctx, gateway.Request{
		SystemPrompt: summarizerSystemPrompt,
		UserPrompt:   summaryPrompt(body, previous),
		Temperature:  SummaryTemperature,
	})
}
