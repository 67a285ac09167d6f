// Package characters извлекает имена персонажей из текста эпизода.
package characters

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"serial-novel/internal/gateway"
	"serial-novel/internal/normalizer"
)

// Tagger возвращает имена людей, упомянутых в тексте, в нижнем регистре.
type Tagger interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

const (
	taggerTemperature = 0.0

	taggerSystemPrompt = `You are a named-entity tagger for fiction.
List every PERSON mentioned by name in the text the user gives you.
Return ONLY a JSON array of strings, for example ["Asha", "Captain Rao"].
Do not include places, organisations, titles without names, or commentary.
Return [] when nobody is named.`
)

// LLMTagger размечает текст через языковую модель.
type LLMTagger struct {
	gen gateway.Generator
}

var _ Tagger = (*LLMTagger)(nil)

func NewLLMTagger(gen gateway.Generator) *LLMTagger {
	return &LLMTagger{gen: gen}
}

func (t *LLMTagger) Extract(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, err := t.gen.Generate(ctx, gateway.Request{
		SystemPrompt: taggerSystemPrompt,
		UserPrompt:   text,
		Temperature:  taggerTemperature,
	})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := normalizer.ParseStrictJSON(normalizer.ExtractJSONArray(raw), &names); err != nil {
		return nil, fmt.Errorf("failed to parse tagged names: %w", err)
	}
	return lowerSet(names), nil
}

// MergeRoster возвращает (existing ∪ tagged) − killed в нижнем регистре, по алфавиту.
func MergeRoster(existing, tagged, killed []string) []string {
	dead := make(map[string]struct{}, len(killed))
	for _, k := range lowerSet(killed) {
		dead[k] = struct{}{}
	}
	var out []string
	for _, name := range lowerSet(append(append([]string{}, existing...), tagged...)) {
		if _, ok := dead[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

func lowerSet(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
