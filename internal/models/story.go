package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Traits - список черт персонажа. Старые файлы хранили черты одной строкой
// через запятую, поэтому при чтении принимаются оба варианта.
type Traits []string

// UnmarshalJSON принимает массив строк или строку "brave, loyal".
func (t *Traits) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = cleanList(list)
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("traits must be a string or an array of strings: %w", err)
	}
	*t = cleanList(strings.Split(single, ","))
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Character - персонаж, заданный пользователем при создании истории.
type Character struct {
	Name   string `json:"name"`
	Gender string `json:"gender"`
	Traits Traits `json:"traits"`
}

// StoryInfo - неизменяемые параметры истории (info.json).
// Единственное поле, которое может поменяться после создания, - TargetLanguage.
type StoryInfo struct {
	TotalEpisodes     int         `json:"total_episodes"`
	Title             string      `json:"title"`
	InitialCharacters []Character `json:"initial_characters"`
	Trope             string      `json:"trope"`
	Style             string      `json:"style"`
	Tone              string      `json:"tone"`
	RegionalSetting   string      `json:"regional_setting"`
	TargetLanguage    string      `json:"target_language,omitempty"`
}

// Validate проверяет поля, от которых зависят конвейеры.
func (s *StoryInfo) Validate() error {
	if err := ValidateTitle(s.Title); err != nil {
		return err
	}
	if s.TotalEpisodes < 1 {
		return fmt.Errorf("%w: total_episodes must be at least 1, got %d", ErrInvalidInput, s.TotalEpisodes)
	}
	return nil
}

// NamedCharacters возвращает персонажей с непустым именем.
func (s *StoryInfo) NamedCharacters() []Character {
	var out []Character
	for _, c := range s.InitialCharacters {
		if strings.TrimSpace(c.Name) != "" {
			out = append(out, c)
		}
	}
	return out
}

// ValidateTitle проверяет, что заголовок можно использовать как имя каталога.
func ValidateTitle(title string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return fmt.Errorf("%w: title is empty", ErrInvalidInput)
	case title == "." || title == "..":
		return fmt.Errorf("%w: title %q is reserved", ErrInvalidInput, title)
	case strings.ContainsAny(title, `/\`) || strings.ContainsRune(title, 0):
		return fmt.Errorf("%w: title %q contains path separators", ErrInvalidInput, title)
	}
	return nil
}

// OutlineMap - план эпизодов: номер эпизода -> краткое содержание.
// В JSON ключи записываются строками "1".."N".
type OutlineMap map[int]string

// Validate проверяет, что ключи ровно {1..total}, а значения непустые.
func (o OutlineMap) Validate(total int) error {
	if len(o) != total {
		return fmt.Errorf("expected %d outlines, got %d", total, len(o))
	}
	for k := 1; k <= total; k++ {
		text, ok := o[k]
		if !ok {
			return fmt.Errorf("outline for episode %d is missing", k)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("outline for episode %d is empty", k)
		}
	}
	return nil
}

// Keys возвращает номера эпизодов по возрастанию.
func (o OutlineMap) Keys() []int {
	keys := make([]int, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Clone возвращает независимую копию.
func (o OutlineMap) Clone() OutlineMap {
	out := make(OutlineMap, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// MarshalJSON пишет ключи в порядке номеров эпизодов, а не строк ("2" раньше "10").
func (o OutlineMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		text, err := json.Marshal(o[k])
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"` + strconv.Itoa(k) + `":`)
		buf.Write(text)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON требует, чтобы все ключи были положительными целыми.
func (o *OutlineMap) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(OutlineMap, len(raw))
	for key, text := range raw {
		k, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || k < 1 {
			return fmt.Errorf("outline key %q is not a positive episode number", key)
		}
		out[k] = text
	}
	*o = out
	return nil
}

// EpisodeRecord - один сгенерированный эпизод (<k>.json).
type EpisodeRecord struct {
	Title             string   `json:"title"`
	Body              string   `json:"body"`
	KilledCharacters  []string `json:"killed_characters"`
	CurrentCharacters []string `json:"current_characters"`
	EndedAt           string   `json:"ended_at"`
	SummaryTillNow    string   `json:"summary_till_now,omitempty"`
}

// Normalize приводит списки персонажей к множествам: без пустых имен
// и без повторов (сравнение без учета регистра), порядок сохраняется.
func (r *EpisodeRecord) Normalize() {
	r.KilledCharacters = UniqueNames(r.KilledCharacters)
	r.CurrentCharacters = UniqueNames(r.CurrentCharacters)
}

// ValidateCandidate проверяет ответ модели до слияния.
func (r *EpisodeRecord) ValidateCandidate() error {
	var errs []error
	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, errors.New("field \"title\" is empty"))
	}
	if strings.TrimSpace(r.Body) == "" {
		errs = append(errs, errors.New("field \"body\" is empty"))
	}
	return errors.Join(errs...)
}

// ValidatePersisted проверяет запись, прочитанную из хранилища.
func (r *EpisodeRecord) ValidatePersisted() error {
	if err := r.ValidateCandidate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.SummaryTillNow) == "" {
		return errors.New("field \"summary_till_now\" is empty")
	}
	return nil
}

// UniqueNames убирает пустые и повторяющиеся имена.
func UniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ContinuityCursor - состояние, которое переносится из эпизода в эпизод.
type ContinuityCursor struct {
	RunningSummary     string
	LastEndedAt        string
	PreviousCharacters []string
}

// Translation - метаданные перевода эпизода.
type Translation struct {
	OriginalLanguage string `json:"original_language"`
	TargetLanguage   string `json:"target_language"`
	TranslatedAt     string `json:"translated_at"`
}

// TranslatedEpisode - переведенная копия эпизода (<language>/<k>.json).
type TranslatedEpisode struct {
	EpisodeRecord
	Translation Translation `json:"translation"`
}

// TranslatedInfo - info.json внутри каталога перевода.
type TranslatedInfo struct {
	StoryInfo
	TranslatedFrom string `json:"translated_from"`
}
