// Package normalizer превращает сырой текст модели в структурированные данные.
package normalizer

import (
	"encoding/json"
	"strings"

	"serial-novel/internal/models"
)

// ParseStrictJSON декодирует raw в out. Если прямой разбор не удался,
// выполняется ровно один проход ремонта (RepairBackslashes) и повторный разбор.
// При второй неудаче возвращается *models.MalformedGenerationError.
func ParseStrictJSON(raw string, out any) error {
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	repaired := RepairBackslashes(raw)
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return models.NewMalformedGenerationError(repaired, err)
	}
	return nil
}

// RepairBackslashes удваивает каждый обратный слэш, за которым не следует
// \, n, r, t или ". Слэш, который сам закрывает пару "\\", не трогается.
func RepairBackslashes(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw) + 8)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i > 0 && raw[i-1] == '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(raw) {
			switch raw[i+1] {
			case '\\', 'n', 'r', 't', '"':
				b.WriteByte(c)
				continue
			}
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

// ExtractJSONObject возвращает участок от первой "{" до последней "}".
// Если такого участка нет, строка возвращается без изменений.
func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// ExtractJSONArray - то же для массива: от первой "[" до последней "]".
func ExtractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}
