package models

import (
	"errors"
	"fmt"
	"strings"
)

// Общие ошибки уровня приложения.
var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvalidGenerationRequest = errors.New("invalid generation request")
	ErrStoryExists              = errors.New("story already exists")
	ErrStoryBusy                = errors.New("story is being processed")
	ErrOutlinesIncomplete       = errors.New("outlines contain placeholders")

	// Сентинелы для errors.Is поверх типизированных ошибок ниже.
	ErrTransport           = errors.New("generation transport failure")
	ErrMalformedGeneration = errors.New("malformed generation")
	ErrLedgerIntegrity     = errors.New("ledger integrity violation")
)

// MaxPayloadExcerpt - сколько символов сырого ответа сохраняется в MalformedGenerationError.
const MaxPayloadExcerpt = 500

// TransportError оборачивает ошибку провайдера модели без изменений.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Provider, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// MalformedGenerationError - ответ модели не удалось разобрать даже после ремонта.
type MalformedGenerationError struct {
	Payload string // первые MaxPayloadExcerpt символов
	Err     error
}

// NewMalformedGenerationError обрезает payload до MaxPayloadExcerpt рун.
func NewMalformedGenerationError(payload string, cause error) *MalformedGenerationError {
	runes := []rune(payload)
	if len(runes) > MaxPayloadExcerpt {
		payload = string(runes[:MaxPayloadExcerpt])
	}
	return &MalformedGenerationError{Payload: payload, Err: cause}
}

func (e *MalformedGenerationError) Error() string {
	return fmt.Sprintf("%s: %v (payload: %q)", ErrMalformedGeneration, e.Err, e.Payload)
}

func (e *MalformedGenerationError) Unwrap() []error { return []error{ErrMalformedGeneration, e.Err} }

// LedgerIntegrityError - сохраненные данные истории не проходят валидацию.
type LedgerIntegrityError struct {
	Title    string
	Artifact string // info.json, outlines.json, 3.json ...
	Err      error
}

func (e *LedgerIntegrityError) Error() string {
	return fmt.Sprintf("%s: story %q, %s: %v", ErrLedgerIntegrity, e.Title, e.Artifact, e.Err)
}

func (e *LedgerIntegrityError) Unwrap() []error { return []error{ErrLedgerIntegrity, e.Err} }

// ContinuityViolation фиксирует персонажей, которые присутствуют в эпизоде,
// хотя ранее были убиты. Это наблюдение, а не ошибка: запись не отклоняется.
type ContinuityViolation struct {
	Episode int      `json:"episode"`
	Names   []string `json:"names"`
}

func (v ContinuityViolation) String() string {
	return fmt.Sprintf("episode %d resurrects %s", v.Episode, strings.Join(v.Names, ", "))
}
