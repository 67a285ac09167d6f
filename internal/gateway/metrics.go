package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	// Кодировка для моделей, которых tiktoken не знает (ollama, gemini, openrouter).
	fallbackEncoding = "cl100k_base"
)

var errEmptyCompletion = errors.New("empty completion")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_novel_ai_requests_total",
			Help: "Total number of requests to the AI provider.",
		},
		[]string{"provider", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serial_novel_ai_request_duration_seconds",
			Help:    "Histogram of AI request durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 300},
		},
		[]string{"provider", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serial_novel_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"provider", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serial_novel_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"provider", "model"},
	)
	aiEstimatedUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_novel_ai_estimated_usage_total",
			Help: "Requests whose token usage was estimated locally.",
		},
		[]string{"provider", "model"},
	)
)

func recordRequest(provider, model, status string, d time.Duration) {
	aiRequestsTotal.WithLabelValues(provider, model, status).Inc()
	if status == statusSuccess {
		aiRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	}
}

func recordUsage(provider, model string, u UsageInfo) {
	aiPromptTokens.WithLabelValues(provider, model).Observe(float64(u.PromptTokens))
	aiCompletionTokens.WithLabelValues(provider, model).Observe(float64(u.CompletionTokens))
	if u.Estimated {
		aiEstimatedUsage.WithLabelValues(provider, model).Inc()
	}
}

// Кодировки кэшируются по модели, включая неудачные попытки (nil).
var encodings sync.Map

func encodingFor(model string) *tiktoken.Tiktoken {
	if cached, ok := encodings.Load(model); ok {
		return cached.(*tiktoken.Tiktoken)
	}
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			tke = nil
		}
	}
	encodings.Store(model, tke)
	return tke
}

// estimateUsage считает токены через tiktoken, когда провайдер их не вернул.
func estimateUsage(model string, req Request, completion string) UsageInfo {
	tke := encodingFor(model)
	if tke == nil {
		return UsageInfo{Estimated: true}
	}
	return UsageInfo{
		PromptTokens:     len(tke.Encode(req.SystemPrompt, nil, nil)) + len(tke.Encode(req.UserPrompt, nil, nil)),
		CompletionTokens: len(tke.Encode(completion, nil, nil)),
		Estimated:        true,
	}
}
