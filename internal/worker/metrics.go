package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "serial_novel_worker"

var (
	// Реестр воркера; глобальные метрики конвейера подключаются к нему в Registry().
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_novel_tasks_received_total",
			Help: "Total number of story tasks received by the worker.",
		},
		[]string{"type"},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_novel_tasks_failed_total",
			Help: "Total number of story tasks failed, partitioned by type and reason.",
		},
		[]string{"type", "reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_novel_tasks_succeeded_total",
			Help: "Total number of story tasks processed successfully.",
		},
		[]string{"type"},
	)
	taskDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serial_novel_task_duration_seconds",
			Help:    "Duration of story task processing.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"type", "status"},
	)
)

// Registry возвращает реестр с метриками воркера и стандартными метриками процесса.
// Метрики шлюза и автомата эпизодов живут в реестре по умолчанию и отдаются вместе.
func Registry() prometheus.Gatherers {
	return prometheus.Gatherers{registry, prometheus.DefaultGatherer}
}

// MetricsPusher периодически отправляет метрики в Pushgateway.
type MetricsPusher struct {
	pusher *push.Pusher
	logger *zap.Logger
}

// NewMetricsPusher создает клиента Pushgateway и сразу проверяет соединение.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	log := logger.Named("MetricsPusher")
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		log.Warn("Could not get hostname", zap.Error(err))
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	p := &MetricsPusher{
		pusher: push.New(pushgatewayURL, jobName).Gatherer(Registry()).Grouping("instance", instanceID),
		logger: log,
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	log.Info("Pushgateway pusher initialized", zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return p, nil
}

// Run отправляет метрики каждые interval до отмены ctx, затем удаляет группу инстанса.
func (p *MetricsPusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := p.pusher.Delete(); err != nil {
				p.logger.Warn("Failed to delete metrics from Pushgateway", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := p.pusher.Push(); err != nil {
				p.logger.Warn("Failed to push metrics", zap.Error(err))
			}
		}
	}
}
