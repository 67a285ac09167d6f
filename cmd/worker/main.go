package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serial-novel/internal/bootstrap"
	"serial-novel/internal/config"
	"serial-novel/internal/lock"
	"serial-novel/internal/logger"
	"serial-novel/internal/messaging"
	"serial-novel/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("Worker stopped with error", zap.Error(err))
	}
	log.Info("Worker stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting story worker", cfg.LogFields()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := startMetricsServer(cfg.MetricsPort, log)
	defer shutdown(metricsSrv, log)

	if cfg.PushgatewayURL != "" {
		pusher, err := worker.NewMetricsPusher(cfg.PushgatewayURL, log)
		if err != nil {
			log.Warn("Pushgateway unavailable, metrics are served only over HTTP", zap.Error(err))
		} else {
			go pusher.Run(ctx, cfg.PushgatewayInterval)
		}
	}

	redisClient, err := bootstrap.Redis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	stories, err := bootstrap.StoryService(ctx, cfg, lock.NewRedisLocker(redisClient, log), log)
	if err != nil {
		return err
	}

	journal, closeJournal, err := bootstrap.Journal(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeJournal()

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	// Отдельные каналы: публикация уведомлений не должна мешать доставке задач.
	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer consumeCh.Close()
	notifyCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer notifyCh.Close()

	if err := messaging.DeclareTopology(consumeCh); err != nil {
		return err
	}
	if err := consumeCh.Qos(cfg.WorkerPrefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := consumeCh.Consume(messaging.TaskQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	zl := bootstrap.Zerolog("story-worker", cfg.LogLevel)
	handler := worker.NewTaskHandler(stories, journal, messaging.NewRabbitMQNotifier(notifyCh, zl), log)
	consumer := messaging.NewConsumer(handler, zl)

	log.Info("Waiting for tasks", zap.String("queue", messaging.TaskQueue), zap.Int("prefetch", cfg.WorkerPrefetch))
	consumer.Run(ctx, deliveries)
	return nil
}

func startMetricsServer(port string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(worker.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdown(srv *http.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
	}
}
