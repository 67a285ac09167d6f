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

	"serial-novel/internal/api"
	"serial-novel/internal/bootstrap"
	"serial-novel/internal/config"
	"serial-novel/internal/lock"
	"serial-novel/internal/logger"
	"serial-novel/internal/messaging"

	"github.com/gin-gonic/gin"
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
		log.Fatal("API server stopped with error", zap.Error(err))
	}
	log.Info("API server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting story API", cfg.LogFields()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := bootstrap.Redis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Чтение и удаление выполняются здесь; блокировка общая с воркером.
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
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := messaging.DeclareTopology(ch); err != nil {
		return err
	}
	publisher := messaging.NewRabbitMQTaskPublisher(ch, bootstrap.Zerolog("story-api", cfg.LogLevel))

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewStoryHandler(stories, publisher, journal, log)
	router := api.NewRouter(handler, log, api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins, Metrics: true})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
