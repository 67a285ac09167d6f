// Package bootstrap собирает зависимости, общие для api, worker и storyctl.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"serial-novel/internal/characters"
	"serial-novel/internal/config"
	"serial-novel/internal/database"
	"serial-novel/internal/episode"
	"serial-novel/internal/gateway"
	"serial-novel/internal/ledger"
	"serial-novel/internal/lock"
	"serial-novel/internal/repository"
	"serial-novel/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

// StoryService создает шлюз модели, файловый леджер и сервис историй.
func StoryService(ctx context.Context, cfg *config.Config, locker lock.Locker, logger *zap.Logger) (service.StoryService, error) {
	gen, err := gateway.New(ctx, cfg.Gateway(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation gateway: %w", err)
	}
	l, err := ledger.NewFileLedger(cfg.StoryDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open story directory: %w", err)
	}

	opts := []service.Option{service.WithLockTTL(cfg.LockTTL)}
	if cfg.CharacterCrossCheck {
		opts = append(opts, service.WithMachineOptions(episode.WithTagger(characters.NewLLMTagger(gen))))
	}
	return service.NewStoryService(gen, l, locker, logger, opts...), nil
}

// Journal открывает журнал задач: SQLite, если задан путь, иначе PostgreSQL
// с применением миграций. Отключенный журнал - NopTaskRepository.
// Возвращаемая функция закрывает соединения.
func Journal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.TaskRepository, func(), error) {
	if !cfg.JournalEnabled {
		logger.Info("Task journal disabled")
		return repository.NopTaskRepository{}, func() {}, nil
	}

	if path := strings.TrimSpace(cfg.JournalSQLite); path != "" {
		repo, err := repository.OpenSQLite(path, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}

	dbCfg := cfg.Database()
	if err := database.ApplyMigrations(dbCfg, logger); err != nil {
		return nil, nil, err
	}
	pool, err := database.Connect(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPgTaskRepository(pool, logger), pool.Close, nil
}

// Redis подключается к Redis и проверяет соединение.
func Redis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	return client, nil
}

// Zerolog - логгер для пакета messaging, с тем же уровнем, что и zap.
func Zerolog(serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
}
