package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript удаляет ключ только если он все еще принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ Locker = (*RedisLocker)(nil)

// RedisLocker - распределенная блокировка через SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: logger.Named("RedisLocker")}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire lock", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	l.logger.Debug("Lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))

	var once sync.Once
	return func(ctx context.Context) error {
		var relErr error
		once.Do(func() {
			deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
			if err != nil {
				relErr = fmt.Errorf("redis release %s: %w", key, err)
				return
			}
			if deleted == 0 {
				// ttl истек, ключ уже мог занять другой владелец
				l.logger.Warn("Lock expired before release", zap.String("key", key))
			}
		})
		return relErr
	}, nil
}
