// Package lock выдает взаимоисключающие блокировки на историю,
// чтобы одну историю не меняли два запуска одновременно.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked возвращается, если ключ уже занят.
var ErrLocked = errors.New("lock is held by another owner")

// Release снимает блокировку. Повторный вызов безопасен.
type Release func(ctx context.Context) error

// Locker захватывает блокировку на ключ не дольше ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// StoryKey - ключ блокировки для истории.
func StoryKey(title string) string { return "story_lock:" + title }
