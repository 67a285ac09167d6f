package lock

import (
	"context"
	"sync"
	"time"
)

var _ Locker = (*LocalLocker)(nil)

type localEntry struct {
	token   uint64
	expires time.Time
}

// LocalLocker - блокировка в пределах одного процесса (CLI и тесты).
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	seq  uint64
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, ErrLocked
	}
	l.seq++
	entry := localEntry{token: l.seq}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	l.held[key] = entry

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == entry.token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
