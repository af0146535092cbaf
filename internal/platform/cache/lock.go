package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the key.
var ErrLockHeld = errors.New("platform/cache: lock held")

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived exclusive locks. Keys are always held in
// process; when a Redis client is configured they are also held in Redis so
// the API and worker processes exclude each other. A Redis outage degrades to
// the in-process lock.
type Locker struct {
	client *redis.Client
	logger *slog.Logger

	mu    sync.Mutex
	local map[string]struct{}
}

// NewLocker constructs a Locker. client may be nil.
func NewLocker(client *redis.Client, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: client, logger: logger, local: map[string]struct{}{}}
}

// Acquire takes key for at most ttl. The returned release func is idempotent.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	if _, held := l.local[key]; held {
		l.mu.Unlock()
		return nil, ErrLockHeld
	}
	l.local[key] = struct{}{}
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		delete(l.local, key)
		l.mu.Unlock()
	}

	if l.client == nil {
		return onceFunc(releaseLocal), nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		l.logger.Warn("redis lock unavailable, using in-process lock", slog.String("key", key), slog.Any("error", err))
		return onceFunc(releaseLocal), nil
	}
	if !ok {
		releaseLocal()
		return nil, ErrLockHeld
	}
	return onceFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("redis lock release", slog.String("key", key), slog.Any("error", err))
		}
		releaseLocal()
	}), nil
}

func onceFunc(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}
