package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another worker owns the lock.
var ErrLockHeld = errors.New("jobs: sweep lock held elsewhere")

// Locker serializes sweeps across worker processes.
type Locker interface {
	// Acquire takes the lock for ttl and returns a release func.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-key Redis lease. The TTL bounds how long a crashed
// worker can block the others.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
}

// NewRedisLocker returns a locker on key. An empty key uses "videoswap:sweep".
func NewRedisLocker(client redis.UniversalClient, key string) *RedisLocker {
	if key == "" {
		key = "videoswap:sweep"
	}
	return &RedisLocker{client: client, key: key}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs: acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("jobs: release sweep lock: %w", err)
		}
		return nil
	}, nil
}

var _ Locker = (*RedisLocker)(nil)
