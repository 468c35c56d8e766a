package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("platform/cache: lock held by another worker")

// Locker hands out short-lived exclusive locks backed by Redis.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker wraps a go-redis client.
func NewLocker(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Locker{client: redislock.New(rdb), ttl: ttl}
}

// WithLock runs fn while holding key. It does not wait for a busy lock.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	if err != nil {
		return fmt.Errorf("platform/cache: obtain %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
