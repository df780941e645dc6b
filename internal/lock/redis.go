package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// RedisLocker holds keys across processes using redislock.
// Locks expire after ttl, so holders must finish (or refresh) within it.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client redislock.RedisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		prefix: "lock:",
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalizeKeys(keys)
	held := make([]*redislock.Lock, 0, len(ordered))

	release := func() {
		// Release on a fresh context; the caller's may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.GetLogger().WithError(err).WithField("key", held[i].Key()).Warn("Failed to release redis lock")
			}
		}
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
	}
	for _, key := range ordered {
		lk, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, opts)
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, fmt.Errorf("%w: %s", domain.ErrLockNotObtained, key)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lk)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

var _ Locker = (*RedisLocker)(nil)
