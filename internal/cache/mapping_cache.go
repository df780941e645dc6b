package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
)

// MappingCache is a read-through cache for persisted mappings
type MappingCache interface {
	Get(ctx context.Context, key domain.MappingKey) (*domain.AccountMapping, bool, error)
	Set(ctx context.Context, m domain.AccountMapping) error
	Delete(ctx context.Context, key domain.MappingKey) error
}

// RedisMappingCache stores mappings as JSON values
type RedisMappingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMappingCache(rdb *redis.Client, ttl time.Duration) *RedisMappingCache {
	return &RedisMappingCache{rdb: rdb, ttl: ttl}
}

func (c *RedisMappingCache) Get(ctx context.Context, key domain.MappingKey) (*domain.AccountMapping, bool, error) {
	val, err := c.rdb.Get(ctx, cacheKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var m domain.AccountMapping
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

func (c *RedisMappingCache) Set(ctx context.Context, m domain.AccountMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(m.Key()), data, c.ttl).Err()
}

func (c *RedisMappingCache) Delete(ctx context.Context, key domain.MappingKey) error {
	return c.rdb.Del(ctx, cacheKey(key)).Err()
}

func cacheKey(key domain.MappingKey) string {
	return "recon:" + key.String()
}

var _ MappingCache = (*RedisMappingCache)(nil)
