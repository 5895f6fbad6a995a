package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis strings and lists.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an already connected Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: failed to %s %s: %w", ErrCacheUnavailable, op, key, err)
}

func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", key, err)
	}
	return data, true, nil
}

func (rc *RedisCache) Set(ctx context.Context, key string, value any) error {
	return rc.set(ctx, key, value, 0)
}

func (rc *RedisCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s for %s", ttl, key)
	}
	return rc.set(ctx, key, value, ttl)
}

func (rc *RedisCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := rc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (rc *RedisCache) Push(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := rc.client.RPush(ctx, key, data).Err(); err != nil {
		return unavailable("push to", key, err)
	}
	return nil
}

func (rc *RedisCache) RemoveFromList(ctx context.Context, key string, value any, count int64) error {
	if count < 0 {
		return fmt.Errorf("invalid count %d for %s", count, key)
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := rc.client.LRem(ctx, key, count, data).Err(); err != nil {
		return unavailable("remove from", key, err)
	}
	return nil
}

func (rc *RedisCache) GetAll(ctx context.Context, key string) ([][]byte, error) {
	items, err := rc.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable("read list", key, err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

func (rc *RedisCache) Remove(ctx context.Context, key string) (bool, error) {
	deleted, err := rc.client.Del(ctx, key).Result()
	if err != nil {
		return false, unavailable("remove", key, err)
	}
	return deleted > 0, nil
}
