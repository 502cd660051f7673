package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Claim sets key only if absent. Returns false when someone else holds it.
func Claim(ctx context.Context, rdb redis.Cmdable, key, value string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, value, ttl).Result()
}

// Dedup marks id as processed for service and reports whether it was seen before.
func Dedup(ctx context.Context, rdb redis.Cmdable, service, id string) (seen bool, err error) {
	ok, err := Claim(ctx, rdb, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops a dedup mark so a failed delivery can be processed again.
func Forget(ctx context.Context, rdb redis.Cmdable, service, id string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}
