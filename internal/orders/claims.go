package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisClaims implements Claimer with SETNX on idem:checkout:{key}.
type RedisClaims struct{ Redis *redis.Client }

func (c *RedisClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return redisx.Claim(ctx, c.Redis, fmt.Sprintf(redisx.KeyIdemCheckout, key), "pending", ttl)
}

func (c *RedisClaims) Release(ctx context.Context, key string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(redisx.KeyIdemCheckout, key)).Err()
}
