package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// AcquireAllocationLock takes the per-round advisory lock the worker holds
// while the allocation engine runs. Returns false when another worker owns
// the round.
func (c *Cache) AcquireAllocationLock(ctx context.Context, roundID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "alloc:"+roundID, "1", ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseAllocationLock(ctx context.Context, roundID string) error {
	return c.client.Del(ctx, "alloc:"+roundID).Err()
}
