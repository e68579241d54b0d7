package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaimer claims trigger keys with SET NX so that only one instance
// signals a break for a given minute.
type RedisClaimer struct {
	client *redis.Client
	owner  string
}

// NewRedisClaimer creates a claimer; owner is stored as the key value for debugging.
func NewRedisClaimer(client *redis.Client, owner string) *RedisClaimer {
	return &RedisClaimer{client: client, owner: owner}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}
