package slots

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentbook/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps per-day slot lists in Redis with a TTL.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCache returns nil when client is nil or ttl disables caching.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &RedisCache{redis: client, ttl: ttl}
}

func cacheKey(agentID int64, date time.Time) string {
	return fmt.Sprintf("slots:%d:%s", agentID, model.FormatDate(date))
}

func (c *RedisCache) Get(ctx context.Context, agentID int64, date time.Time) ([]string, bool) {
	val, err := c.redis.Get(ctx, cacheKey(agentID, date)).Result()
	if err != nil {
		return nil, false
	}
	var slots []string
	if err := json.Unmarshal([]byte(val), &slots); err != nil {
		return nil, false
	}
	return slots, true
}

func (c *RedisCache) Set(ctx context.Context, agentID int64, date time.Time, slots []string) {
	if slots == nil {
		slots = []string{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cacheKey(agentID, date), data, c.ttl).Err()
}

// InvalidateAgent deletes every cached day of the agent.
func (c *RedisCache) InvalidateAgent(ctx context.Context, agentID int64) error {
	pattern := fmt.Sprintf("slots:%d:*", agentID)
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan slot cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}
