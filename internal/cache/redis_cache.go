package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stitchworks/backend/internal/domain"
)

type RedisMetricsCache struct {
	client *redis.Client
}

func NewRedisMetricsCache(addr string, password string, db int) *RedisMetricsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMetricsCache{client: client}
}

func (c *RedisMetricsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMetricsCache) Close() error {
	return c.client.Close()
}

func (c *RedisMetricsCache) Get(ctx context.Context, key string) (*domain.DashboardMetrics, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var metrics domain.DashboardMetrics
	if err := json.Unmarshal([]byte(val), &metrics); err != nil {
		return nil, false, err
	}
	return &metrics, true, nil
}

func (c *RedisMetricsCache) Set(ctx context.Context, key string, value *domain.DashboardMetrics, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
