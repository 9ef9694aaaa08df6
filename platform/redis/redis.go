// Package redis provides Redis connection infrastructure.
// This is part of the platform layer and contains no business logic.
package redis

import (
	"context"
	"fmt"

	"ats_backend/platform/config"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses REDIS_URL, opens a client and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
