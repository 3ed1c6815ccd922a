package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/bilheteria/backend/internal/config"
)

// NewRedis connects the Redis client used for the reconciliation
// lease, the JWT blacklist and the checkout QR cache.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return rdb, nil
}
