package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a new Redis client and checks the connection.
// An unreachable server is logged, not fatal: the client reconnects lazily and
// cache reads report the outage until it recovers.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logger.WithComponent("redis").WithField("addr", cfg.Addr)
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not reachable at startup, cache reads will report it unavailable")
		return client, nil
	}

	log.Info("Connected to Redis successfully")
	return client, nil
}
