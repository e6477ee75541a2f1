package redis

import (
	"context"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
	fx.Provide(NewLocker),
)

// NewClient connects to Redis and closes the client when the app stops.
// Hooks registered later (the job runner) stop first, so in-flight jobs
// drain before the connection is released.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info("closing redis client")
			return client.Close()
		},
	})
	return client, nil
}

// NewLocker serializes work that must not run concurrently across
// processes, such as closing the same settlement period twice.
func NewLocker(client *redis.Client) *redislock.Client {
	return redislock.New(client)
}
