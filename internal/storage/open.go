package storage

import (
	"context"
	"fmt"

	"github.com/VyoJ/SahayakAI/internal/config"
	"github.com/redis/go-redis/v9"
)

// Open builds the store selected by cfg.Session.Store
func Open(ctx context.Context, cfg *config.Config) (SessionStore, error) {
	switch cfg.Session.Store {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreRedis:
		return DialRedisStore(ctx, &redis.Options{
			Addr:     cfg.Redis.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, cfg.Session.TTL)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}
