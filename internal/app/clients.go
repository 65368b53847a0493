package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/schema-registry/internal/clients/redis"
	"github.com/yungbote/schema-registry/internal/data/db"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type Clients struct {
	DB    *db.Service
	Redis *goredis.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	database, err := db.NewService(cfg.Database, log)
	if err != nil {
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	if err := database.AutoMigrateAll(); err != nil {
		_ = database.Close()
		return Clients{}, fmt.Errorf("database automigrate: %w", err)
	}

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redis.NewClient(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			_ = database.Close()
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
	}

	return Clients{DB: database, Redis: rdb}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
