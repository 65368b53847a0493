package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

// Redis shares cached results between registry replicas. It is best effort: callers get the
// loader's result even when it cannot be stored.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
	group  singleflight.Group
	log    *logger.Logger
}

func NewRedis(rdb goredis.UniversalClient, prefix string, log *logger.Logger) *Redis {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "registry:cache:"
	}
	return &Redis{rdb: rdb, prefix: prefix, log: log.With("service", "RedisCache")}
}

func (c *Redis) lookup(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return v, true, nil
}

func (c *Redis) Wrap(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	if c == nil || c.rdb == nil {
		return nil, fmt.Errorf("redis cache not initialized")
	}
	if v, ok, err := c.lookup(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok, err := c.lookup(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// Best effort. The result is already decided and dedup is an optimization, so a failed
		// write must never fail the caller's publish.
		if err := c.rdb.Set(ctx, c.prefix+key, v, ttl).Err(); err != nil {
			c.log.Warn("cache set failed", "key", key, "error", err)
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
