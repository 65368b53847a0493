package lock

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/google/uuid"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a token-guarded SET NX lock shared by every registry replica.
type RedisLocker struct {
	rdb    goredis.UniversalClient
	prefix string
	log    *logger.Logger
}

func NewRedisLocker(rdb goredis.UniversalClient, prefix string, log *logger.Logger) *RedisLocker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "registry:lock:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, log: log.With("service", "RedisLocker")}
}

func (l *RedisLocker) Perform(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("redis locker not initialized")
	}
	opts = opts.normalized()
	fullKey := l.prefix + key
	token := uuid.NewString()

	if err := acquire(ctx, opts, func(ctx context.Context) (bool, error) {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, opts.TTL).Result()
		if err != nil {
			return false, fmt.Errorf("redis lock %q: %w", key, err)
		}
		return ok, nil
	}); err != nil {
		return err
	}

	stop := keepAlive(ctx, opts.TTL, func(ctx context.Context) error {
		err := extendScript.Run(ctx, l.rdb, []string{fullKey}, token, opts.TTL.Milliseconds()).Err()
		if err != nil && ctx.Err() == nil {
			l.log.Warn("lock extension failed", "key", key, "error", err)
		}
		return err
	})
	defer func() {
		stop()
		// Release on a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.RetryDelay+opts.TTL/10)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{fullKey}, token).Err(); err != nil {
			l.log.Warn("lock release failed", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}
