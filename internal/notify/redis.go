package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type redisNotifier struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string
}

func NewRedisNotifier(rdb goredis.UniversalClient, channel string, log *logger.Logger) Notifier {
	ch := strings.TrimSpace(channel)
	if ch == "" {
		ch = "registry.schema"
	}
	return &redisNotifier{log: log.With("service", "RedisNotifier"), rdb: rdb, channel: ch}
}

func (n *redisNotifier) Notify(ctx context.Context, ev Event) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("redis notifier not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}

// Subscribe forwards events on channel to onEvent until ctx is done.
func Subscribe(ctx context.Context, rdb goredis.UniversalClient, channel string, log *logger.Logger, onEvent func(Event)) error {
	if rdb == nil {
		return fmt.Errorf("redis client required")
	}
	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn("dropping malformed notification", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
