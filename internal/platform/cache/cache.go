package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Loader produces the value cached under a key on a miss.
type Loader func(ctx context.Context) ([]byte, error)

// Cache memoizes loader results for a short ttl. Concurrent misses on one key share a single load.
type Cache interface {
	Wrap(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error)
}

// WrapJSON is Wrap for JSON-encodable values.
func WrapJSON[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.Wrap(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
