package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type outcome struct {
	Conclusion string `json:"conclusion"`
	Version    int    `json:"version"`
}

func TestMemoryWrapLoadsOncePerKey(t *testing.T) {
	c := NewMemory()
	var loads int32
	release := make(chan struct{})
	load := func(ctx context.Context) (outcome, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return outcome{Conclusion: "accept", Version: 1}, nil
	}

	var wg sync.WaitGroup
	results := make([]outcome, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := WrapJSON(context.Background(), c, "publish:abc", time.Minute, load)
			if err != nil {
				t.Errorf("WrapJSON: %v", err)
			}
			results[i] = out
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, r := range results {
		require.Equal(t, outcome{Conclusion: "accept", Version: 1}, r)
	}

	// Later calls within ttl are served from the cache.
	out, err := WrapJSON(context.Background(), c, "publish:abc", time.Minute, load)
	require.NoError(t, err)
	require.Equal(t, 1, out.Version)
	require.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestMemoryWrapExpires(t *testing.T) {
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	n := 0
	load := func(ctx context.Context) ([]byte, error) {
		n++
		return []byte{byte(n)}, nil
	}
	v, err := c.Wrap(context.Background(), "k", 15*time.Second, load)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)

	now = now.Add(14 * time.Second)
	v, _ = c.Wrap(context.Background(), "k", 15*time.Second, load)
	require.Equal(t, []byte{1}, v)

	now = now.Add(2 * time.Second)
	v, _ = c.Wrap(context.Background(), "k", 15*time.Second, load)
	require.Equal(t, []byte{2}, v)
}

func TestMemoryWrapDoesNotCacheErrors(t *testing.T) {
	c := NewMemory()
	boom := errors.New("boom")
	_, err := c.Wrap(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	v, err := c.Wrap(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	require.Equal(t, "ok", string(v))
}

// readOnlyRedis answers every GET with a miss and fails every SET, without a server.
type readOnlyRedis struct{}

func (readOnlyRedis) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (readOnlyRedis) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		switch cmd.Name() {
		case "get":
			cmd.SetErr(goredis.Nil)
			return goredis.Nil
		case "set":
			err := errors.New("READONLY You can't write against a read only replica.")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (readOnlyRedis) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func TestRedisWrapSurvivesFailedWrites(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	rdb.AddHook(readOnlyRedis{})
	c := NewRedis(rdb, "", logger.Nop())

	loads := 0
	load := func(ctx context.Context) (outcome, error) {
		loads++
		return outcome{Conclusion: "accept", Version: loads}, nil
	}
	for i := 1; i <= 2; i++ {
		out, err := WrapJSON(context.Background(), c, "publish:abc", time.Minute, load)
		require.NoError(t, err)
		require.Equal(t, outcome{Conclusion: "accept", Version: i}, out)
	}
	require.Equal(t, 2, loads, "nothing was stored, so every call loads")
}

func TestRedisWrap(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis cache tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()
	key := "k-" + time.Now().Format(time.RFC3339Nano)
	c := NewRedis(rdb, "test:cache:", logger.Nop())

	loads := 0
	load := func(ctx context.Context) ([]byte, error) {
		loads++
		return []byte("v"), nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.Wrap(context.Background(), key, time.Minute, load)
		require.NoError(t, err)
		require.Equal(t, "v", string(v))
	}
	require.Equal(t, 1, loads)
}
