package app

import (
	"context"
	"fmt"
	"io"

	"github.com/yungbote/schema-registry/internal/artifacts"
	"github.com/yungbote/schema-registry/internal/checkrun"
	"github.com/yungbote/schema-registry/internal/data/aggregates"
	"github.com/yungbote/schema-registry/internal/data/repos"
	"github.com/yungbote/schema-registry/internal/data/usage"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/notify"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/cache"
	"github.com/yungbote/schema-registry/internal/platform/lock"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/engine"
	"github.com/yungbote/schema-registry/internal/registry/publisher"
)

const redisKeyPrefix = "registry:"

type Services struct {
	Repos     repos.Set
	Ledger    registry.Ledger
	Publisher *publisher.Publisher

	closers []io.Closer
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	gdb := clients.DB.DB()
	set := repos.NewSet(gdb, log)
	ledger := aggregates.NewLedgerFromSet(aggregates.BaseDeps{
		DB:    gdb,
		Log:   log.Named("ledger"),
		Hooks: aggregates.NewObservabilityHooks(metrics),
	}, set)

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.LockBackend == BackendRedis {
		locker = lock.NewRedisLocker(clients.Redis, redisKeyPrefix+"lock:", log)
	}
	var resultCache cache.Cache = cache.NewMemory()
	if cfg.CacheBackend == BackendRedis {
		resultCache = cache.NewRedis(clients.Redis, redisKeyPrefix+"cache:", log)
	}
	notifier := notify.Noop()
	if cfg.NotifyBackend == BackendRedis {
		notifier = notify.NewRedisNotifier(clients.Redis, cfg.NotifyChannel, log)
	}

	var out Services
	writer, err := artifacts.New(ctx, cfg.Artifacts, log)
	if err != nil {
		return Services{}, fmt.Errorf("init artifact writer: %w", err)
	}
	if c, ok := writer.(io.Closer); ok {
		out.closers = append(out.closers, c)
	}

	reporter := checkrun.NewLogReporter(log)
	if cfg.GitHubToken != "" {
		if reporter, err = checkrun.NewGitHubReporter(checkrun.GitHubConfig{BaseURL: cfg.GitHubBaseURL, Token: cfg.GitHubToken}, log); err != nil {
			return Services{}, fmt.Errorf("init check-run reporter: %w", err)
		}
	}

	var composer engine.Engine
	switch cfg.CompositionEngine {
	case EngineHTTP:
		if composer, err = engine.NewHTTP(engine.HTTPConfig{
			Endpoint:   cfg.CompositionEndpoint,
			Secret:     cfg.CompositionSecret,
			MaxRetries: cfg.CompositionRetries,
		}, log); err != nil {
			return Services{}, fmt.Errorf("init composition engine: %w", err)
		}
	default:
		log.Warn("using the in-process composition engine")
		composer = engine.NewLocal(log)
	}

	pub, err := publisher.New(publisher.Deps{
		Targets:            set.Targets,
		Ledger:             ledger,
		Engine:             composer,
		Usage:              usage.NewStore(gdb, log),
		Locker:             locker,
		Cache:              resultCache,
		Artifacts:          writer,
		Notifier:           notifier,
		CheckRuns:          reporter,
		Log:                log.Named("publisher"),
		CompositionTimeout: cfg.CompositionTimeout,
		LockOptions:        cfg.Lock,
		DedupTTL:           cfg.DedupTTL,
	})
	if err != nil {
		return Services{}, err
	}

	out.Repos = set
	out.Ledger = ledger
	out.Publisher = pub
	return out, nil
}

func (s *Services) Close() {
	if s == nil {
		return
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
}
