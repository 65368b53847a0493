package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/schema-registry/internal/http"
	httpH "github.com/yungbote/schema-registry/internal/http/handlers"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics
	Server   *http.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "schema-registry",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log, cfg.MetricsEnabled)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	services, err := wireServices(ctx, log, cfg, clients, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	sqlDB, err := clients.DB.DB().DB()
	if err != nil {
		services.Close()
		clients.Close()
		log.Sync()
		return nil, fmt.Errorf("access sql pool: %w", err)
	}
	server := http.NewServer(":"+cfg.Port, http.RouterConfig{
		Log:             log,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         metrics,
		HealthHandler:   httpH.NewHealthHandler(sqlDB),
		RegistryHandler: httpH.NewRegistryHandler(log, services.Publisher),
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Services:     services,
		Metrics:      metrics,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves until ctx ends, then drains in-flight requests and detached side effects.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		if a.Clients.Redis != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
		}
		a.Metrics.StartSLOEvaluator(ctx, a.Log, a.Cfg.SLO)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "port", a.Cfg.Port)
		errCh <- a.Server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.Server.Shutdown(shutdownCtx)
	if waitErr := a.Services.Publisher.Wait(shutdownCtx); waitErr != nil {
		a.Log.Warn("side effects still running at shutdown", "error", waitErr)
	}
	return errors.Join(err, <-errCh)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Services.Close()
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
