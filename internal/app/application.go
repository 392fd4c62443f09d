package app

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/catalog"
	"mcpreg/internal/infra/gateway"
	"mcpreg/internal/infra/mount"
	"mcpreg/internal/infra/registry"
	"mcpreg/internal/infra/scheduler"
	"mcpreg/internal/infra/source"
	"mcpreg/internal/infra/telemetry"
)

const shutdownTimeout = 15 * time.Second

// Application bundles the wired gateway and owns startup/shutdown order.
type Application struct {
	logger    *zap.Logger
	cfg       catalog.Config
	store     *registry.Store
	cache     *source.Cache
	custom    *source.CustomFile
	scheduler *scheduler.Scheduler
	engine    *mount.Engine
	gateway   *gateway.Gateway
	health    *telemetry.HealthTracker
	prom      *prometheus.Registry
}

func NewApplication(
	cfg catalog.Config,
	logger *zap.Logger,
	store *registry.Store,
	cache *source.Cache,
	custom *source.CustomFile,
	sched *scheduler.Scheduler,
	engine *mount.Engine,
	gw *gateway.Gateway,
	tools *gateway.Toolset,
	health *telemetry.HealthTracker,
	prom *prometheus.Registry,
) *Application {
	gw.BindTools(tools)
	return &Application{
		logger:    logger.Named("app"),
		cfg:       cfg,
		store:     store,
		cache:     cache,
		custom:    custom,
		scheduler: sched,
		engine:    engine,
		gateway:   gw,
		health:    health,
		prom:      prom,
	}
}

// Run serves until ctx is cancelled or the upstream client disconnects.
// Shutdown order: scheduler, mounts (tools then rpc then children), snapshot.
func (a *Application) Run(ctx context.Context) error {
	if err := a.store.Load(); err != nil {
		a.logger.Warn("load snapshots", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Observability.MetricsEnabled || a.cfg.Observability.HealthzEnabled {
		go func() {
			err := telemetry.StartHTTPServer(runCtx, telemetry.HTTPServerOptions{
				Addr:          a.cfg.Observability.Addr,
				EnableMetrics: a.cfg.Observability.MetricsEnabled,
				EnableHealthz: a.cfg.Observability.HealthzEnabled,
				Health:        a.health,
				Registry:      a.prom,
			}, a.logger)
			a.health.SetComponent("observability", err)
			if err != nil {
				a.logger.Warn("observability server stopped", zap.Error(err))
			}
		}()
	}

	a.scheduler.Start(runCtx)
	a.health.SetComponent("scheduler", nil)

	if a.custom != nil {
		go func() {
			err := a.custom.Watch(runCtx, func() {
				if err := a.scheduler.ForceRefresh(runCtx, domain.SourceCustom); err != nil {
					a.logger.Warn("custom catalog refresh", zap.Error(err))
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("custom catalog watch stopped", zap.Error(err))
			}
		}()
	}

	a.logger.Info("gateway ready",
		zap.String("cache_dir", a.cfg.CacheDir),
		zap.String("container_tool", a.cfg.ContainerTool),
	)
	err := a.gateway.Run(runCtx)
	cancel()
	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("stop scheduler", zap.Error(err))
	}
	a.engine.Shutdown(shutdownCtx)
	if err := a.store.Flush(); err != nil {
		a.logger.Warn("flush snapshots", zap.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("close source cache", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}
