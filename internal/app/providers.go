package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/catalog"
	"mcpreg/internal/infra/gateway"
	"mcpreg/internal/infra/mount"
	"mcpreg/internal/infra/registry"
	"mcpreg/internal/infra/scheduler"
	"mcpreg/internal/infra/source"
	"mcpreg/internal/infra/supervisor"
	"mcpreg/internal/infra/telemetry"
)

// ServeConfig carries the serve command's flags. Flag values override the
// config file where set; MetricsSet and HealthzSet distinguish an explicit
// --metrics=false from the flag's default.
type ServeConfig struct {
	ConfigPath string
	CacheDir   string
	Metrics    bool
	MetricsSet bool
	Healthz    bool
	HealthzSet bool
	ObsAddr    string
}

// ValidateConfig carries the validate command's flags.
type ValidateConfig struct {
	ConfigPath string
}

func NewConfig(serve ServeConfig, logger *zap.Logger) (catalog.Config, error) {
	cfg, err := catalog.NewLoader(logger).Load(serve.ConfigPath)
	if err != nil {
		return catalog.Config{}, err
	}
	if serve.CacheDir != "" {
		cfg.CacheDir = serve.CacheDir
	}
	if serve.MetricsSet {
		cfg.Observability.MetricsEnabled = serve.Metrics
	}
	if serve.HealthzSet {
		cfg.Observability.HealthzEnabled = serve.Healthz
	}
	if serve.ObsAddr != "" {
		cfg.Observability.Addr = serve.ObsAddr
	}
	return cfg, nil
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewRegistryMetrics(registry)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewStore(cfg catalog.Config, logger *zap.Logger, metrics domain.Metrics) *registry.Store {
	return registry.NewStore(registry.Options{
		CacheDir:   cfg.CacheDir,
		SourcesDir: cfg.SourcesDir,
		Logger:     logger,
		Metrics:    metrics,
	})
}

func NewSourceCache(cfg catalog.Config, logger *zap.Logger) (*source.Cache, error) {
	cache, err := source.OpenCache(cfg.SourcesDir)
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// NewCustomSource returns the custom catalog file producer, or nil when no
// path is configured or the source is disabled.
func NewCustomSource(cfg catalog.Config, logger *zap.Logger) *source.CustomFile {
	if cfg.CustomCatalogPath == "" || !cfg.SourceEnabled(domain.SourceCustom) {
		return nil
	}
	return source.NewCustomFile(cfg.CustomCatalogPath, logger)
}

func NewScheduler(
	cfg catalog.Config,
	store *registry.Store,
	cache *source.Cache,
	custom *source.CustomFile,
	logger *zap.Logger,
	metrics domain.Metrics,
) *scheduler.Scheduler {
	sched := scheduler.New(scheduler.Options{
		Store:           store,
		Cache:           cache,
		RefreshInterval: cfg.RefreshInterval,
		PerSource:       cfg.SourceIntervals(),
		Logger:          logger,
		Metrics:         metrics,
	})
	if cfg.SourceEnabled(domain.SourceMCPOfficial) {
		sched.Register(source.NewStatic(domain.SourceMCPOfficial, source.OfficialSeed()))
	}
	if custom != nil {
		sched.Register(custom)
	}
	return sched
}

func NewProcessSupervisor(cfg catalog.Config, logger *zap.Logger) *supervisor.ProcessSupervisor {
	return supervisor.NewProcessSupervisor(supervisor.ProcessOptions{
		Logger:      logger,
		SettleDelay: cfg.SettleDelay,
		StopTimeout: cfg.StopTimeout,
	})
}

func NewProcessLauncher(s *supervisor.ProcessSupervisor) mount.ProcessLauncher {
	return s
}

// NewContainerLauncher probes the configured container tool. A missing or
// disabled tool yields a nil launcher; the gateway then serves stdio entries
// only.
func NewContainerLauncher(cfg catalog.Config, logger *zap.Logger) mount.ContainerLauncher {
	if cfg.ContainerTool == "" || cfg.ContainerTool == "none" {
		return nil
	}
	containers, err := supervisor.NewContainerSupervisor(supervisor.ContainerOptions{
		Tool:        cfg.ContainerTool,
		Logger:      logger,
		SettleDelay: cfg.SettleDelay,
		StopTimeout: cfg.StopTimeout,
	})
	if err != nil {
		logger.Warn("container tool unavailable, container entries disabled",
			zap.String("tool", cfg.ContainerTool),
			zap.Error(err),
		)
		return nil
	}
	return containers
}

func NewGateway(logger *zap.Logger) *gateway.Gateway {
	return gateway.New(gateway.Options{
		Logger:  logger,
		Version: Version,
	})
}

func NewSurface(gw *gateway.Gateway) domain.ToolSurface {
	return gw.Surface()
}

func NewClientRegistry() *mount.ClientRegistry {
	return mount.NewClientRegistry()
}

func NewEngine(
	cfg catalog.Config,
	store *registry.Store,
	processes mount.ProcessLauncher,
	containers mount.ContainerLauncher,
	surface domain.ToolSurface,
	clients *mount.ClientRegistry,
	logger *zap.Logger,
	metrics domain.Metrics,
) *mount.Engine {
	return mount.NewEngine(mount.Options{
		Store:         store,
		Processes:     processes,
		Containers:    containers,
		Surface:       surface,
		Clients:       clients,
		Logger:        logger,
		Metrics:       metrics,
		RPCTimeout:    cfg.RPCCallTimeout,
		ClientVersion: Version,
	})
}

func NewToolset(
	store *registry.Store,
	engine *mount.Engine,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *gateway.Toolset {
	return gateway.NewToolset(gateway.ToolsetOptions{
		Store:     store,
		Engine:    engine,
		Refresher: sched,
		Logger:    logger,
	})
}
