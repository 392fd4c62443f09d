package catalog

import (
	"time"

	"mcpreg/internal/domain"
)

// Defaults for every runtime knob. The loader seeds viper with these so a
// missing config file still yields a runnable configuration.
const (
	DefaultContainerTool         = "docker"
	DefaultRefreshIntervalHours  = 24
	DefaultRPCCallTimeoutSeconds = 30
	DefaultStopTimeoutSeconds    = 10
	DefaultSettleDelayMs         = 500
	DefaultObservabilityAddr     = "127.0.0.1:9190"
)

// Config is the normalized runtime configuration of the gateway.
type Config struct {
	CacheDir          string
	SourcesDir        string
	ContainerTool     string
	RefreshInterval   time.Duration
	RPCCallTimeout    time.Duration
	StopTimeout       time.Duration
	SettleDelay       time.Duration
	Observability     ObservabilityConfig
	Sources           map[domain.SourceType]SourceConfig
	CustomCatalogPath string
}

// ObservabilityConfig controls the optional HTTP sidecar endpoint.
type ObservabilityConfig struct {
	MetricsEnabled bool
	HealthzEnabled bool
	Addr           string
}

// SourceConfig is the per-source override block.
type SourceConfig struct {
	Enabled  bool
	Interval time.Duration
}

// SourceEnabled reports whether the source should get a refresh loop. A
// source without an explicit block is enabled.
func (c Config) SourceEnabled(src domain.SourceType) bool {
	cfg, ok := c.Sources[src]
	if !ok {
		return true
	}
	return cfg.Enabled
}

// SourceIntervals returns the per-source interval overrides for the
// scheduler, omitting sources that use the global interval.
func (c Config) SourceIntervals() map[domain.SourceType]time.Duration {
	out := make(map[domain.SourceType]time.Duration)
	for src, cfg := range c.Sources {
		if cfg.Interval > 0 {
			out[src] = cfg.Interval
		}
	}
	return out
}
