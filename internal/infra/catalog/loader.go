package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
)

// Loader reads the YAML config file, applies defaults and ${ENV} expansion,
// and normalizes the result into a Config.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cacheDir", defaultCacheDir())
	v.SetDefault("sourcesDir", defaultSourcesDir())
	v.SetDefault("containerTool", DefaultContainerTool)
	v.SetDefault("refreshIntervalHours", DefaultRefreshIntervalHours)
	v.SetDefault("rpcCallTimeoutSeconds", DefaultRPCCallTimeoutSeconds)
	v.SetDefault("stopTimeoutSeconds", DefaultStopTimeoutSeconds)
	v.SetDefault("settleDelayMs", DefaultSettleDelayMs)
	v.SetDefault("observability.metricsEnabled", false)
	v.SetDefault("observability.healthzEnabled", false)
	v.SetDefault("observability.addr", DefaultObservabilityAddr)
	v.SetDefault("customCatalogPath", "")
}

type rawConfig struct {
	CacheDir              string                     `mapstructure:"cacheDir"`
	SourcesDir            string                     `mapstructure:"sourcesDir"`
	ContainerTool         string                     `mapstructure:"containerTool"`
	RefreshIntervalHours  int                        `mapstructure:"refreshIntervalHours"`
	RPCCallTimeoutSeconds int                        `mapstructure:"rpcCallTimeoutSeconds"`
	StopTimeoutSeconds    int                        `mapstructure:"stopTimeoutSeconds"`
	SettleDelayMs         int                        `mapstructure:"settleDelayMs"`
	Observability         rawObservability           `mapstructure:"observability"`
	Sources               map[string]rawSourceConfig `mapstructure:"sources"`
	CustomCatalogPath     string                     `mapstructure:"customCatalogPath"`
}

type rawObservability struct {
	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	HealthzEnabled bool   `mapstructure:"healthzEnabled"`
	Addr           string `mapstructure:"addr"`
}

type rawSourceConfig struct {
	Enabled       *bool `mapstructure:"enabled"`
	IntervalHours int   `mapstructure:"intervalHours"`
}

// Load reads the config at path. An empty path or a missing file yields the
// defaults.
func (l *Loader) Load(path string) (Config, error) {
	v := newConfigViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
			l.logger.Info("config file not found, using defaults", zap.String("path", path))
		} else {
			expanded, missing, err := expandConfigEnv(data)
			if err != nil {
				return Config{}, err
			}
			if len(missing) > 0 {
				l.logger.Warn("missing environment variables in config",
					zap.String("path", path),
					zap.Strings("missing", missing),
				)
			}
			if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return normalize(raw)
}

func normalize(raw rawConfig) (Config, error) {
	var problems []string

	tool := strings.ToLower(strings.TrimSpace(raw.ContainerTool))
	switch tool {
	case "docker", "podman", "none":
	default:
		problems = append(problems, fmt.Sprintf("containerTool: %q is not docker, podman or none", raw.ContainerTool))
	}
	if raw.RefreshIntervalHours <= 0 {
		problems = append(problems, "refreshIntervalHours must be > 0")
	}
	if raw.RPCCallTimeoutSeconds <= 0 {
		problems = append(problems, "rpcCallTimeoutSeconds must be > 0")
	}
	if raw.StopTimeoutSeconds <= 0 {
		problems = append(problems, "stopTimeoutSeconds must be > 0")
	}
	if raw.SettleDelayMs < 0 {
		problems = append(problems, "settleDelayMs must be >= 0")
	}

	sources := make(map[domain.SourceType]SourceConfig, len(raw.Sources))
	for name, cfg := range raw.Sources {
		src, err := domain.ParseSourceType(name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("sources.%s: unknown source", name))
			continue
		}
		enabled := true
		if cfg.Enabled != nil {
			enabled = *cfg.Enabled
		}
		sources[src] = SourceConfig{
			Enabled:  enabled,
			Interval: time.Duration(cfg.IntervalHours) * time.Hour,
		}
	}

	if len(problems) > 0 {
		return Config{}, errors.New(strings.Join(problems, "; "))
	}

	return Config{
		CacheDir:          raw.CacheDir,
		SourcesDir:        raw.SourcesDir,
		ContainerTool:     tool,
		RefreshInterval:   time.Duration(raw.RefreshIntervalHours) * time.Hour,
		RPCCallTimeout:    time.Duration(raw.RPCCallTimeoutSeconds) * time.Second,
		StopTimeout:       time.Duration(raw.StopTimeoutSeconds) * time.Second,
		SettleDelay:       time.Duration(raw.SettleDelayMs) * time.Millisecond,
		Observability:     ObservabilityConfig(raw.Observability),
		Sources:           sources,
		CustomCatalogPath: raw.CustomCatalogPath,
	}, nil
}

func defaultCacheDir() string {
	return filepath.Join(userDataDir(), "mcp-registry", "cache")
}

func defaultSourcesDir() string {
	return filepath.Join(userDataDir(), "mcp-registry", "sources")
}

func userDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
