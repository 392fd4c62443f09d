package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mcpreg/internal/infra/catalog"
	"mcpreg/internal/infra/source"
)

// Validate loads the config and, when configured, the custom catalog file,
// reporting problems without starting anything.
func Validate(ctx context.Context, cfg ValidateConfig, logger *zap.Logger) error {
	loaded, err := catalog.NewLoader(logger).Load(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Printf("config ok: cacheDir=%s sourcesDir=%s containerTool=%s\n",
		loaded.CacheDir, loaded.SourcesDir, loaded.ContainerTool)

	if loaded.CustomCatalogPath == "" {
		return nil
	}

	custom := source.NewCustomFile(loaded.CustomCatalogPath, logger)
	entries, err := custom.Fetch(ctx, source.NopCache{})
	if err != nil {
		return fmt.Errorf("custom catalog invalid: %w", err)
	}
	fmt.Printf("custom catalog ok: %d entries from %s\n", len(entries), loaded.CustomCatalogPath)
	return nil
}
