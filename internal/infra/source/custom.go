package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/telemetry"
)

const payloadHashKey = "payload_hash"

// watchDebounce coalesces editor save bursts into one reload.
const watchDebounce = 500 * time.Millisecond

// CustomFile produces entries from a user-maintained catalog file. The
// format is picked by extension: .yaml/.yml, .toml or .json.
type CustomFile struct {
	path   string
	logger *zap.Logger
}

func NewCustomFile(path string, logger *zap.Logger) *CustomFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomFile{path: path, logger: logger.Named("custom_source")}
}

func (c *CustomFile) Source() domain.SourceType { return domain.SourceCustom }

// customCatalog is the on-disk shape shared by all three formats.
type customCatalog struct {
	Entries []customEntry `json:"entries" yaml:"entries" toml:"entries"`
}

type customEntry struct {
	ID             string            `json:"id" yaml:"id" toml:"id"`
	Name           string            `json:"name" yaml:"name" toml:"name"`
	Description    string            `json:"description" yaml:"description" toml:"description"`
	RepoURL        string            `json:"repo_url" yaml:"repo_url" toml:"repo_url"`
	ContainerImage string            `json:"container_image" yaml:"container_image" toml:"container_image"`
	Categories     []string          `json:"categories" yaml:"categories" toml:"categories"`
	Tags           []string          `json:"tags" yaml:"tags" toml:"tags"`
	Official       bool              `json:"official" yaml:"official" toml:"official"`
	Featured       bool              `json:"featured" yaml:"featured" toml:"featured"`
	RequiresAPIKey bool              `json:"requires_api_key" yaml:"requires_api_key" toml:"requires_api_key"`
	LaunchMethod   string            `json:"launch_method" yaml:"launch_method" toml:"launch_method"`
	Command        string            `json:"command" yaml:"command" toml:"command"`
	Args           []string          `json:"args" yaml:"args" toml:"args"`
	Env            map[string]string `json:"env" yaml:"env" toml:"env"`
}

// Fetch reads and parses the catalog file. Entries that fail validation are
// reported as issues and skipped; the remainder is returned. The raw payload
// hash is stored in the scratch cache so unchanged reloads are visible in
// the logs.
func (c *CustomFile) Fetch(ctx context.Context, scratch domain.SourceCache) ([]domain.Entry, error) {
	if c.path == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read custom catalog: %v", domain.ErrSourceRefresh, err)
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	if previous, err := scratch.Get(payloadHashKey); err == nil && string(previous) == hash {
		c.logger.Debug("custom catalog unchanged since last refresh")
	}

	catalog, err := decodeCatalog(c.path, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceRefresh, err)
	}

	now := time.Now().UTC()
	entries := make([]domain.Entry, 0, len(catalog.Entries))
	for i, item := range catalog.Entries {
		entry := c.normalize(item, now)
		if err := entry.Validate(); err != nil {
			c.logger.Warn("skipping custom catalog entry",
				zap.Int("index", i),
				telemetry.EntryIDField(item.ID),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, entry)
	}

	if err := scratch.Put(payloadHashKey, []byte(hash)); err != nil {
		c.logger.Warn("payload hash store failed", zap.Error(err))
	}
	return entries, nil
}

func decodeCatalog(path string, raw []byte) (customCatalog, error) {
	var catalog customCatalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &catalog); err != nil {
			return catalog, fmt.Errorf("parse yaml catalog: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &catalog); err != nil {
			return catalog, fmt.Errorf("parse toml catalog: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(raw, &catalog); err != nil {
			return catalog, fmt.Errorf("parse json catalog: %w", err)
		}
	default:
		return catalog, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	return catalog, nil
}

func (c *CustomFile) normalize(item customEntry, now time.Time) domain.Entry {
	entry := domain.Entry{
		ID:             item.ID,
		Name:           item.Name,
		Description:    item.Description,
		Source:         domain.SourceCustom,
		RepoURL:        item.RepoURL,
		ContainerImage: item.ContainerImage,
		Categories:     item.Categories,
		Tags:           item.Tags,
		Official:       item.Official,
		Featured:       item.Featured,
		RequiresAPIKey: item.RequiresAPIKey,
		LaunchMethod:   domain.LaunchMethod(item.LaunchMethod),
		LastRefreshed:  now,
		AddedAt:        now,
	}
	if entry.Name == "" {
		entry.Name = entry.ID
	}
	if entry.LaunchMethod == "" {
		switch {
		case item.Command != "":
			entry.LaunchMethod = domain.LaunchStdio
		case item.ContainerImage != "":
			entry.LaunchMethod = domain.LaunchContainer
		}
	}
	if item.Command != "" {
		entry.ServerCommand = &domain.ServerCommand{
			Command: item.Command,
			Args:    item.Args,
			Env:     item.Env,
		}
	}
	return entry
}

// Watch reports file changes through onChange until ctx is done. Events are
// debounced so one save triggers one reload.
func (c *CustomFile) Watch(ctx context.Context, onChange func()) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save, which
	// drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(c.path), err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		target := filepath.Clean(c.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					c.logger.Info("custom catalog changed", zap.String("path", c.path))
					onChange()
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("catalog watch error", zap.Error(err))
			}
		}
	}()
	return nil
}
