package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/telemetry"
)

const (
	entriesSnapshotFile = "entries.json"
	mountsSnapshotFile  = "mounts.json"
)

type entriesSnapshot struct {
	Entries   []domain.Entry `json:"entries"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type mountsSnapshot struct {
	Mounts    []domain.ActiveMount `json:"mounts"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Load reads the on-disk snapshots into the store. Entries that fail
// validation are skipped with a warning. Mounts are loaded as stale
// diagnostics only; their children did not survive the restart.
func (s *Store) Load() error {
	if s.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	if err := s.loadEntries(); err != nil {
		return err
	}
	if err := s.loadMounts(); err != nil {
		return err
	}
	return nil
}

func (s *Store) loadEntries() error {
	raw, err := os.ReadFile(filepath.Join(s.cacheDir, entriesSnapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read entries snapshot: %w", err)
	}

	var snapshot entriesSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("decode entries snapshot: %w", err)
	}

	valid := make([]domain.Entry, 0, len(snapshot.Entries))
	for i := range snapshot.Entries {
		entry := snapshot.Entries[i]
		if err := entry.Validate(); err != nil {
			s.logger.Warn("skipping invalid snapshot entry",
				telemetry.EntryIDField(entry.ID),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, entry)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := emptyState()
	for _, entry := range valid {
		if _, exists := next.byID[entry.ID]; !exists {
			next.order = append(next.order, entry.ID)
		}
		next.byID[entry.ID] = entry
	}
	next.index = buildIndex(next)
	s.state.Store(next)
	s.publishEntryCounts(next)

	s.logger.Info("entries snapshot loaded",
		zap.Int("entries", len(valid)),
		zap.Int("skipped", len(snapshot.Entries)-len(valid)),
	)
	return nil
}

func (s *Store) loadMounts() error {
	raw, err := os.ReadFile(filepath.Join(s.cacheDir, mountsSnapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mounts snapshot: %w", err)
	}

	var snapshot mountsSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("decode mounts snapshot: %w", err)
	}

	s.mountMu.Lock()
	defer s.mountMu.Unlock()
	s.staleMounts = snapshot.Mounts
	if len(snapshot.Mounts) > 0 {
		s.logger.Info("found mounts from previous run; children are gone, kept for inspection only",
			zap.Int("count", len(snapshot.Mounts)),
		)
	}
	return nil
}

// Flush writes both snapshots. Called during shutdown.
func (s *Store) Flush() error {
	s.writeMu.Lock()
	err := s.writeEntriesSnapshot(s.state.Load())
	s.writeMu.Unlock()

	s.mountMu.Lock()
	s.persistMountsLocked()
	s.mountMu.Unlock()
	return err
}

func (s *Store) writeEntriesSnapshot(state *entryState) error {
	if s.cacheDir == "" {
		return nil
	}
	snapshot := entriesSnapshot{
		Entries:   make([]domain.Entry, 0, len(state.order)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, id := range state.order {
		snapshot.Entries = append(snapshot.Entries, state.byID[id])
	}
	return writeJSONAtomic(filepath.Join(s.cacheDir, entriesSnapshotFile), snapshot)
}

// persistMountsLocked writes mounts.json best-effort. Caller holds mountMu.
func (s *Store) persistMountsLocked() {
	if s.cacheDir == "" {
		return
	}
	snapshot := mountsSnapshot{
		Mounts:    make([]domain.ActiveMount, 0, len(s.mounts)+len(s.staleMounts)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, mount := range s.mounts {
		snapshot.Mounts = append(snapshot.Mounts, mount)
	}
	snapshot.Mounts = append(snapshot.Mounts, s.staleMounts...)
	if err := writeJSONAtomic(filepath.Join(s.cacheDir, mountsSnapshotFile), snapshot); err != nil {
		s.logger.Warn("mounts snapshot write failed", zap.Error(err))
	}
}

// writeJSONAtomic writes via a temp file and rename so readers never observe
// a partial snapshot.
func writeJSONAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
