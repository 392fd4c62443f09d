package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/telemetry"
)

// Options configures a Store.
type Options struct {
	CacheDir   string
	SourcesDir string
	Logger     *zap.Logger
	Metrics    domain.Metrics
}

// Store owns the entry records and the active-mount table. Entry writes are
// serialized by a single mutex so index rebuild and snapshot stay consistent;
// readers work on an immutable state swapped in atomically.
type Store struct {
	cacheDir   string
	sourcesDir string
	logger     *zap.Logger
	metrics    domain.Metrics

	writeMu sync.Mutex
	state   atomic.Pointer[entryState]

	mountMu sync.Mutex
	mounts  map[string]domain.ActiveMount
	// Mounts read back from disk at startup. Their children are gone, so
	// they are diagnostic only and get pruned on the first list.
	staleMounts []domain.ActiveMount

	statusMu sync.Mutex
	statuses map[domain.SourceType]domain.SourceRefreshStatus
}

// entryState is one immutable generation of the entry set plus its index.
type entryState struct {
	byID  map[string]domain.Entry
	order []string
	index []indexRecord
}

func emptyState() *entryState {
	return &entryState{byID: make(map[string]domain.Entry)}
}

func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	s := &Store{
		cacheDir:   opts.CacheDir,
		sourcesDir: opts.SourcesDir,
		logger:     logger.Named("registry"),
		metrics:    metrics,
		mounts:     make(map[string]domain.ActiveMount),
		statuses:   make(map[domain.SourceType]domain.SourceRefreshStatus),
	}
	s.state.Store(emptyState())
	return s
}

// Add validates and upserts a single entry.
func (s *Store) Add(entry domain.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.commit([]domain.Entry{entry})
	return nil
}

// BulkAdd upserts a batch as one commit: the index is rebuilt and the
// snapshot written exactly once. Invalid entries are skipped with a warning.
// Returns the number of entries applied.
func (s *Store) BulkAdd(entries []domain.Entry) (int, error) {
	valid := make([]domain.Entry, 0, len(entries))
	for i := range entries {
		entry := entries[i]
		if err := entry.Validate(); err != nil {
			s.logger.Warn("skipping invalid entry",
				telemetry.EntryIDField(entry.ID),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, entry)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.commit(valid)
	return len(valid), nil
}

// commit builds the next entry generation, swaps it in, and persists the
// snapshot. Caller holds writeMu.
func (s *Store) commit(upserts []domain.Entry) {
	prev := s.state.Load()
	next := &entryState{
		byID:  make(map[string]domain.Entry, len(prev.byID)+len(upserts)),
		order: append([]string(nil), prev.order...),
	}
	for id, entry := range prev.byID {
		next.byID[id] = entry
	}
	for _, entry := range upserts {
		if _, exists := next.byID[entry.ID]; !exists {
			next.order = append(next.order, entry.ID)
		}
		next.byID[entry.ID] = entry
	}
	next.index = buildIndex(next)
	s.state.Store(next)

	s.publishEntryCounts(next)
	if err := s.writeEntriesSnapshot(next); err != nil {
		s.logger.Warn("entries snapshot write failed", zap.Error(err))
	}
}

func (s *Store) publishEntryCounts(state *entryState) {
	counts := make(map[domain.SourceType]int, len(domain.KnownSources))
	for _, entry := range state.byID {
		counts[entry.Source]++
	}
	for _, src := range domain.KnownSources {
		s.metrics.SetEntryCount(src, counts[src])
	}
}

// Get returns the entry for id.
func (s *Store) Get(id string) (domain.Entry, error) {
	state := s.state.Load()
	entry, ok := state.byID[id]
	if !ok {
		return domain.Entry{}, fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
	}
	return entry, nil
}

// ListAll returns up to limit entries in insertion order.
func (s *Store) ListAll(limit int) []domain.Entry {
	state := s.state.Load()
	if limit <= 0 || limit > len(state.order) {
		limit = len(state.order)
	}
	out := make([]domain.Entry, 0, limit)
	for _, id := range state.order {
		if len(out) == limit {
			break
		}
		out = append(out, state.byID[id])
	}
	return out
}

// BySource returns every entry aggregated from src, in insertion order.
func (s *Store) BySource(src domain.SourceType) []domain.Entry {
	state := s.state.Load()
	var out []domain.Entry
	for _, id := range state.order {
		if entry := state.byID[id]; entry.Source == src {
			out = append(out, entry)
		}
	}
	return out
}

// EntryCount returns the total number of entries.
func (s *Store) EntryCount() int {
	return len(s.state.Load().byID)
}

// AddMount records a new active mount. At most one mount may exist per entry
// and prefixes must be unique across mounts.
func (s *Store) AddMount(mount domain.ActiveMount) error {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()

	if _, exists := s.mounts[mount.EntryID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyActive, mount.EntryID)
	}
	for _, existing := range s.mounts {
		if existing.Prefix == mount.Prefix {
			return fmt.Errorf("%w: prefix %q already in use by %s",
				domain.ErrValidation, mount.Prefix, existing.EntryID)
		}
	}
	s.mounts[mount.EntryID] = mount.Clone()
	s.persistMountsLocked()
	return nil
}

// GetMount returns the active mount for entryID, if any.
func (s *Store) GetMount(entryID string) (domain.ActiveMount, bool) {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()
	mount, ok := s.mounts[entryID]
	if !ok {
		return domain.ActiveMount{}, false
	}
	return mount.Clone(), true
}

// MountByPrefix resolves the active mount that owns a tool-name prefix.
func (s *Store) MountByPrefix(prefix string) (domain.ActiveMount, bool) {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()
	for _, mount := range s.mounts {
		if mount.Prefix == prefix {
			return mount.Clone(), true
		}
	}
	return domain.ActiveMount{}, false
}

// RemoveMount deletes and returns the mount for entryID.
func (s *Store) RemoveMount(entryID string) (domain.ActiveMount, bool) {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()
	mount, ok := s.mounts[entryID]
	if !ok {
		return domain.ActiveMount{}, false
	}
	delete(s.mounts, entryID)
	s.persistMountsLocked()
	return mount, true
}

// ListMounts returns all active mounts. The first call discards any mounts
// read back from a previous run; their children did not survive the restart.
func (s *Store) ListMounts() []domain.ActiveMount {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()

	if len(s.staleMounts) > 0 {
		s.logger.Info("pruning stale mounts from previous run",
			zap.Int("count", len(s.staleMounts)),
		)
		s.staleMounts = nil
		s.persistMountsLocked()
	}

	out := make([]domain.ActiveMount, 0, len(s.mounts))
	for _, mount := range s.mounts {
		out = append(out, mount.Clone())
	}
	return out
}

// MountCount returns the number of live mounts.
func (s *Store) MountCount() int {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()
	return len(s.mounts)
}

// UpdateMountEnv replaces the stored environment for a mount. The new values
// apply when the mount is next restarted.
func (s *Store) UpdateMountEnv(entryID string, env map[string]string) (domain.ActiveMount, bool) {
	s.mountMu.Lock()
	defer s.mountMu.Unlock()
	mount, ok := s.mounts[entryID]
	if !ok {
		return domain.ActiveMount{}, false
	}
	merged := make(map[string]string, len(mount.Environment)+len(env))
	for k, v := range mount.Environment {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	mount.Environment = merged
	s.mounts[entryID] = mount
	s.persistMountsLocked()
	return mount.Clone(), true
}

// MarkRefreshing flags a source refresh as in progress.
func (s *Store) MarkRefreshing(src domain.SourceType) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status := s.statuses[src]
	status.Source = src
	status.State = domain.RefreshRefreshing
	now := time.Now().UTC()
	status.LastAttempt = &now
	s.statuses[src] = status
}

// MarkRefreshOK records a successful refresh with the bulk-added count.
func (s *Store) MarkRefreshOK(src domain.SourceType, count int) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status := s.statuses[src]
	status.Source = src
	status.State = domain.RefreshOK
	status.EntryCount = count
	status.ErrorMessage = ""
	now := time.Now().UTC()
	status.LastRefresh = &now
	s.statuses[src] = status
}

// MarkRefreshError records a failed refresh.
func (s *Store) MarkRefreshError(src domain.SourceType, msg string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status := s.statuses[src]
	status.Source = src
	status.State = domain.RefreshError
	status.ErrorMessage = msg
	s.statuses[src] = status
}

// SourceStatus returns the refresh status for one source.
func (s *Store) SourceStatus(src domain.SourceType) domain.SourceRefreshStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status, ok := s.statuses[src]
	if !ok {
		return domain.SourceRefreshStatus{Source: src, State: domain.RefreshUnknown}
	}
	return status
}

// IsStale reports whether src needs a refresh: never refreshed, or the
// refresh interval has elapsed since the last successful one.
func (s *Store) IsStale(src domain.SourceType, interval time.Duration) bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status, ok := s.statuses[src]
	if !ok || status.LastRefresh == nil {
		return true
	}
	return time.Since(*status.LastRefresh) >= interval
}

// Status aggregates store statistics for registry_status.
func (s *Store) Status() domain.RegistryStatus {
	out := domain.RegistryStatus{
		TotalEntries: s.EntryCount(),
		ActiveMounts: s.MountCount(),
		Sources:      make(map[domain.SourceType]domain.SourceRefreshStatus, len(domain.KnownSources)),
		CacheDir:     s.cacheDir,
		SourcesDir:   s.sourcesDir,
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for _, src := range domain.KnownSources {
		status, ok := s.statuses[src]
		if !ok {
			status = domain.SourceRefreshStatus{Source: src, State: domain.RefreshUnknown}
		}
		out.Sources[src] = status
		if status.LastAttempt != nil {
			if out.LastRefreshAttempt == nil || status.LastAttempt.After(*out.LastRefreshAttempt) {
				out.LastRefreshAttempt = status.LastAttempt
			}
		}
	}
	return out
}
