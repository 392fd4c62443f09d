package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/registry"
	"mcpreg/internal/infra/telemetry"
)

const (
	// DefaultRefreshInterval is how long a source's entries stay fresh.
	DefaultRefreshInterval = 24 * time.Hour
	// maxCheckInterval caps the staleness probe period at one hour.
	maxCheckInterval = time.Hour
	// errorBackoff is slept after a failed refresh before the next probe.
	errorBackoff = 60 * time.Second
)

// Options configures a Scheduler.
type Options struct {
	Store           *registry.Store
	Cache           SourceCacheProvider
	RefreshInterval time.Duration
	// PerSource overrides the refresh interval for individual sources.
	PerSource map[domain.SourceType]time.Duration
	Logger    *zap.Logger
	Metrics   domain.Metrics
}

// SourceCacheProvider hands each producer its private scratch area.
type SourceCacheProvider interface {
	ForSource(src domain.SourceType) domain.SourceCache
}

// Scheduler runs one refresh loop per registered source. Refreshes of the
// same source are strictly serialized by a per-source guard; different
// sources proceed independently.
type Scheduler struct {
	store    *registry.Store
	cache    SourceCacheProvider
	interval time.Duration
	logger   *zap.Logger
	metrics  domain.Metrics

	mu        sync.Mutex
	producers map[domain.SourceType]domain.Producer
	intervals map[domain.SourceType]time.Duration
	guards    map[domain.SourceType]*sync.Mutex

	group  *errgroup.Group
	cancel context.CancelFunc
}

func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	cache := opts.Cache
	if cache == nil {
		cache = nopCacheProvider{}
	}
	s := &Scheduler{
		store:     opts.Store,
		cache:     cache,
		interval:  interval,
		logger:    logger.Named("scheduler"),
		metrics:   metrics,
		producers: make(map[domain.SourceType]domain.Producer),
		intervals: make(map[domain.SourceType]time.Duration),
		guards:    make(map[domain.SourceType]*sync.Mutex),
	}
	for src, override := range opts.PerSource {
		if override > 0 {
			s.intervals[src] = override
		}
	}
	return s
}

type nopCacheProvider struct{}

func (nopCacheProvider) ForSource(domain.SourceType) domain.SourceCache {
	return domain.SourceCache(nopSourceCache{})
}

type nopSourceCache struct{}

func (nopSourceCache) Get(string) ([]byte, error) { return nil, nil }
func (nopSourceCache) Put(string, []byte) error   { return nil }

// Register adds a producer. Must be called before Start.
func (s *Scheduler) Register(producer domain.Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := producer.Source()
	s.producers[src] = producer
	if _, ok := s.guards[src]; !ok {
		s.guards[src] = &sync.Mutex{}
	}
}

// Sources lists the registered source types in registration-stable order.
func (s *Scheduler) Sources() []domain.SourceType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SourceType, 0, len(s.producers))
	for _, src := range domain.KnownSources {
		if _, ok := s.producers[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

// Start launches one refresh loop per registered source.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	group, loopCtx := errgroup.WithContext(loopCtx)
	s.cancel = cancel
	s.group = group

	for _, src := range s.Sources() {
		src := src
		group.Go(func() error {
			s.runLoop(loopCtx, src)
			return nil
		})
	}
	s.logger.Info("refresh loops started", zap.Int("sources", len(s.Sources())))
}

// Stop cancels the loops and waits for them to drain, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// sourceInterval returns the effective refresh interval for src.
func (s *Scheduler) sourceInterval(src domain.SourceType) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if override, ok := s.intervals[src]; ok {
		return override
	}
	return s.interval
}

// checkInterval is how often a loop probes for staleness: a quarter of the
// refresh interval, capped at one hour.
func (s *Scheduler) checkInterval(src domain.SourceType) time.Duration {
	check := s.sourceInterval(src) / 4
	if check > maxCheckInterval {
		check = maxCheckInterval
	}
	if check < time.Second {
		check = time.Second
	}
	return check
}

func (s *Scheduler) runLoop(ctx context.Context, src domain.SourceType) {
	logger := s.logger.With(telemetry.SourceField(src))
	for {
		if !sleepCtx(ctx, s.checkInterval(src)) {
			logger.Debug("refresh loop stopped")
			return
		}
		if !s.store.IsStale(src, s.sourceInterval(src)) {
			continue
		}
		if err := s.refreshSource(ctx, src); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("refresh failed, backing off",
				telemetry.EventField(telemetry.EventRefreshFailure),
				zap.Error(err),
			)
			if !sleepCtx(ctx, errorBackoff) {
				return
			}
		}
	}
}

// refreshSource runs one refresh cycle for src under the per-source guard.
// The bulk insert is the single commit point: a failure or cancellation
// before it leaves the store untouched.
func (s *Scheduler) refreshSource(ctx context.Context, src domain.SourceType) error {
	s.mu.Lock()
	producer, ok := s.producers[src]
	guard := s.guards[src]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no producer for source %s", domain.ErrSourceRefresh, src)
	}

	guard.Lock()
	defer guard.Unlock()

	started := time.Now()
	s.store.MarkRefreshing(src)
	s.logger.Info("refreshing source",
		telemetry.EventField(telemetry.EventRefreshAttempt),
		telemetry.SourceField(src),
	)

	entries, err := producer.Fetch(ctx, s.cache.ForSource(src))
	if err == nil {
		_, err = s.store.BulkAdd(entries)
	}
	s.metrics.ObserveRefresh(src, time.Since(started), err)
	if err != nil {
		s.store.MarkRefreshError(src, err.Error())
		return fmt.Errorf("refresh %s: %w", src, err)
	}

	s.store.MarkRefreshOK(src, len(entries))
	s.logger.Info("source refreshed",
		telemetry.EventField(telemetry.EventRefreshSuccess),
		telemetry.SourceField(src),
		zap.Int("entries", len(entries)),
		telemetry.DurationField(time.Since(started)),
	)
	return nil
}

// ForceRefresh refreshes src immediately, bypassing the staleness check but
// still serializing against the loop via the per-source guard.
func (s *Scheduler) ForceRefresh(ctx context.Context, src domain.SourceType) error {
	return s.refreshSource(ctx, src)
}

// ForceRefreshAll refreshes every registered source and reports per-source
// outcomes. One failing source does not stop the others.
func (s *Scheduler) ForceRefreshAll(ctx context.Context) map[domain.SourceType]error {
	results := make(map[domain.SourceType]error)
	for _, src := range s.Sources() {
		results[src] = s.refreshSource(ctx, src)
	}
	return results
}

// sleepCtx sleeps for d, returning false when ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
