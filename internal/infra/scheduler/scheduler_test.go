package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/registry"
)

type fakeProducer struct {
	source  domain.SourceType
	mu      sync.Mutex
	entries []domain.Entry
	err     error
	calls   atomic.Int32
	// When set, Fetch blocks until released, to observe serialization.
	block chan struct{}
}

func (f *fakeProducer) Source() domain.SourceType { return f.source }

func (f *fakeProducer) Fetch(ctx context.Context, _ domain.SourceCache) ([]domain.Entry, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Entry(nil), f.entries...), nil
}

func (f *fakeProducer) setResult(entries []domain.Entry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
	f.err = err
}

func dockerEntries() []domain.Entry {
	return []domain.Entry{
		{ID: "docker/one", Name: "One", Source: domain.SourceDocker},
		{ID: "docker/two", Name: "Two", Source: domain.SourceDocker},
		{ID: "docker/three", Name: "Three", Source: domain.SourceDocker},
	}
}

func newTestScheduler(t *testing.T, producers ...domain.Producer) (*Scheduler, *registry.Store) {
	t.Helper()
	store := registry.NewStore(registry.Options{CacheDir: t.TempDir(), Logger: zap.NewNop()})
	require.NoError(t, store.Load())
	sched := New(Options{Store: store, Logger: zap.NewNop()})
	for _, producer := range producers {
		sched.Register(producer)
	}
	return sched, store
}

func TestForceRefreshIdempotence(t *testing.T) {
	producer := &fakeProducer{source: domain.SourceDocker, entries: dockerEntries()}
	sched, store := newTestScheduler(t, producer)
	ctx := context.Background()

	require.NoError(t, sched.ForceRefresh(ctx, domain.SourceDocker))
	first := store.SourceStatus(domain.SourceDocker)
	require.NotNil(t, first.LastRefresh)
	assert.Equal(t, 3, first.EntryCount)
	assert.Equal(t, 3, store.EntryCount())

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sched.ForceRefresh(ctx, domain.SourceDocker))
	second := store.SourceStatus(domain.SourceDocker)
	require.NotNil(t, second.LastRefresh)

	// No duplicate ids, the count holds, and last_refresh advanced.
	assert.Equal(t, 3, store.EntryCount())
	assert.Equal(t, 3, second.EntryCount)
	assert.True(t, second.LastRefresh.After(*first.LastRefresh))
}

func TestRefreshErrorRecordsStatusAndKeepsEntries(t *testing.T) {
	producer := &fakeProducer{source: domain.SourceDocker, entries: dockerEntries()}
	sched, store := newTestScheduler(t, producer)
	ctx := context.Background()

	require.NoError(t, sched.ForceRefresh(ctx, domain.SourceDocker))
	producer.setResult(nil, errors.New("scrape blew up"))

	err := sched.ForceRefresh(ctx, domain.SourceDocker)
	require.Error(t, err)

	status := store.SourceStatus(domain.SourceDocker)
	assert.Equal(t, domain.RefreshError, status.State)
	assert.Contains(t, status.ErrorMessage, "scrape blew up")
	// The failed cycle must not half-update the store.
	assert.Equal(t, 3, store.EntryCount())
}

func TestForceRefreshUnknownSource(t *testing.T) {
	sched, _ := newTestScheduler(t)
	err := sched.ForceRefresh(context.Background(), domain.SourceDocker)
	assert.ErrorIs(t, err, domain.ErrSourceRefresh)
}

func TestSameSourceRefreshesAreSerialized(t *testing.T) {
	producer := &fakeProducer{
		source:  domain.SourceDocker,
		entries: dockerEntries(),
		block:   make(chan struct{}),
	}
	sched, _ := newTestScheduler(t, producer)
	ctx := context.Background()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = sched.ForceRefresh(ctx, domain.SourceDocker)
	}()
	<-started
	// Wait for the first fetch to be in flight.
	require.Eventually(t, func() bool { return producer.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan struct{})
	go func() {
		_ = sched.ForceRefresh(ctx, domain.SourceDocker)
		close(second)
	}()

	// The second refresh must queue behind the guard, not fetch concurrently.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), producer.calls.Load())

	close(producer.block)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second refresh never completed")
	}
	assert.Equal(t, int32(2), producer.calls.Load())
}

func TestForceRefreshAllReportsPerSource(t *testing.T) {
	good := &fakeProducer{source: domain.SourceDocker, entries: dockerEntries()}
	bad := &fakeProducer{source: domain.SourceAwesome, err: errors.New("down")}
	sched, _ := newTestScheduler(t, good, bad)

	results := sched.ForceRefreshAll(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results[domain.SourceDocker])
	assert.Error(t, results[domain.SourceAwesome])
}

func TestLoopRefreshesStaleSource(t *testing.T) {
	producer := &fakeProducer{source: domain.SourceDocker, entries: dockerEntries()}
	store := registry.NewStore(registry.Options{CacheDir: t.TempDir(), Logger: zap.NewNop()})
	require.NoError(t, store.Load())
	sched := New(Options{
		Store:           store,
		RefreshInterval: 40 * time.Millisecond,
		Logger:          zap.NewNop(),
	})
	sched.Register(producer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		return store.SourceStatus(domain.SourceDocker).State == domain.RefreshOK
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, sched.Stop(stopCtx))
}

func TestCheckIntervalFormula(t *testing.T) {
	sched := New(Options{Store: nil, RefreshInterval: 24 * time.Hour, Logger: zap.NewNop()})
	assert.Equal(t, time.Hour, sched.checkInterval(domain.SourceDocker))

	sched = New(Options{Store: nil, RefreshInterval: 2 * time.Hour, Logger: zap.NewNop()})
	assert.Equal(t, 30*time.Minute, sched.checkInterval(domain.SourceDocker))

	sched = New(Options{
		Store:           nil,
		RefreshInterval: 24 * time.Hour,
		PerSource:       map[domain.SourceType]time.Duration{domain.SourceCustom: 8 * time.Minute},
		Logger:          zap.NewNop(),
	})
	assert.Equal(t, 2*time.Minute, sched.checkInterval(domain.SourceCustom))
	assert.Equal(t, time.Hour, sched.checkInterval(domain.SourceDocker))
}
