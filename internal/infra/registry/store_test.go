package registry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(Options{
		CacheDir: t.TempDir(),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, store.Load())
	return store
}

func testEntry(id string, src domain.SourceType) domain.Entry {
	return domain.Entry{
		ID:          id,
		Name:        id,
		Description: "a test server",
		Source:      src,
	}
}

func TestStoreAddAndGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Add(testEntry("docker/sqlite", domain.SourceDocker)))

	entry, err := store.Get("docker/sqlite")
	require.NoError(t, err)
	assert.Equal(t, "docker/sqlite", entry.ID)
	assert.False(t, entry.AddedAt.IsZero())

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestStoreAddRejectsInvalidEntry(t *testing.T) {
	store := newTestStore(t)

	err := store.Add(domain.Entry{ID: "Bad ID!", Name: "bad", Source: domain.SourceCustom})
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = store.Add(domain.Entry{
		ID:             "ok/entry",
		Name:           "ok",
		Source:         domain.SourceCustom,
		ContainerImage: "noseparator",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStoreAddIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	entry := testEntry("docker/sqlite", domain.SourceDocker)

	require.NoError(t, store.Add(entry))
	require.NoError(t, store.Add(entry))

	assert.Equal(t, 1, store.EntryCount())
	assert.Len(t, store.ListAll(0), 1)
}

func TestStoreBulkAddSkipsInvalid(t *testing.T) {
	store := newTestStore(t)

	count, err := store.BulkAdd([]domain.Entry{
		testEntry("docker/one", domain.SourceDocker),
		{ID: "", Name: "broken", Source: domain.SourceDocker},
		testEntry("docker/two", domain.SourceDocker),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, store.EntryCount())
}

func TestStoreBySourceAndListLimit(t *testing.T) {
	store := newTestStore(t)
	_, err := store.BulkAdd([]domain.Entry{
		testEntry("docker/one", domain.SourceDocker),
		testEntry("custom/two", domain.SourceCustom),
		testEntry("docker/three", domain.SourceDocker),
	})
	require.NoError(t, err)

	docker := store.BySource(domain.SourceDocker)
	require.Len(t, docker, 2)
	assert.Equal(t, "docker/one", docker[0].ID)
	assert.Equal(t, "docker/three", docker[1].ID)

	assert.Len(t, store.ListAll(2), 2)
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(Options{CacheDir: dir, Logger: zap.NewNop()})
	require.NoError(t, store.Load())

	entry := testEntry("docker/sqlite", domain.SourceDocker)
	entry.Categories = []string{"database", "sql"}
	entry.Tags = []string{"sqlite"}
	entry.ContainerImage = "docker.io/mcp/sqlite"
	entry.Official = true
	require.NoError(t, store.Add(entry))

	reloaded := NewStore(Options{CacheDir: dir, Logger: zap.NewNop()})
	require.NoError(t, reloaded.Load())

	want, err := store.Get("docker/sqlite")
	require.NoError(t, err)
	got, err := reloaded.Get("docker/sqlite")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entry mismatch after reload (-want +got):\n%s", diff)
	}
}

func TestStoreSnapshotSkipsInvalidEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(Options{CacheDir: dir, Logger: zap.NewNop()})
	require.NoError(t, store.Load())
	require.NoError(t, store.Add(testEntry("good/entry", domain.SourceCustom)))

	// Corrupt one entry in place: an empty source fails validation on load.
	broken := testEntry("bad/entry", domain.SourceCustom)
	broken.Source = ""
	state := store.state.Load()
	next := &entryState{
		byID:  map[string]domain.Entry{"good/entry": state.byID["good/entry"], "bad/entry": broken},
		order: []string{"good/entry", "bad/entry"},
	}
	require.NoError(t, store.writeEntriesSnapshot(next))

	reloaded := NewStore(Options{CacheDir: dir, Logger: zap.NewNop()})
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 1, reloaded.EntryCount())
	_, err := reloaded.Get("bad/entry")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func testMount(entryID, prefix string) domain.ActiveMount {
	return domain.ActiveMount{
		EntryID:   entryID,
		Name:      entryID,
		Prefix:    prefix,
		PID:       4242,
		ClientID:  "client-1",
		MountedAt: time.Now().UTC(),
	}
}

func TestStoreMountLifecycle(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddMount(testMount("docker/sqlite", "sqlite")))

	mount, ok := store.GetMount("docker/sqlite")
	require.True(t, ok)
	assert.Equal(t, "sqlite", mount.Prefix)
	assert.Equal(t, "client-1", mount.ClientID)

	byPrefix, ok := store.MountByPrefix("sqlite")
	require.True(t, ok)
	assert.Equal(t, "docker/sqlite", byPrefix.EntryID)

	err := store.AddMount(testMount("docker/sqlite", "other"))
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	err = store.AddMount(testMount("docker/other", "sqlite"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	removed, ok := store.RemoveMount("docker/sqlite")
	require.True(t, ok)
	assert.Equal(t, "docker/sqlite", removed.EntryID)

	_, ok = store.RemoveMount("docker/sqlite")
	assert.False(t, ok)
}

func TestStoreUpdateMountEnv(t *testing.T) {
	store := newTestStore(t)
	mount := testMount("docker/sqlite", "sqlite")
	mount.Environment = map[string]string{"API_KEY": "old"}
	require.NoError(t, store.AddMount(mount))

	updated, ok := store.UpdateMountEnv("docker/sqlite", map[string]string{
		"API_KEY":      "new",
		"GITHUB_TOKEN": "tok",
	})
	require.True(t, ok)
	assert.Equal(t, "new", updated.Environment["API_KEY"])
	assert.Equal(t, "tok", updated.Environment["GITHUB_TOKEN"])

	_, ok = store.UpdateMountEnv("missing", nil)
	assert.False(t, ok)
}

func TestStorePrunesStaleMountsOnFirstList(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(Options{CacheDir: dir, Logger: zap.NewNop()})
	require.NoError(t, store.Load())
	require.NoError(t, store.AddMount(testMount("docker/sqlite", "sqlite")))

	reloaded := NewStore(Options{CacheDir: dir, Logger: zap.NewNop()})
	require.NoError(t, reloaded.Load())

	// Persisted mounts are diagnostic only: the child process is gone, so
	// the first list starts from a clean slate.
	assert.Empty(t, reloaded.ListMounts())
	_, ok := reloaded.GetMount("docker/sqlite")
	assert.False(t, ok)
}

func TestStoreRefreshStatusTransitions(t *testing.T) {
	store := newTestStore(t)

	status := store.SourceStatus(domain.SourceDocker)
	assert.Equal(t, domain.RefreshUnknown, status.State)
	assert.True(t, store.IsStale(domain.SourceDocker, time.Hour))

	store.MarkRefreshing(domain.SourceDocker)
	status = store.SourceStatus(domain.SourceDocker)
	assert.Equal(t, domain.RefreshRefreshing, status.State)
	require.NotNil(t, status.LastAttempt)

	store.MarkRefreshOK(domain.SourceDocker, 3)
	status = store.SourceStatus(domain.SourceDocker)
	assert.Equal(t, domain.RefreshOK, status.State)
	assert.Equal(t, 3, status.EntryCount)
	require.NotNil(t, status.LastRefresh)
	assert.False(t, store.IsStale(domain.SourceDocker, time.Hour))
	assert.True(t, store.IsStale(domain.SourceDocker, 0))

	store.MarkRefreshError(domain.SourceDocker, "boom")
	status = store.SourceStatus(domain.SourceDocker)
	assert.Equal(t, domain.RefreshError, status.State)
	assert.Equal(t, "boom", status.ErrorMessage)
	// A failed refresh keeps the previous success timestamp.
	require.NotNil(t, status.LastRefresh)
}

func TestStoreStatusAggregation(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(testEntry("docker/sqlite", domain.SourceDocker)))
	require.NoError(t, store.AddMount(testMount("docker/sqlite", "sqlite")))
	store.MarkRefreshing(domain.SourceDocker)
	store.MarkRefreshOK(domain.SourceDocker, 1)

	status := store.Status()
	assert.Equal(t, 1, status.TotalEntries)
	assert.Equal(t, 1, status.ActiveMounts)
	assert.Len(t, status.Sources, len(domain.KnownSources))
	assert.Equal(t, domain.RefreshOK, status.Sources[domain.SourceDocker].State)
	assert.Equal(t, domain.RefreshUnknown, status.Sources[domain.SourceAwesome].State)
	require.NotNil(t, status.LastRefreshAttempt)
}
