package supervisor

import (
	"bufio"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
)

func newTestProcessSupervisor(t *testing.T) *ProcessSupervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests spawn through sh")
	}
	return NewProcessSupervisor(ProcessOptions{
		Logger:      zap.NewNop(),
		SettleDelay: 50 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	})
}

func TestSpawnAndStop(t *testing.T) {
	sup := newTestProcessSupervisor(t)
	ctx := context.Background()

	handle, err := sup.Spawn(ctx, SpawnSpec{Command: "sh", Args: []string{"-c", "sleep 30"}, Name: "sleeper"})
	require.NoError(t, err)

	info := handle.Info()
	assert.Equal(t, domain.HandleProcess, info.Kind)
	assert.NotEmpty(t, info.ID)
	assert.NotZero(t, info.PID)
	assert.True(t, sup.IsRunning(info.ID))

	pid, ok := sup.PID(info.ID)
	require.True(t, ok)
	assert.Equal(t, info.PID, pid)

	require.NoError(t, sup.Stop(ctx, info.ID))
	assert.False(t, sup.IsRunning(info.ID))

	// Stopping again is a no-op.
	require.NoError(t, sup.Stop(ctx, info.ID))
}

func TestSpawnSettleExitCarriesStderr(t *testing.T) {
	sup := newTestProcessSupervisor(t)

	_, err := sup.Spawn(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSettleExit)

	var settle *domain.SettleExitError
	require.ErrorAs(t, err, &settle)
	assert.Contains(t, settle.Stderr, "boom")
}

func TestSpawnCommandNotFound(t *testing.T) {
	sup := newTestProcessSupervisor(t)
	_, err := sup.Spawn(context.Background(), SpawnSpec{Command: "definitely-not-a-real-binary-xyz"})
	assert.ErrorIs(t, err, domain.ErrSpawnFailed)
}

func TestSpawnRejectsBadEnvKey(t *testing.T) {
	sup := newTestProcessSupervisor(t)
	_, err := sup.Spawn(context.Background(), SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", "true"},
		Env:     map[string]string{"LD_PRELOAD": "/tmp/evil.so"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEnvKey)
}

func TestSpawnStdioRoundTrip(t *testing.T) {
	sup := newTestProcessSupervisor(t)
	ctx := context.Background()

	handle, err := sup.Spawn(ctx, SpawnSpec{Command: "cat", Name: "echo"})
	require.NoError(t, err)
	defer func() { _ = sup.Stop(ctx, handle.Info().ID) }()

	_, err = handle.Stdin().Write([]byte("ping\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(handle.Stdout())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests spawn through sh")
	}
	sup := NewProcessSupervisor(ProcessOptions{
		Logger:      zap.NewNop(),
		SettleDelay: 50 * time.Millisecond,
		StopTimeout: 100 * time.Millisecond,
	})
	ctx := context.Background()

	// Traps TERM so only the kill escalation can end it.
	handle, err := sup.Spawn(ctx, SpawnSpec{
		Command: "sh",
		Args:    []string{"-c", "trap '' TERM; sleep 30"},
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, sup.Stop(ctx, handle.Info().ID))
	assert.Less(t, time.Since(start), 10*time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, handle.Wait(waitCtx))
}

func TestCleanupAll(t *testing.T) {
	sup := newTestProcessSupervisor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := sup.Spawn(ctx, SpawnSpec{Command: "sh", Args: []string{"-c", "sleep 30"}})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, sup.CleanupAll(ctx))
	assert.Equal(t, 0, sup.CleanupAll(ctx))
}
