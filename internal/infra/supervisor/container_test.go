package supervisor

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
)

// fakeRunner records container tool invocations and plays back canned
// responses keyed by the leading subcommand.
type fakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	stdout string
	stderr string
	exit   int
	err    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]fakeResponse{
		"--version": {stdout: "Docker version 24.0.7, build afdd53b"},
	}}
}

func (f *fakeRunner) set(subcommand string, resp fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[subcommand] = resp
}

func (f *fakeRunner) run(_ context.Context, args ...string) (string, string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	key := args[0]
	if key == "image" && len(args) > 1 {
		key = "image " + args[1]
	}
	resp := f.responses[key]
	return resp.stdout, resp.stderr, resp.exit, resp.err
}

func (f *fakeRunner) callsFor(subcommand string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, call := range f.calls {
		if call[0] == subcommand {
			out = append(out, call)
		}
	}
	return out
}

func newTestContainerSupervisor(t *testing.T, runner *fakeRunner) *ContainerSupervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("probe needs a unix shell on PATH")
	}
	// Tool must exist on PATH for the probe; the fake runner intercepts all
	// invocations so sh is never actually run.
	sup, err := NewContainerSupervisor(ContainerOptions{
		Tool:   "sh",
		Logger: zap.NewNop(),
		runner: runner.run,
	})
	require.NoError(t, err)
	return sup
}

func TestContainerProbeFailure(t *testing.T) {
	_, err := NewContainerSupervisor(ContainerOptions{Tool: "definitely-not-a-container-tool", Logger: zap.NewNop()})
	assert.ErrorIs(t, err, domain.ErrSupervisorNotAvailable)

	runner := newFakeRunner()
	runner.set("--version", fakeResponse{stderr: "broken install", exit: 1})
	_, err = NewContainerSupervisor(ContainerOptions{Tool: "sh", Logger: zap.NewNop(), runner: runner.run})
	assert.ErrorIs(t, err, domain.ErrSupervisorNotAvailable)
}

func TestParseToolVersion(t *testing.T) {
	assert.Equal(t, "v24.0.7", parseToolVersion("Docker version 24.0.7, build afdd53b"))
	assert.Equal(t, "v4.9.0", parseToolVersion("podman version 4.9"))
	assert.Equal(t, "", parseToolVersion("no digits here"))
}

func TestRunDetachedBuildsArgs(t *testing.T) {
	runner := newFakeRunner()
	runner.set("run", fakeResponse{stdout: "abc123def\n"})
	sup := newTestContainerSupervisor(t, runner)

	id, err := sup.RunDetached(context.Background(), RunSpec{
		Image: "mcp/sqlite",
		Name:  "sqlite",
		Env:   map[string]string{"API_KEY": "k", "DB_PATH": "/data/db"},
		Ports: []string{"8080:8080"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123def", id)

	calls := runner.callsFor("run")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"run", "-d", "--rm", "--name", "mcp-registry-sqlite", "--label", "mcpreg=1",
		"-e", "API_KEY=k", "-e", "DB_PATH=/data/db",
		"-p", "8080:8080",
		"mcp/sqlite",
	}, calls[0])
}

func TestRunDetachedRejectsVolumes(t *testing.T) {
	sup := newTestContainerSupervisor(t, newFakeRunner())
	_, err := sup.RunDetached(context.Background(), RunSpec{
		Image:   "mcp/sqlite",
		Name:    "sqlite",
		Volumes: []string{"/host:/container"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRunDetachedRejectsBadEnvKey(t *testing.T) {
	sup := newTestContainerSupervisor(t, newFakeRunner())
	_, err := sup.RunDetached(context.Background(), RunSpec{
		Image: "mcp/sqlite",
		Name:  "sqlite",
		Env:   map[string]string{"PATH": "/evil"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEnvKey)
}

func TestPullImageSkipsPresentImage(t *testing.T) {
	runner := newFakeRunner()
	runner.set("image inspect", fakeResponse{stdout: "[{}]"})
	sup := newTestContainerSupervisor(t, runner)

	require.NoError(t, sup.PullImage(context.Background(), "mcp/sqlite"))
	assert.Empty(t, runner.callsFor("pull"))
}

func TestPullImageFetchesMissingImage(t *testing.T) {
	runner := newFakeRunner()
	runner.set("image inspect", fakeResponse{stderr: "No such image", exit: 1})
	sup := newTestContainerSupervisor(t, runner)

	require.NoError(t, sup.PullImage(context.Background(), "mcp/sqlite"))
	pulls := runner.callsFor("pull")
	require.Len(t, pulls, 1)
	assert.Equal(t, []string{"pull", "mcp/sqlite"}, pulls[0])
}

func TestExecInContainer(t *testing.T) {
	runner := newFakeRunner()
	runner.set("exec", fakeResponse{stdout: "result", exit: 0})
	sup := newTestContainerSupervisor(t, runner)

	stdout, _, exitCode, err := sup.ExecInContainer(context.Background(), "abc123", []string{"ls", "/data"}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, "result", stdout)

	calls := runner.callsFor("exec")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"exec", "abc123", "ls", "/data"}, calls[0])

	_, _, _, err = sup.ExecInContainer(context.Background(), "abc123", nil, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListContainersParsesIDs(t *testing.T) {
	runner := newFakeRunner()
	runner.set("ps", fakeResponse{stdout: "abc123\ndef456\n\n"})
	sup := newTestContainerSupervisor(t, runner)

	ids, err := sup.ListContainers(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123", "def456"}, ids)

	calls := runner.callsFor("ps")
	require.Len(t, calls, 1)
	assert.Contains(t, strings.Join(calls[0], " "), "--filter label=mcpreg=1")
	assert.Contains(t, calls[0], "-a")
}

func TestStopAndCleanupDetached(t *testing.T) {
	runner := newFakeRunner()
	runner.set("run", fakeResponse{stdout: "abc123\n"})
	sup := newTestContainerSupervisor(t, runner)
	ctx := context.Background()

	_, err := sup.RunDetached(ctx, RunSpec{Image: "mcp/sqlite", Name: "sqlite"})
	require.NoError(t, err)

	assert.Equal(t, 1, sup.CleanupAll(ctx))
	assert.Equal(t, 0, sup.CleanupAll(ctx))

	stops := runner.callsFor("stop")
	require.Len(t, stops, 1)
	assert.Equal(t, "stop", stops[0][0])
	assert.Equal(t, "-t", stops[0][1])
}
