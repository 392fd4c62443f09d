package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/envutil"
	"mcpreg/internal/infra/telemetry"
)

// containerNamePrefix marks containers owned by this gateway, alongside the
// ownership label, so cleanup can find strays from a previous run.
const (
	containerNamePrefix = "mcp-registry-"
	ownershipLabel      = "mcpreg=1"
)

// minToolVersions are the oldest container tool releases the supervisor has
// been exercised against. Older tools get a warning, not a refusal.
var minToolVersions = map[string]string{
	"docker": "v20.10.0",
	"podman": "v4.0.0",
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// commandRunner executes one container tool invocation and returns its
// streams and exit code. Swapped out in tests.
type commandRunner func(ctx context.Context, args ...string) (stdout, stderr string, exitCode int, err error)

// RunSpec describes one container to run.
type RunSpec struct {
	Image string
	// Name is the logical name; the supervisor prefixes it.
	Name  string
	Env   map[string]string
	Ports []string
	// Volumes are not supported and rejected; children get no host mounts.
	Volumes []string
	Args    []string
}

// ContainerOptions configures a ContainerSupervisor.
type ContainerOptions struct {
	// Tool is the container CLI, e.g. "docker" or "podman".
	Tool        string
	Logger      *zap.Logger
	SettleDelay time.Duration
	StopTimeout time.Duration

	// runner overrides command execution in tests.
	runner commandRunner
}

// ContainerSupervisor drives child containers through a docker-compatible
// CLI. Constructed only after probing that the tool exists and answers a
// version query.
type ContainerSupervisor struct {
	tool        string
	logger      *zap.Logger
	settleDelay time.Duration
	stopTimeout time.Duration
	run         commandRunner

	mu sync.Mutex
	// interactive tracks handles for containers run with attached stdio.
	interactive map[string]*childHandle
	// owned tracks container names started detached by this supervisor.
	owned map[string]string
}

// NewContainerSupervisor probes the tool and fails with
// ErrSupervisorNotAvailable when it is missing or unresponsive.
func NewContainerSupervisor(opts ContainerOptions) (*ContainerSupervisor, error) {
	tool := opts.Tool
	if tool == "" {
		tool = "docker"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	stop := opts.StopTimeout
	if stop <= 0 {
		stop = DefaultStopTimeout
	}
	c := &ContainerSupervisor{
		tool:        tool,
		logger:      logger.Named("container_supervisor"),
		settleDelay: settle,
		stopTimeout: stop,
		run:         opts.runner,
		interactive: make(map[string]*childHandle),
		owned:       make(map[string]string),
	}
	if c.run == nil {
		c.run = c.execRun
	}
	if err := c.probe(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ContainerSupervisor) execRun(ctx context.Context, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, c.tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// probe runs `<tool> --version` and warns when the reported version is older
// than what the supervisor was exercised against.
func (c *ContainerSupervisor) probe(ctx context.Context) error {
	if _, err := exec.LookPath(c.tool); err != nil {
		return fmt.Errorf("%w: %s not found on PATH", domain.ErrSupervisorNotAvailable, c.tool)
	}
	stdout, _, exitCode, err := c.run(ctx, "--version")
	if err != nil || exitCode != 0 {
		return fmt.Errorf("%w: %s --version failed (exit %d): %v", domain.ErrSupervisorNotAvailable, c.tool, exitCode, err)
	}
	version := parseToolVersion(stdout)
	if version == "" {
		c.logger.Warn("could not parse container tool version", zap.String("output", strings.TrimSpace(stdout)))
		return nil
	}
	if min, ok := minToolVersions[c.tool]; ok && semver.Compare(version, min) < 0 {
		c.logger.Warn("container tool older than supported baseline",
			zap.String("tool", c.tool),
			zap.String("version", version),
			zap.String("baseline", min),
		)
	}
	c.logger.Debug("container tool probed", zap.String("tool", c.tool), zap.String("version", version))
	return nil
}

func parseToolVersion(output string) string {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return ""
	}
	patch := match[3]
	if patch == "" {
		patch = "0"
	}
	return "v" + match[1] + "." + match[2] + "." + patch
}

// ContainerName returns the prefixed name used for the logical name.
func ContainerName(name string) string {
	return containerNamePrefix + name
}

// PullImage fetches the image unless it is already present locally.
func (c *ContainerSupervisor) PullImage(ctx context.Context, image string) error {
	_, _, exitCode, err := c.run(ctx, "image", "inspect", image)
	if err == nil && exitCode == 0 {
		return nil
	}
	c.logger.Info("pulling image", zap.String("image", image))
	_, stderr, exitCode, err := c.run(ctx, "pull", image)
	if err != nil {
		return fmt.Errorf("%w: pull %s: %v", domain.ErrSpawnFailed, image, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: pull %s: %s", domain.ErrSpawnFailed, image, strings.TrimSpace(stderr))
	}
	return nil
}

// runArgs builds the argv after "run" shared by detached and interactive
// starts. Env keys are emitted in sorted order so invocations are stable.
func runArgs(spec RunSpec, name string) []string {
	args := []string{"--rm", "--name", name, "--label", ownershipLabel}
	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-e", key+"="+spec.Env[key])
	}
	for _, port := range spec.Ports {
		args = append(args, "-p", port)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Args...)
	return args
}

func (c *ContainerSupervisor) validateRunSpec(spec RunSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("%w: empty image", domain.ErrValidation)
	}
	if len(spec.Volumes) > 0 {
		return fmt.Errorf("%w: volume mounts are not supported", domain.ErrValidation)
	}
	return envutil.ValidateKeys(spec.Env)
}

// RunDetached starts a background container and returns its container id.
func (c *ContainerSupervisor) RunDetached(ctx context.Context, spec RunSpec) (string, error) {
	if err := c.validateRunSpec(spec); err != nil {
		return "", err
	}
	name := ContainerName(spec.Name)
	args := append([]string{"run", "-d"}, runArgs(spec, name)...)
	stdout, stderr, exitCode, err := c.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("%w: run %s: %v", domain.ErrSpawnFailed, spec.Image, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%w: run %s: %s", domain.ErrSpawnFailed, spec.Image, strings.TrimSpace(stderr))
	}
	containerID := strings.TrimSpace(stdout)
	c.mu.Lock()
	c.owned[containerID] = name
	c.mu.Unlock()
	c.logger.Info("container started",
		telemetry.EventField(telemetry.EventSpawn),
		zap.String("container_id", containerID),
		zap.String("image", spec.Image),
	)
	return containerID, nil
}

// RunInteractive starts a container with attached stdio for a JSON-RPC
// session. The returned handle's terminate path goes through the container
// tool so the container is stopped, not just the local run process.
func (c *ContainerSupervisor) RunInteractive(ctx context.Context, spec RunSpec) (domain.Handle, error) {
	if err := c.validateRunSpec(spec); err != nil {
		return nil, err
	}
	name := ContainerName(spec.Name)
	args := append([]string{"run", "-i"}, runArgs(spec, name)...)
	cmd := exec.Command(c.tool, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", domain.ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", domain.ErrSpawnFailed, err)
	}
	tail := &tailBuffer{}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s run: %v", domain.ErrSpawnFailed, c.tool, err)
	}

	info := domain.HandleInfo{
		ID:          uuid.NewString(),
		Kind:        domain.HandleContainer,
		Name:        spec.Name,
		PID:         cmd.Process.Pid,
		ContainerID: "interactive-" + name,
		StartedAt:   time.Now().UTC(),
	}
	handle := newChildHandle(info, cmd, stdin, stdout, tail, c.stopTimeout)
	handle.terminateFn = func(ctx context.Context) error {
		return c.stopByName(ctx, name)
	}
	handle.killFn = func() error {
		_, _, _, err := c.run(context.Background(), "kill", name)
		return err
	}
	handle.startReaper()

	if err := c.settleInteractive(ctx, handle, spec); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.interactive[info.ID] = handle
	c.mu.Unlock()
	c.logger.Info("interactive container started",
		telemetry.EventField(telemetry.EventSpawn),
		telemetry.HandleIDField(info.ID),
		zap.String("image", spec.Image),
		zap.String("name", name),
	)
	return handle, nil
}

func (c *ContainerSupervisor) settleInteractive(ctx context.Context, handle *childHandle, spec RunSpec) error {
	timer := time.NewTimer(c.settleDelay)
	defer timer.Stop()
	select {
	case <-handle.done:
		c.logger.Warn("container exited during settle window",
			telemetry.EventField(telemetry.EventSettleExit),
			zap.String("image", spec.Image),
		)
		return &domain.SettleExitError{
			Command: BuildCommandLine(append([]string{c.tool, "run", "-i"}, spec.Image)),
			Stderr:  handle.stderrTail.String(),
		}
	case <-ctx.Done():
		_ = handle.Kill()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *ContainerSupervisor) stopByName(ctx context.Context, name string) error {
	seconds := int(c.stopTimeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, stderr, exitCode, err := c.run(ctx, "stop", "-t", strconv.Itoa(seconds), name)
	if err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("stop %s: %s", name, strings.TrimSpace(stderr))
	}
	return nil
}

// Stop stops a detached container by id or name.
func (c *ContainerSupervisor) Stop(ctx context.Context, id string) error {
	err := c.stopByName(ctx, id)
	c.mu.Lock()
	delete(c.owned, id)
	c.mu.Unlock()
	return err
}

// KillContainer force-stops a container by id or name.
func (c *ContainerSupervisor) KillContainer(ctx context.Context, id string) error {
	_, stderr, exitCode, err := c.run(ctx, "kill", id)
	c.mu.Lock()
	delete(c.owned, id)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("kill %s: %s", id, strings.TrimSpace(stderr))
	}
	return nil
}

// ExecInContainer runs argv inside a running container, feeding stdin when
// non-empty, and returns the captured streams and exit code.
func (c *ContainerSupervisor) ExecInContainer(ctx context.Context, id string, argv []string, stdin string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", 0, fmt.Errorf("%w: empty exec argv", domain.ErrValidation)
	}
	args := []string{"exec"}
	if stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, id)
	args = append(args, argv...)

	if stdin == "" {
		return c.run(ctx, args...)
	}

	cmd := exec.CommandContext(ctx, c.tool, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// Logs returns the last tail lines of a container's combined output.
func (c *ContainerSupervisor) Logs(ctx context.Context, id string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	stdout, stderr, exitCode, err := c.run(ctx, "logs", "--tail", strconv.Itoa(tail), id)
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", id, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("logs %s: %s", id, strings.TrimSpace(stderr))
	}
	// Container tools split log streams; callers want one transcript.
	return stdout + stderr, nil
}

// Inspect returns the tool's raw inspect document for the container.
func (c *ContainerSupervisor) Inspect(ctx context.Context, id string) (json.RawMessage, error) {
	stdout, stderr, exitCode, err := c.run(ctx, "inspect", id)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", id, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("inspect %s: %s", id, strings.TrimSpace(stderr))
	}
	return json.RawMessage(stdout), nil
}

// ListContainers returns the ids of containers carrying the ownership label.
func (c *ContainerSupervisor) ListContainers(ctx context.Context, all bool) ([]string, error) {
	args := []string{"ps", "--filter", "label=" + ownershipLabel, "--format", "{{.ID}}"}
	if all {
		args = append(args, "-a")
	}
	stdout, stderr, exitCode, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("list containers: %s", strings.TrimSpace(stderr))
	}
	var ids []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// CleanupAll stops every container this supervisor started, interactive and
// detached alike, and returns how many it touched. Safe to call repeatedly.
func (c *ContainerSupervisor) CleanupAll(ctx context.Context) int {
	c.mu.Lock()
	handles := make([]*childHandle, 0, len(c.interactive))
	for _, handle := range c.interactive {
		handles = append(handles, handle)
	}
	c.interactive = make(map[string]*childHandle)
	owned := make([]string, 0, len(c.owned))
	for id := range c.owned {
		owned = append(owned, id)
	}
	c.owned = make(map[string]string)
	c.mu.Unlock()

	for _, handle := range handles {
		if err := handle.Terminate(ctx); err != nil {
			c.logger.Warn("cleanup terminate failed",
				telemetry.HandleIDField(handle.info.ID),
				zap.Error(err),
			)
		}
	}
	for _, id := range owned {
		if err := c.stopByName(ctx, id); err != nil {
			c.logger.Warn("cleanup stop failed", zap.String("container_id", id), zap.Error(err))
		}
	}
	return len(handles) + len(owned)
}
