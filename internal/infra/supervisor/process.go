package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/envutil"
	"mcpreg/internal/infra/telemetry"
)

const (
	// DefaultSettleDelay is how long a freshly spawned child is watched for
	// an immediate exit before it is considered up.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultStopTimeout bounds graceful termination before escalation.
	DefaultStopTimeout = 10 * time.Second
)

// SpawnSpec describes one local child process to launch.
type SpawnSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	// Name is a human-readable label for logs and handle info.
	Name string
}

// ProcessOptions configures a ProcessSupervisor.
type ProcessOptions struct {
	Logger      *zap.Logger
	SettleDelay time.Duration
	StopTimeout time.Duration
}

// ProcessSupervisor launches and tracks local stdio child processes. Children
// inherit only an allowlisted environment plus the entry's declared variables.
type ProcessSupervisor struct {
	logger      *zap.Logger
	settleDelay time.Duration
	stopTimeout time.Duration

	mu      sync.Mutex
	handles map[string]*childHandle
}

func NewProcessSupervisor(opts ProcessOptions) *ProcessSupervisor {
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
	return &ProcessSupervisor{
		logger:      logger.Named("process_supervisor"),
		settleDelay: settle,
		stopTimeout: stop,
		handles:     make(map[string]*childHandle),
	}
}

// Spawn starts the child, pipes its stdio, and holds it through the settle
// window. A child that exits inside the window is reported as a settle
// failure with its stderr tail attached.
func (p *ProcessSupervisor) Spawn(ctx context.Context, spec SpawnSpec) (domain.Handle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("%w: empty command", domain.ErrValidation)
	}
	if err := envutil.ValidateKeys(spec.Env); err != nil {
		return nil, err
	}
	binary, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found on PATH: %v", domain.ErrSpawnFailed, spec.Command, err)
	}

	cmd := exec.Command(binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = envutil.SpawnEnv(spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", domain.ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", domain.ErrSpawnFailed, err)
	}
	// Stderr is sunk into a bounded tail so a chatty child never blocks on a
	// full pipe and crash output survives for diagnostics.
	tail := &tailBuffer{}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSpawnFailed, spec.Command, err)
	}

	info := domain.HandleInfo{
		ID:        uuid.NewString(),
		Kind:      domain.HandleProcess,
		Name:      spec.Name,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().UTC(),
	}
	handle := newChildHandle(info, cmd, stdin, stdout, tail, p.stopTimeout)
	handle.startReaper()

	p.logger.Info("child spawned",
		telemetry.EventField(telemetry.EventSpawn),
		telemetry.HandleIDField(info.ID),
		zap.String("command", BuildCommandLine(append([]string{spec.Command}, spec.Args...))),
		zap.Int("pid", info.PID),
	)

	if err := p.settle(ctx, handle, spec); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.handles[info.ID] = handle
	p.mu.Unlock()
	return handle, nil
}

// settle watches the child for the settle window and turns an early exit
// into a SettleExitError.
func (p *ProcessSupervisor) settle(ctx context.Context, handle *childHandle, spec SpawnSpec) error {
	timer := time.NewTimer(p.settleDelay)
	defer timer.Stop()
	select {
	case <-handle.done:
		stderr := handle.stderrTail.String()
		p.logger.Warn("child exited during settle window",
			telemetry.EventField(telemetry.EventSettleExit),
			telemetry.HandleIDField(handle.info.ID),
			zap.String("command", spec.Command),
		)
		return &domain.SettleExitError{
			Command: BuildCommandLine(append([]string{spec.Command}, spec.Args...)),
			Stderr:  stderr,
		}
	case <-ctx.Done():
		_ = handle.Kill()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRunning reports whether the handle is tracked and its child still alive.
func (p *ProcessSupervisor) IsRunning(id string) bool {
	p.mu.Lock()
	handle, ok := p.handles[id]
	p.mu.Unlock()
	return ok && !handle.exited()
}

// PID returns the child's pid when the handle is tracked.
func (p *ProcessSupervisor) PID(id string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle, ok := p.handles[id]
	if !ok {
		return 0, false
	}
	return handle.info.PID, true
}

// Stop terminates the tracked child and forgets it. Stopping an unknown
// handle is a no-op.
func (p *ProcessSupervisor) Stop(ctx context.Context, id string) error {
	p.mu.Lock()
	handle, ok := p.handles[id]
	delete(p.handles, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	err := handle.Terminate(ctx)
	p.logger.Info("child stopped",
		telemetry.EventField(telemetry.EventStop),
		telemetry.HandleIDField(id),
		zap.Error(err),
	)
	return err
}

// CleanupAll terminates every tracked child and returns how many it stopped.
// Safe to call repeatedly.
func (p *ProcessSupervisor) CleanupAll(ctx context.Context) int {
	p.mu.Lock()
	handles := make([]*childHandle, 0, len(p.handles))
	for _, handle := range p.handles {
		handles = append(handles, handle)
	}
	p.handles = make(map[string]*childHandle)
	p.mu.Unlock()

	for _, handle := range handles {
		if err := handle.Terminate(ctx); err != nil {
			p.logger.Warn("cleanup terminate failed",
				telemetry.HandleIDField(handle.info.ID),
				zap.Error(err),
			)
		}
	}
	return len(handles)
}
