package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"mcpreg/internal/domain"
)

// stderrTailLimit bounds how much child stderr is retained for diagnostics.
const stderrTailLimit = 8 * 1024

// tailBuffer keeps the last stderrTailLimit bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > stderrTailLimit {
		excess := t.buf.Len() - stderrTailLimit
		t.buf.Next(excess)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// childHandle wraps one spawned child process. The container supervisor
// reuses it for interactive runs with stop/kill hooks that go through the
// container tool instead of signalling the local run process.
type childHandle struct {
	info        domain.HandleInfo
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      io.Reader
	stderrTail  *tailBuffer
	stopTimeout time.Duration

	// Optional overrides used by the container flavor.
	terminateFn func(ctx context.Context) error
	killFn      func() error

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func newChildHandle(info domain.HandleInfo, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, tail *tailBuffer, stopTimeout time.Duration) *childHandle {
	return &childHandle{
		info:        info,
		cmd:         cmd,
		stdin:       stdin,
		stdout:      stdout,
		stderrTail:  tail,
		stopTimeout: stopTimeout,
		done:        make(chan struct{}),
	}
}

// startReaper begins waiting on the process so exit status is observed
// exactly once.
func (h *childHandle) startReaper() {
	h.waitOnce.Do(func() {
		go func() {
			h.waitErr = normalizeExitError(h.cmd.Wait())
			close(h.done)
		}()
	})
}

func (h *childHandle) Info() domain.HandleInfo { return h.info }

func (h *childHandle) Stdin() io.WriteCloser { return h.stdin }

func (h *childHandle) Stdout() io.Reader { return h.stdout }

// Stderr returns a snapshot of the captured stderr tail. The live stream is
// drained by the supervisor so a quiet child cannot block on a full pipe.
func (h *childHandle) Stderr() io.Reader {
	return bytes.NewReader([]byte(h.stderrTail.String()))
}

// Wait blocks until the child exits or ctx is done.
func (h *childHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exited reports whether the child has already been reaped.
func (h *childHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Terminate asks the child to stop gracefully and escalates to Kill when the
// stop timeout elapses.
func (h *childHandle) Terminate(ctx context.Context) error {
	if h.exited() {
		return nil
	}
	if h.terminateFn != nil {
		if err := h.terminateFn(ctx); err != nil {
			_ = h.Kill()
		}
	} else if h.cmd.Process != nil {
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return h.Kill()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.stopTimeout)
	defer cancel()
	if err := h.Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return h.Kill()
		}
		return err
	}
	return nil
}

// Kill force-stops the child.
func (h *childHandle) Kill() error {
	if h.exited() {
		return nil
	}
	if h.killFn != nil {
		_ = h.killFn()
	}
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	// Reap with a short bound so Kill callers do not hang on a zombie.
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.Wait(waitCtx)
}

// normalizeExitError treats a signal-terminated child as a normal exit:
// teardown kills children on purpose.
func normalizeExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
		return nil
	}
	return err
}

var _ domain.Handle = (*childHandle)(nil)
