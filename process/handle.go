package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Handle is a started long-lived subprocess with piped stdio. Unlike Run it
// does not wait for completion; the caller owns the lifecycle and decides
// when to Terminate.
type Handle struct {
	// Stdin is the child's standard input. Closing it signals EOF.
	Stdin io.WriteCloser
	// Stdout is the child's standard output. Reaches EOF when the child
	// exits or closes it.
	Stdout io.ReadCloser
	// Stderr is the child's standard error.
	Stderr io.ReadCloser

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	termOnce sync.Once
}

// Start launches cmd with piped stdio in its own process group, so the
// whole tree can be signaled at once. GracePeriod on cmd is ignored here;
// callers pass the grace to Terminate.
func Start(cmd Command) (*Handle, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}

	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec // dynamic args are the purpose of this package
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}

	// Explicit os.Pipe instead of StdoutPipe: exec.Cmd.Wait closes its own
	// pipes on exit and can discard buffered output the reader has not
	// drained yet. With our pipe the reader simply sees EOF.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}
	c.Stdout = stdoutW
	c.Stderr = stderrW

	if err := c.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("process: start %s: %w", cmd.Binary, err)
	}
	// Parent's write ends; the child holds its own copies.
	stdoutW.Close()
	stderrW.Close()

	h := &Handle{
		Stdin:  stdin,
		Stdout: stdoutR,
		Stderr: stderrR,
		cmd:    c,
		exited: make(chan struct{}),
	}
	go func() {
		h.waitErr = c.Wait()
		close(h.exited)
	}()
	return h, nil
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Exited returns a channel closed when the child has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// ExitError returns the Wait error. Only meaningful after Exited is closed.
func (h *Handle) ExitError() error { return h.waitErr }

// ExitCode returns the child's exit code, or -1 if it was killed by a
// signal or has not exited yet.
func (h *Handle) ExitCode() int {
	select {
	case <-h.exited:
	default:
		return -1
	}
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Terminate stops the child's process group: SIGTERM first, SIGKILL after
// grace. Blocks until the child has been reaped. Idempotent.
func (h *Handle) Terminate(grace time.Duration) {
	h.termOnce.Do(func() {
		select {
		case <-h.exited:
			return
		default:
		}

		pgid := -h.cmd.Process.Pid
		_ = syscall.Kill(pgid, syscall.SIGTERM)

		if grace <= 0 {
			grace = defaultGrace
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-h.exited:
			return
		case <-timer.C:
		}

		_ = syscall.Kill(pgid, syscall.SIGKILL)
	})
	<-h.exited
}

// Kill sends SIGKILL to the process group without waiting for grace.
func (h *Handle) Kill() {
	_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
	<-h.exited
}
