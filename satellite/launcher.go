package satellite

import (
	"context"
	"io"
	"time"

	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/process"
)

// Worker is a launched worker process as the supervisor sees it. Injected
// so supervision logic is testable without real OS processes.
type Worker interface {
	// PID identifies the process for logging and diagnostics.
	PID() int
	// Stdin is the worker's call-frame input. Closing it asks the worker
	// to exit gracefully.
	Stdin() io.WriteCloser
	// Stdout carries the worker's response frames.
	Stdout() io.ReadCloser
	// Stderr carries the worker's log output.
	Stderr() io.ReadCloser
	// Exited is closed once the process termination is confirmed.
	Exited() <-chan struct{}
	// ExitError reports how the process ended. Valid after Exited.
	ExitError() error
	// Terminate stops the worker and blocks until its exit is confirmed.
	Terminate(grace time.Duration)
	// MemoryRSS samples the worker's resident memory in bytes.
	MemoryRSS() (uint64, error)
}

// Launcher starts worker processes for one provider.
type Launcher interface {
	Launch(ctx context.Context) (Worker, error)
}

// ExecLauncher launches the provider's binary from its descriptor.
type ExecLauncher struct {
	desc plugin.Descriptor
}

// NewExecLauncher creates a Launcher for the descriptor's binary.
func NewExecLauncher(desc plugin.Descriptor) *ExecLauncher {
	return &ExecLauncher{desc: desc}
}

// Launch starts the worker binary with piped stdio.
func (l *ExecLauncher) Launch(_ context.Context) (Worker, error) {
	h, err := process.Start(process.Command{
		Binary: l.desc.Path,
		Args:   l.desc.Args,
	})
	if err != nil {
		return nil, err
	}
	return &execWorker{h: h}, nil
}

type execWorker struct {
	h *process.Handle
}

func (w *execWorker) PID() int                      { return w.h.PID() }
func (w *execWorker) Stdin() io.WriteCloser         { return w.h.Stdin }
func (w *execWorker) Stdout() io.ReadCloser         { return w.h.Stdout }
func (w *execWorker) Stderr() io.ReadCloser         { return w.h.Stderr }
func (w *execWorker) Exited() <-chan struct{}       { return w.h.Exited() }
func (w *execWorker) ExitError() error              { return w.h.ExitError() }
func (w *execWorker) Terminate(grace time.Duration) { w.h.Terminate(grace) }
func (w *execWorker) MemoryRSS() (uint64, error)    { return w.h.MemoryRSS() }
