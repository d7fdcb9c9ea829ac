package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skillsenselab/orbit/satellite"
	"github.com/skillsenselab/orbit/worker"
)

// ServeFunc is a scripted worker body. It reads call frames from stdin and
// writes response frames to stdout, exactly like a real worker binary's
// serve loop. Returning ends the "process".
type ServeFunc func(ctx context.Context, stdin io.Reader, stdout io.Writer) error

// RuntimeServe adapts a worker.Runtime into a ServeFunc, giving scripted
// workers the real protocol implementation.
func RuntimeServe(rt *worker.Runtime) ServeFunc {
	return rt.Serve
}

// ScriptedWorker implements satellite.Worker without an OS process. The
// serve function runs on a goroutine; pipes stand in for stdio.
type ScriptedWorker struct {
	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	cancel  context.CancelFunc
	exited  chan struct{}
	exitErr error
	once    sync.Once

	rss atomic.Uint64
}

func newScriptedWorker(pid int) *ScriptedWorker {
	w := &ScriptedWorker{pid: pid, exited: make(chan struct{})}
	w.stdinR, w.stdinW = io.Pipe()
	w.stdoutR, w.stdoutW = io.Pipe()
	w.stderrR, w.stderrW = io.Pipe()
	w.rss.Store(1 << 20)
	return w
}

func (w *ScriptedWorker) start(serve ServeFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go func() {
		err := serve(ctx, w.stdinR, w.stdoutW)
		w.finish(err)
	}()
}

func (w *ScriptedWorker) PID() int                { return w.pid }
func (w *ScriptedWorker) Stdin() io.WriteCloser   { return w.stdinW }
func (w *ScriptedWorker) Stdout() io.ReadCloser   { return w.stdoutR }
func (w *ScriptedWorker) Stderr() io.ReadCloser   { return w.stderrR }
func (w *ScriptedWorker) Exited() <-chan struct{} { return w.exited }

func (w *ScriptedWorker) ExitError() error {
	select {
	case <-w.exited:
		return w.exitErr
	default:
		return nil
	}
}

// Terminate asks the serve goroutine to stop and waits for it, forcing the
// exit after grace the way SIGKILL would.
func (w *ScriptedWorker) Terminate(grace time.Duration) {
	w.cancel()
	_ = w.stdinR.Close()

	if grace <= 0 {
		grace = time.Second
	}
	select {
	case <-w.exited:
	case <-time.After(grace):
		w.finish(fmt.Errorf("killed after grace period"))
	}
}

// Kill simulates an abrupt crash: stdio vanishes and the exit is recorded,
// regardless of what the serve goroutine is doing.
func (w *ScriptedWorker) Kill(cause error) {
	w.finish(cause)
}

// MemoryRSS returns the scripted resident set size.
func (w *ScriptedWorker) MemoryRSS() (uint64, error) {
	select {
	case <-w.exited:
		return 0, fmt.Errorf("worker exited")
	default:
	}
	return w.rss.Load(), nil
}

// SetRSS scripts the next memory sample, e.g. to simulate a leak.
func (w *ScriptedWorker) SetRSS(bytes uint64) {
	w.rss.Store(bytes)
}

func (w *ScriptedWorker) finish(err error) {
	w.once.Do(func() {
		w.exitErr = err
		w.cancel()
		_ = w.stdoutW.Close()
		_ = w.stderrW.Close()
		_ = w.stdinR.Close()
		close(w.exited)
	})
}

// FakeLauncher builds a fresh ScriptedWorker per launch. The build callback
// receives the 1-based launch number and the worker, so scripts can behave
// differently across restarts or crash themselves on demand.
type FakeLauncher struct {
	build func(launch int, w *ScriptedWorker) ServeFunc

	mu        sync.Mutex
	launches  int
	current   *ScriptedWorker
	launchErr error
}

// NewFakeLauncher creates a launcher around the build callback.
func NewFakeLauncher(build func(launch int, w *ScriptedWorker) ServeFunc) *FakeLauncher {
	return &FakeLauncher{build: build}
}

// FailNextLaunch makes the next Launch return err instead of a worker.
func (l *FakeLauncher) FailNextLaunch(err error) {
	l.mu.Lock()
	l.launchErr = err
	l.mu.Unlock()
}

// Launch starts a new scripted worker.
func (l *FakeLauncher) Launch(_ context.Context) (satellite.Worker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.launchErr != nil {
		err := l.launchErr
		l.launchErr = nil
		return nil, err
	}

	l.launches++
	n := l.launches

	w := newScriptedWorker(1000 + n)
	w.start(l.build(n, w))
	l.current = w
	return w, nil
}

// Launches returns how many workers have been started.
func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Current returns the most recently launched worker.
func (l *FakeLauncher) Current() *ScriptedWorker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
