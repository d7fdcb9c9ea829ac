package satellite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/skillsenselab/orbit/channel"
	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/observability"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/resilience"
)

type request struct {
	ctx     context.Context
	cancel  context.CancelFunc
	method  string
	payload any
	stream  bool
	respCh  chan response
}

type response struct {
	result json.RawMessage
	stream *Stream
	err    error
}

type ctrlKind int

const (
	ctrlShutdown ctrlKind = iota
	ctrlReset
)

type ctrlMsg struct {
	kind   ctrlKind
	respCh chan error
}

// Snapshot is a point-in-time view of one satellite for diagnostics.
type Snapshot struct {
	ProviderID string    `json:"provider_id"`
	State      State     `json:"state"`
	PID        int       `json:"pid,omitempty"`
	Restarts   int       `json:"restarts"`
	LastError  string    `json:"last_error,omitempty"`
	StateSince time.Time `json:"state_since"`
}

// Supervisor owns one provider worker. All lifecycle transitions happen on
// its single loop goroutine; callers interact through Invoke, InvokeStream,
// Reset and Shutdown only.
type Supervisor struct {
	desc     plugin.Descriptor
	cfg      Config
	launcher Launcher
	initCfg  map[string]any
	workDir  string
	log      *logger.Logger
	metrics  *observability.Metrics

	reqCh  chan *request
	ctrlCh chan ctrlMsg
	done   chan struct{}

	backoff *resilience.Backoff
	window  *resilience.Window

	// loop-goroutine state
	w          Worker
	ch         *channel.Channel
	readySince time.Time
	stopping   bool

	mu         sync.Mutex
	state      State
	pid        int
	restarts   int
	lastErr    string
	stateSince time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithMetrics records supervision metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithInitConfig sets the validated provider configuration and scratch
// directory handed to the worker on initialize.
func WithInitConfig(cfg map[string]any, workDir string) Option {
	return func(s *Supervisor) {
		s.initCfg = cfg
		s.workDir = workDir
	}
}

// New creates a Supervisor for the descriptor's provider. Start must be
// called before the first Invoke.
func New(desc plugin.Descriptor, cfg Config, launcher Launcher, opts ...Option) *Supervisor {
	cfg.ApplyDefaults()
	s := &Supervisor{
		desc:       desc,
		cfg:        cfg,
		launcher:   launcher,
		log:        logger.Get("satellite"),
		reqCh:      make(chan *request),
		ctrlCh:     make(chan ctrlMsg),
		done:       make(chan struct{}),
		backoff:    resilience.NewBackoff(cfg.Backoff),
		window:     resilience.NewWindow(cfg.RestartWindow),
		state:      StateStarting,
		stateSince: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithProvider(desc.ID)
	return s
}

// Start launches the supervision loop. The worker itself starts
// asynchronously; callers block in Invoke until it is ready.
func (s *Supervisor) Start() {
	go s.loop()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the satellite's diagnostic view.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ProviderID: s.desc.ID,
		State:      s.state,
		PID:        s.pid,
		Restarts:   s.restarts,
		LastError:  s.lastErr,
		StateSince: s.stateSince,
	}
}

// Invoke forwards one unary call and blocks for its result. Admission and
// execution together are bounded by the context deadline, or by the
// configured default call budget when the context has none.
func (s *Supervisor) Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	ctx, cancel := s.withCallDeadline(ctx)
	defer cancel()

	req := &request{ctx: ctx, method: method, payload: payload, respCh: make(chan response, 1)}
	if err := s.submit(ctx, req); err != nil {
		return nil, err
	}
	resp := <-req.respCh
	return resp.result, resp.err
}

// InvokeStream forwards one streaming call. The returned Stream yields
// chunks until clean end, provider error, or satellite fault; the whole
// stream is bounded by the call deadline.
func (s *Supervisor) InvokeStream(ctx context.Context, method string, payload any) (*Stream, error) {
	ctx, cancel := s.withCallDeadline(ctx)

	req := &request{ctx: ctx, cancel: cancel, method: method, payload: payload, stream: true, respCh: make(chan response, 1)}
	if err := s.submit(ctx, req); err != nil {
		cancel()
		return nil, err
	}
	resp := <-req.respCh
	if resp.err != nil {
		return nil, resp.err
	}
	return resp.stream, nil
}

// Reset returns a Terminated satellite to service with a fresh restart
// budget. Operator-only; any other state rejects it.
func (s *Supervisor) Reset(ctx context.Context) error {
	msg := ctrlMsg{kind: ctrlReset, respCh: make(chan error, 1)}
	select {
	case s.ctrlCh <- msg:
		return <-msg.respCh
	case <-s.done:
		return errors.ProviderUnavailable(s.desc.ID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker and the supervision loop. Idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	msg := ctrlMsg{kind: ctrlShutdown, respCh: make(chan error, 1)}
	select {
	case s.ctrlCh <- msg:
		<-msg.respCh
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) withCallDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func (s *Supervisor) submit(ctx context.Context, req *request) error {
	select {
	case s.reqCh <- req:
		return nil
	case <-s.done:
		return errors.ProviderUnavailable(s.desc.ID)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.CallTimeout(s.desc.ID, req.method)
		}
		return ctx.Err()
	}
}

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		switch s.State() {
		case StateStarting:
			s.runStarting()
		case StateReady:
			s.runReady()
		case StateFaulted:
			s.runFaulted()
		case StateTerminated:
			if !s.runTerminated() {
				return
			}
		}
	}
}

func (s *Supervisor) runStarting() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StartupTimeout)
	defer cancel()

	w, err := s.launcher.Launch(ctx)
	if err != nil {
		s.fault(errors.InitializationFailed(s.desc.ID, err))
		return
	}
	s.w = w
	s.setPID(w.PID())
	go s.logStderr(w)

	s.ch = channel.New(s.desc.ID, w.Stdout(), w.Stdin(), w.Stdin(), s.log)

	for ready := false; !ready; {
		select {
		case <-s.ch.Ready():
			ready = true
		case <-w.Exited():
			s.fault(errors.InitializationFailed(s.desc.ID, exitReason(w)))
			return
		case <-ctx.Done():
			s.fault(errors.InitializationFailed(s.desc.ID, fmt.Errorf("worker not ready within %s", s.cfg.StartupTimeout)))
			return
		case msg := <-s.ctrlCh:
			// A rejected control message must not end the ready wait;
			// initialize is only sent after the ready frame.
			if s.handleCtrl(msg) {
				return
			}
		}
	}

	// The initialize write blocks if the worker stops reading stdin, so it
	// runs off the loop goroutine; teardown closes the channel and unblocks
	// it on any of the failure paths below.
	ch := s.ch
	initReq := channel.InitRequest{Config: s.initCfg, WorkDir: s.workDir}
	initDone := make(chan error, 1)
	go func() {
		_, err := ch.Call(ctx, channel.MethodInitialize, initReq)
		initDone <- err
	}()

	for {
		select {
		case err := <-initDone:
			if err != nil {
				if appErr, ok := errors.AsAppError(err); ok && appErr.Code == errors.ErrCodeInitializationFailed {
					s.fault(appErr)
					return
				}
				s.fault(errors.InitializationFailed(s.desc.ID, err))
				return
			}
			s.readySince = time.Now()
			s.setState(StateReady, nil)
			s.log.Info("satellite ready", map[string]interface{}{
				logger.FieldPID:      w.PID(),
				logger.FieldRestarts: s.Snapshot().Restarts,
			})
			return
		case <-w.Exited():
			s.fault(errors.InitializationFailed(s.desc.ID, exitReason(w)))
			return
		case <-ctx.Done():
			s.fault(errors.InitializationFailed(s.desc.ID, fmt.Errorf("worker not initialized within %s", s.cfg.StartupTimeout)))
			return
		case msg := <-s.ctrlCh:
			if s.handleCtrl(msg) {
				return
			}
		}
	}
}

func (s *Supervisor) runReady() {
	hb := time.NewTicker(s.cfg.HeartbeatInterval)
	defer hb.Stop()
	mem := time.NewTicker(s.cfg.SampleInterval)
	defer mem.Stop()

	for {
		select {
		case req := <-s.reqCh:
			s.serve(req, hb, mem)
			if s.State() != StateReady {
				return
			}
		case <-s.w.Exited():
			s.fault(errors.ProviderCrashed(s.desc.ID, exitReason(s.w)))
			return
		case <-hb.C:
			if appErr := s.checkHeartbeat(); appErr != nil {
				s.fault(appErr)
				return
			}
		case <-mem.C:
			if appErr := s.sampleMemory(); appErr != nil {
				s.fault(appErr)
				return
			}
		case msg := <-s.ctrlCh:
			if s.handleCtrl(msg) {
				return
			}
		}
	}
}

// serve executes one admitted request. On return the satellite is either
// back in Ready or has moved to Faulted/Terminated.
func (s *Supervisor) serve(req *request, hb, mem *time.Ticker) {
	s.setState(StateBusy, nil)
	start := time.Now()

	if req.stream {
		s.serveStream(req, hb, mem)
	} else {
		s.serveUnary(req, hb, mem)
	}

	if s.metrics != nil {
		status := "ok"
		if st := s.State(); st != StateReady && st != StateBusy {
			status = "fault"
		}
		s.metrics.RecordCall(context.Background(), s.desc.ID, req.method, status, time.Since(start))
	}
}

func (s *Supervisor) serveUnary(req *request, hb, mem *time.Ticker) {
	ch := s.ch
	done := make(chan response, 1)
	go func() {
		result, err := ch.Call(req.ctx, req.method, req.payload)
		done <- response{result: result, err: err}
	}()

	for {
		select {
		case resp := <-done:
			switch errors.CodeOf(resp.err) {
			case errors.ErrCodeCallTimeout:
				// A blown deadline leaves the worker in an unknown state;
				// serialized calls mean a wedged call would starve every
				// follower, so the worker is torn down.
				req.respCh <- resp
				appErr, _ := errors.AsAppError(resp.err)
				s.fault(appErr)
			case errors.ErrCodeChannelClosed:
				crash := errors.ProviderCrashed(s.desc.ID, exitReason(s.w))
				req.respCh <- response{err: crash}
				s.fault(crash)
			default:
				req.respCh <- resp
				s.setState(StateReady, nil)
			}
			return
		case <-req.ctx.Done():
			// Catches a worker wedged before the frame even left: a deaf
			// stdin blocks the call goroutine inside the pipe write, where
			// no result and no heartbeat staleness would ever resolve it.
			s.failBusy(req, done, errors.CallTimeout(s.desc.ID, req.method))
			return
		case <-s.w.Exited():
			s.failBusy(req, done, errors.ProviderCrashed(s.desc.ID, exitReason(s.w)))
			return
		case <-hb.C:
			if appErr := s.checkHeartbeat(); appErr != nil {
				s.failBusy(req, done, appErr)
				return
			}
		case <-mem.C:
			if appErr := s.sampleMemory(); appErr != nil {
				s.failBusy(req, done, appErr)
				return
			}
		}
	}
}

// failBusy resolves an in-flight unary call with appErr and faults the
// satellite. Closing the channel first guarantees the call goroutine
// finishes before the worker is torn down.
func (s *Supervisor) failBusy(req *request, done chan response, appErr *errors.AppError) {
	_ = s.ch.Close(appErr)
	<-done
	req.respCh <- response{err: appErr}
	s.fault(appErr)
}

// streamOpen carries the result of a stream open attempt off the call
// goroutine.
type streamOpen struct {
	inner *channel.Stream
	err   error
}

// failStreamOpen is failBusy for a stream that never opened.
func (s *Supervisor) failStreamOpen(req *request, opened chan streamOpen, appErr *errors.AppError) {
	_ = s.ch.Close(appErr)
	<-opened
	req.respCh <- response{err: appErr}
	s.fault(appErr)
}

func (s *Supervisor) serveStream(req *request, hb, mem *time.Ticker) {
	defer func() {
		if req.cancel != nil {
			req.cancel()
		}
	}()

	// The open is a stdin write and can block on a deaf worker, so it runs
	// off the loop goroutine like the unary path.
	ch := s.ch
	opened := make(chan streamOpen, 1)
	go func() {
		inner, err := ch.CallStream(req.ctx, req.method, req.payload)
		opened <- streamOpen{inner: inner, err: err}
	}()

	var inner *channel.Stream
	for inner == nil {
		select {
		case open := <-opened:
			if open.err != nil {
				switch errors.CodeOf(open.err) {
				case errors.ErrCodeCallTimeout:
					req.respCh <- response{err: open.err}
					appErr, _ := errors.AsAppError(open.err)
					s.fault(appErr)
				case errors.ErrCodeChannelClosed:
					crash := errors.ProviderCrashed(s.desc.ID, exitReason(s.w))
					req.respCh <- response{err: crash}
					s.fault(crash)
				default:
					req.respCh <- response{err: open.err}
					s.setState(StateReady, nil)
				}
				return
			}
			inner = open.inner
		case <-req.ctx.Done():
			s.failStreamOpen(req, opened, errors.CallTimeout(s.desc.ID, req.method))
			return
		case <-s.w.Exited():
			s.failStreamOpen(req, opened, errors.ProviderCrashed(s.desc.ID, exitReason(s.w)))
			return
		case <-hb.C:
			if appErr := s.checkHeartbeat(); appErr != nil {
				s.failStreamOpen(req, opened, appErr)
				return
			}
		case <-mem.C:
			if appErr := s.sampleMemory(); appErr != nil {
				s.failStreamOpen(req, opened, appErr)
				return
			}
		}
	}

	stream := newStream(inner)
	req.respCh <- response{stream: stream}

	for {
		select {
		case <-stream.done:
			// Clean end, provider-reported error, or consumer abandonment.
			// The worker is still healthy in all three.
			s.setState(StateReady, nil)
			return
		case <-req.ctx.Done():
			timeout := errors.CallTimeout(s.desc.ID, req.method)
			_ = s.ch.Close(timeout)
			s.fault(timeout)
			return
		case <-s.w.Exited():
			crash := errors.ProviderCrashed(s.desc.ID, exitReason(s.w))
			_ = s.ch.Close(crash)
			s.fault(crash)
			return
		case <-hb.C:
			if appErr := s.checkHeartbeat(); appErr != nil {
				_ = s.ch.Close(appErr)
				s.fault(appErr)
				return
			}
		case <-mem.C:
			if appErr := s.sampleMemory(); appErr != nil {
				_ = s.ch.Close(appErr)
				s.fault(appErr)
				return
			}
		}
	}
}

func (s *Supervisor) runFaulted() {
	now := time.Now()
	if s.cfg.HealthyReset > 0 && !s.readySince.IsZero() && now.Sub(s.readySince) >= s.cfg.HealthyReset {
		s.backoff.Reset()
		s.window.Reset()
	}
	s.readySince = time.Time{}

	s.window.Add(now)
	if s.window.Count(now) > s.cfg.MaxRestarts {
		s.log.Error("restart budget exhausted", map[string]interface{}{
			logger.FieldRestarts: s.window.Count(now),
		})
		s.setState(StateTerminated, errors.ProviderUnavailable(s.desc.ID))
		return
	}

	delay := s.backoff.Next()
	s.bumpRestarts()
	if s.metrics != nil {
		s.metrics.RecordRestart(context.Background(), s.desc.ID)
	}
	s.log.Warn("satellite restarting", map[string]interface{}{
		"delay":              delay.String(),
		logger.FieldRestarts: s.backoff.Attempt(),
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			s.setState(StateStarting, nil)
			return
		case msg := <-s.ctrlCh:
			if s.handleCtrl(msg) {
				return
			}
		}
	}
}

// runTerminated answers every request with PROVIDER_UNAVAILABLE until an
// operator resets the satellite. Returns false when the loop should exit.
func (s *Supervisor) runTerminated() bool {
	if s.stopping {
		return false
	}
	for {
		select {
		case req := <-s.reqCh:
			req.respCh <- response{err: errors.ProviderUnavailable(s.desc.ID)}
		case msg := <-s.ctrlCh:
			switch msg.kind {
			case ctrlShutdown:
				s.stopping = true
				msg.respCh <- nil
				return false
			case ctrlReset:
				s.backoff.Reset()
				s.window.Reset()
				s.resetRestarts()
				s.setState(StateStarting, nil)
				s.log.Info("satellite reset by operator")
				msg.respCh <- nil
				return true
			}
		}
	}
}

// handleCtrl services a control message outside Terminated. Returns true
// when the current phase must be left.
func (s *Supervisor) handleCtrl(msg ctrlMsg) bool {
	switch msg.kind {
	case ctrlShutdown:
		s.teardown(errors.ProviderUnavailable(s.desc.ID))
		s.stopping = true
		s.setState(StateTerminated, nil)
		s.log.Info("satellite shut down")
		msg.respCh <- nil
		return true
	case ctrlReset:
		msg.respCh <- errors.InvalidInput("reset requires a terminated satellite")
		return false
	}
	return false
}

// fault tears the worker down, confirms its exit, and moves to Faulted.
// A replacement process is never started before the old one is gone.
func (s *Supervisor) fault(appErr *errors.AppError) {
	s.log.Warn("satellite fault", logger.ErrorFields("supervise", appErr))
	if s.metrics != nil {
		s.metrics.RecordFault(context.Background(), s.desc.ID, string(appErr.Code))
	}
	s.teardown(appErr)
	s.setState(StateFaulted, appErr)
}

func (s *Supervisor) teardown(cause error) {
	if s.ch != nil {
		_ = s.ch.Close(cause)
		s.ch = nil
	}
	if s.w != nil {
		s.w.Terminate(s.cfg.TerminateGrace)
		s.w = nil
	}
	s.setPID(0)
}

func (s *Supervisor) checkHeartbeat() *errors.AppError {
	if s.cfg.HeartbeatTimeout <= 0 {
		return nil
	}
	stale := time.Since(s.ch.LastFrame())
	if stale <= s.cfg.HeartbeatTimeout {
		return nil
	}
	return errors.ProviderCrashed(s.desc.ID, fmt.Errorf("no frame from worker for %s", stale.Round(time.Millisecond))).
		WithDetail("reason", "heartbeat_stale")
}

func (s *Supervisor) sampleMemory() *errors.AppError {
	if s.cfg.MemoryLimit == 0 {
		return nil
	}
	rss, err := s.w.MemoryRSS()
	if err != nil {
		// A vanished process is the exit monitor's problem.
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordWorkerMemory(context.Background(), s.desc.ID, rss)
	}
	if rss > s.cfg.MemoryLimit {
		return errors.ResourceExceeded(s.desc.ID, rss, s.cfg.MemoryLimit)
	}
	return nil
}

func (s *Supervisor) logStderr(w Worker) {
	scanner := bufio.NewScanner(w.Stderr())
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		s.log.Debug("worker stderr", map[string]interface{}{"line": scanner.Text()})
	}
}

func (s *Supervisor) setState(state State, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.stateSince = time.Now()
	if cause != nil {
		s.lastErr = cause.Error()
	}
}

func (s *Supervisor) setPID(pid int) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

func (s *Supervisor) bumpRestarts() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

func (s *Supervisor) resetRestarts() {
	s.mu.Lock()
	s.restarts = 0
	s.lastErr = ""
	s.mu.Unlock()
}

func exitReason(w Worker) error {
	select {
	case <-w.Exited():
	default:
		return fmt.Errorf("worker channel closed")
	}
	if err := w.ExitError(); err != nil {
		return fmt.Errorf("worker exited: %w", err)
	}
	return fmt.Errorf("worker exited")
}
