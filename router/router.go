// Package router is the host-facing entry point into the capability
// system. It maps a provider id to its satellite, creating the satellite
// lazily on first use, and translates supervision faults into the typed
// error taxonomy callers see.
package router

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/skillsenselab/orbit/channel"
	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/observability"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/satellite"
)

// LauncherFactory builds the worker launcher for a descriptor. Injected so
// tests can route satellites onto in-process fakes.
type LauncherFactory func(desc plugin.Descriptor) satellite.Launcher

// Router routes capability calls to per-provider satellites.
type Router struct {
	registry  *plugin.Registry
	cfg       satellite.Config
	log       *logger.Logger
	metrics   *observability.Metrics
	launchers LauncherFactory
	workDir   string

	providerCfg map[string]map[string]any

	mu     sync.Mutex
	sats   map[string]*satellite.Supervisor
	closed bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Router) { r.log = log }
}

// WithMetrics records call and supervision metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLauncherFactory overrides how worker processes are started.
func WithLauncherFactory(f LauncherFactory) Option {
	return func(r *Router) { r.launchers = f }
}

// WithWorkDir sets the base scratch directory; each satellite gets a
// subdirectory.
func WithWorkDir(dir string) Option {
	return func(r *Router) { r.workDir = dir }
}

// WithProviderConfig sets one provider's configuration. It is validated
// against the provider's schema before the first worker starts.
func WithProviderConfig(providerID string, cfg map[string]any) Option {
	return func(r *Router) { r.providerCfg[providerID] = cfg }
}

// New creates a Router over the registry. Satellite creation is lazy: no
// worker starts until the first call for its provider.
func New(registry *plugin.Registry, cfg satellite.Config, opts ...Option) *Router {
	cfg.ApplyDefaults()
	r := &Router{
		registry:    registry,
		cfg:         cfg,
		log:         logger.Get("router"),
		providerCfg: make(map[string]map[string]any),
		sats:        make(map[string]*satellite.Supervisor),
	}
	r.launchers = func(desc plugin.Descriptor) satellite.Launcher {
		return satellite.NewExecLauncher(desc)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke forwards one unary call to the provider's satellite. Unknown ids
// fail with NOT_FOUND before any worker is started.
func (r *Router) Invoke(ctx context.Context, providerID, method string, payload any) (json.RawMessage, error) {
	sat, err := r.satelliteFor(providerID, method)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "router.invoke")
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrProviderID, providerID)
	observability.SetSpanAttribute(ctx, observability.AttrMethod, method)

	start := time.Now()
	result, err := sat.Invoke(ctx, method, payload)
	r.observe(ctx, providerID, method, start, err)
	return result, err
}

// InvokeStream forwards one streaming call. The stream terminates on clean
// end, provider error, or satellite fault, whichever comes first.
func (r *Router) InvokeStream(ctx context.Context, providerID, method string, payload any) (*satellite.Stream, error) {
	sat, err := r.satelliteFor(providerID, method)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "router.invoke_stream")
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrProviderID, providerID)
	observability.SetSpanAttribute(ctx, observability.AttrMethod, method)

	start := time.Now()
	stream, err := sat.InvokeStream(ctx, method, payload)
	r.observe(ctx, providerID, method, start, err)
	return stream, err
}

// Reset returns a terminated provider to service.
func (r *Router) Reset(ctx context.Context, providerID string) error {
	r.mu.Lock()
	sat, ok := r.sats[providerID]
	r.mu.Unlock()
	if !ok {
		return errors.NotFound(providerID)
	}
	return sat.Reset(ctx)
}

// Snapshots returns the diagnostic view of every active satellite, sorted
// by provider id.
func (r *Router) Snapshots() []satellite.Snapshot {
	r.mu.Lock()
	out := make([]satellite.Snapshot, 0, len(r.sats))
	for _, sat := range r.sats {
		out = append(out, sat.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Snapshot returns one provider's diagnostic view.
func (r *Router) Snapshot(providerID string) (satellite.Snapshot, error) {
	r.mu.Lock()
	sat, ok := r.sats[providerID]
	r.mu.Unlock()
	if !ok {
		return satellite.Snapshot{}, errors.NotFound(providerID)
	}
	return sat.Snapshot(), nil
}

// Shutdown stops every satellite. The router refuses new work afterwards.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sats := make([]*satellite.Supervisor, 0, len(r.sats))
	for _, sat := range r.sats {
		sats = append(sats, sat)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sat := range sats {
		wg.Add(1)
		go func(sat *satellite.Supervisor) {
			defer wg.Done()
			_ = sat.Shutdown(ctx)
		}(sat)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) satelliteFor(providerID, method string) (*satellite.Supervisor, error) {
	if method == channel.MethodInitialize {
		return nil, errors.InvalidInput("method name is reserved")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.ProviderUnavailable(providerID)
	}
	if sat, ok := r.sats[providerID]; ok {
		return sat, nil
	}

	// Registry miss fails fast; no worker may start for an unknown id.
	desc, err := r.registry.Lookup(providerID)
	if err != nil {
		return nil, err
	}

	cfg := r.providerCfg[providerID]
	if err := r.registry.ValidateConfig(providerID, cfg); err != nil {
		return nil, err
	}

	workDir, err := r.satelliteWorkDir(providerID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	sat := satellite.New(desc, r.cfg, r.launchers(desc),
		satellite.WithLogger(r.log),
		satellite.WithMetrics(r.metrics),
		satellite.WithInitConfig(cfg, workDir),
	)
	sat.Start()
	r.sats[providerID] = sat
	r.log.Info("satellite created", map[string]interface{}{
		logger.FieldProvider: providerID,
		logger.FieldCategory: string(desc.Category),
	})
	return sat, nil
}

func (r *Router) satelliteWorkDir(providerID string) (string, error) {
	if r.workDir == "" {
		return "", nil
	}
	dir := filepath.Join(r.workDir, providerID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

func (r *Router) observe(ctx context.Context, providerID, method string, start time.Time, err error) {
	if err != nil {
		observability.SetSpanError(ctx, err)
		if r.metrics != nil {
			r.metrics.RecordCallError(ctx, providerID, string(errors.CodeOf(err)))
		}
		r.log.Warn("call failed", map[string]interface{}{
			logger.FieldProvider: providerID,
			logger.FieldMethod:   method,
			logger.FieldError:    err.Error(),
			logger.FieldDuration: time.Since(start).String(),
		})
		return
	}
	r.log.Debug("call served", map[string]interface{}{
		logger.FieldProvider: providerID,
		logger.FieldMethod:   method,
		logger.FieldDuration: time.Since(start).String(),
	})
}
