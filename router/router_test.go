package router_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/skillsenselab/orbit/component"
	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/resilience"
	"github.com/skillsenselab/orbit/router"
	"github.com/skillsenselab/orbit/satellite"
	"github.com/skillsenselab/orbit/testutil"
	"github.com/skillsenselab/orbit/worker"
)

type echoPlugin struct{ id string }

func (p echoPlugin) ID() string                                       { return p.id }
func (p echoPlugin) Name() string                                     { return "Echo " + p.id }
func (p echoPlugin) Category() plugin.Category                        { return plugin.CategorySystem }
func (p echoPlugin) ConfigSchema() any                                { return nil }
func (p echoPlugin) Initialize(context.Context, plugin.Context) error { return nil }

func testSatelliteConfig() satellite.Config {
	return satellite.Config{
		StartupTimeout:    2 * time.Second,
		CallTimeout:       2 * time.Second,
		TerminateGrace:    200 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  10 * time.Second,
		SampleInterval:    20 * time.Millisecond,
		MaxRestarts:       3,
		RestartWindow:     10 * time.Second,
		HealthyReset:      time.Hour,
		Backoff:           resilience.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	}
}

type fakeLaunchers struct {
	byProvider map[string]*testutil.FakeLauncher
}

func newFakeLaunchers() *fakeLaunchers {
	return &fakeLaunchers{byProvider: make(map[string]*testutil.FakeLauncher)}
}

func (f *fakeLaunchers) factory(desc plugin.Descriptor) satellite.Launcher {
	l := testutil.NewFakeLauncher(func(_ int, w *testutil.ScriptedWorker) testutil.ServeFunc {
		rt := worker.NewRuntime(echoPlugin{id: desc.ID}, worker.WithHeartbeatInterval(20*time.Millisecond))
		rt.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
			return payload, nil
		})
		rt.Handle("slow", func(context.Context, json.RawMessage) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return map[string]string{"provider": desc.ID}, nil
		})
		rt.HandleStream("count", func(_ context.Context, payload json.RawMessage, sink *worker.Sink) error {
			var n int
			_ = json.Unmarshal(payload, &n)
			for i := 0; i < n; i++ {
				if err := sink.Send(i); err != nil {
					return err
				}
			}
			return nil
		})
		return rt.Serve
	})
	f.byProvider[desc.ID] = l
	return l
}

func (f *fakeLaunchers) totalLaunches() int {
	n := 0
	for _, l := range f.byProvider {
		n += l.Launches()
	}
	return n
}

func newTestRouter(t *testing.T, descs ...plugin.Descriptor) (*router.Router, *fakeLaunchers) {
	t.Helper()
	reg := plugin.NewRegistry(logger.Nop(), plugin.NewStaticDiscoverer(descs...))
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	launchers := newFakeLaunchers()
	r := router.New(reg, testSatelliteConfig(),
		router.WithLogger(logger.Nop()),
		router.WithLauncherFactory(launchers.factory),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, launchers
}

func desc(id string, cat plugin.Category) plugin.Descriptor {
	return plugin.Descriptor{ID: id, Name: "Test " + id, Category: cat}
}

func TestRouterInvoke(t *testing.T) {
	r, _ := newTestRouter(t, desc("alpha", plugin.CategorySystem))

	raw, err := r.Invoke(context.Background(), "alpha", "echo", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil || out["k"] != "v" {
		t.Fatalf("result %s (err %v)", raw, err)
	}
}

func TestRouterUnknownProviderFailsFast(t *testing.T) {
	r, launchers := newTestRouter(t, desc("alpha", plugin.CategorySystem))

	start := time.Now()
	_, err := r.Invoke(context.Background(), "ghost", "echo", struct{}{})
	if errors.CodeOf(err) != errors.ErrCodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("registry miss must not wait on worker startup")
	}
	if launchers.totalLaunches() != 0 {
		t.Fatal("no worker may start for an unknown provider id")
	}
}

func TestRouterLazySatelliteCreation(t *testing.T) {
	r, launchers := newTestRouter(t,
		desc("alpha", plugin.CategorySystem),
		desc("beta", plugin.CategorySystem),
	)

	if launchers.totalLaunches() != 0 {
		t.Fatal("workers started before first call")
	}
	if _, err := r.Invoke(context.Background(), "alpha", "echo", "x"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if launchers.totalLaunches() != 1 {
		t.Fatalf("launched %d workers, want only alpha's", launchers.totalLaunches())
	}
}

func TestRouterRejectsReservedMethod(t *testing.T) {
	r, _ := newTestRouter(t, desc("alpha", plugin.CategorySystem))

	_, err := r.Invoke(context.Background(), "alpha", "initialize", struct{}{})
	if errors.CodeOf(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT for reserved method, got %v", err)
	}
}

func TestRouterCrossProviderParallelism(t *testing.T) {
	r, _ := newTestRouter(t,
		desc("alpha", plugin.CategorySystem),
		desc("beta", plugin.CategorySystem),
	)

	// Warm both satellites so startup does not skew the timing.
	for _, id := range []string{"alpha", "beta"} {
		if _, err := r.Invoke(context.Background(), id, "echo", "warm"); err != nil {
			t.Fatalf("warmup %s: %v", id, err)
		}
	}

	start := time.Now()
	errCh := make(chan error, 2)
	for _, id := range []string{"alpha", "beta"} {
		go func(id string) {
			_, err := r.Invoke(context.Background(), id, "slow", struct{}{})
			errCh <- err
		}(id)
	}
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("slow call: %v", err)
		}
	}
	// Serial execution would need at least 200ms.
	if elapsed := time.Since(start); elapsed > 180*time.Millisecond {
		t.Fatalf("calls to different providers serialized: %v", elapsed)
	}
}

func TestRouterStream(t *testing.T) {
	r, _ := newTestRouter(t, desc("alpha", plugin.CategorySystem))

	stream, err := r.InvokeStream(context.Background(), "alpha", "count", 3)
	if err != nil {
		t.Fatalf("invoke stream: %v", err)
	}
	defer stream.Close()

	n := 0
	for {
		_, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 3 {
		t.Fatalf("got %d chunks, want 3", n)
	}
}

type strictConfig struct {
	Model string `json:"model" validate:"required"`
}

func TestRouterValidatesProviderConfig(t *testing.T) {
	d := desc("strict", plugin.CategorySystem)
	d.ConfigSchema = strictConfig{}

	reg := plugin.NewRegistry(logger.Nop(), plugin.NewStaticDiscoverer(d))
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	launchers := newFakeLaunchers()
	r := router.New(reg, testSatelliteConfig(),
		router.WithLogger(logger.Nop()),
		router.WithLauncherFactory(launchers.factory),
		router.WithProviderConfig("strict", map[string]any{"wrong": true}),
	)

	_, err := r.Invoke(context.Background(), "strict", "echo", "x")
	if errors.CodeOf(err) != errors.ErrCodeConfigInvalid {
		t.Fatalf("expected CONFIG_INVALID, got %v", err)
	}
	if launchers.totalLaunches() != 0 {
		t.Fatal("invalid config must be rejected before the worker starts")
	}
}

func TestRouterResetUnknown(t *testing.T) {
	r, _ := newTestRouter(t, desc("alpha", plugin.CategorySystem))

	if err := r.Reset(context.Background(), "alpha"); errors.CodeOf(err) != errors.ErrCodeNotFound {
		t.Fatal("reset must require an active satellite")
	}
}

func TestRouterSnapshots(t *testing.T) {
	r, _ := newTestRouter(t,
		desc("bravo", plugin.CategorySystem),
		desc("alpha", plugin.CategorySystem),
	)
	for _, id := range []string{"bravo", "alpha"} {
		if _, err := r.Invoke(context.Background(), id, "echo", "x"); err != nil {
			t.Fatalf("invoke %s: %v", id, err)
		}
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].ProviderID != "alpha" || snaps[1].ProviderID != "bravo" {
		t.Fatalf("snapshots not sorted by id: %+v", snaps)
	}
	for _, snap := range snaps {
		if snap.State != satellite.StateReady {
			t.Fatalf("satellite %s in state %s", snap.ProviderID, snap.State)
		}
	}
}

func TestRouterShutdown(t *testing.T) {
	r, _ := newTestRouter(t, desc("alpha", plugin.CategorySystem))
	if _, err := r.Invoke(context.Background(), "alpha", "echo", "x"); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, err := r.Invoke(context.Background(), "alpha", "echo", "late")
	if errors.CodeOf(err) != errors.ErrCodeProviderUnavailable {
		t.Fatalf("expected PROVIDER_UNAVAILABLE after shutdown, got %v", err)
	}
}

func TestRouterComponentHealth(t *testing.T) {
	d := desc("alpha", plugin.CategorySystem)
	reg := plugin.NewRegistry(logger.Nop(), plugin.NewStaticDiscoverer(d))
	launchers := newFakeLaunchers()
	r := router.New(reg, testSatelliteConfig(),
		router.WithLogger(logger.Nop()),
		router.WithLauncherFactory(launchers.factory),
	)
	comp := router.NewComponent(reg, r)

	if err := comp.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = comp.Stop(ctx)
	})

	if _, err := r.Invoke(context.Background(), "alpha", "echo", "x"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if h := comp.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Fatalf("health %+v", h)
	}
}
