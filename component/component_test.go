package component

import (
	"context"
	"errors"
	"testing"

	"github.com/skillsenselab/orbit/logger"
)

type fakeComponent struct {
	name    string
	events  *[]string
	failOn  string
	healthy bool
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	if f.failOn == "start" {
		return errors.New("start failed")
	}
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	if f.failOn == "stop" {
		return errors.New("stop failed")
	}
	return nil
}

func (f *fakeComponent) Health(ctx context.Context) Health {
	status := StatusHealthy
	if !f.healthy {
		status = StatusUnhealthy
	}
	return Health{Name: f.name, Status: status}
}

func TestStartStopOrdering(t *testing.T) {
	var events []string
	reg := NewRegistry(logger.Nop())
	for _, name := range []string{"registry", "router", "server"} {
		if err := reg.Register(&fakeComponent{name: name, events: &events, healthy: true}); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	if err := reg.StartAll(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := reg.StopAll(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	want := []string{
		"start:registry", "start:router", "start:server",
		"stop:server", "stop:router", "stop:registry",
	}
	if len(events) != len(want) {
		t.Fatalf("events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}
}

func TestDuplicateRegistration(t *testing.T) {
	var events []string
	reg := NewRegistry(logger.Nop())
	c := &fakeComponent{name: "router", events: &events}
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(c); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestStartFailureStopsEarly(t *testing.T) {
	var events []string
	reg := NewRegistry(logger.Nop())
	_ = reg.Register(&fakeComponent{name: "a", events: &events})
	_ = reg.Register(&fakeComponent{name: "b", events: &events, failOn: "start"})
	_ = reg.Register(&fakeComponent{name: "c", events: &events})

	if err := reg.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	for _, e := range events {
		if e == "start:c" {
			t.Fatal("component after the failure must not start")
		}
	}

	// only started components stop
	events = events[:0]
	if err := reg.StopAll(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(events) != 1 || events[0] != "stop:a" {
		t.Fatalf("expected only stop:a, got %v", events)
	}
}

func TestHealthAll(t *testing.T) {
	var events []string
	reg := NewRegistry(logger.Nop())
	_ = reg.Register(&fakeComponent{name: "a", events: &events, healthy: true})
	_ = reg.Register(&fakeComponent{name: "b", events: &events})

	health := reg.HealthAll(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected 2 health entries, got %d", len(health))
	}
	if health[0].Status != StatusHealthy || health[1].Status != StatusUnhealthy {
		t.Fatalf("unexpected statuses: %v", health)
	}
}
