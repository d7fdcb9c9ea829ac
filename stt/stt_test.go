package stt_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/resilience"
	"github.com/skillsenselab/orbit/satellite"
	"github.com/skillsenselab/orbit/stt"
	"github.com/skillsenselab/orbit/testutil"
)

type fakeSTT struct{ loads atomic.Int32 }

func (*fakeSTT) ID() string                                       { return "fake-stt" }
func (*fakeSTT) Name() string                                     { return "Fake STT" }
func (*fakeSTT) Category() plugin.Category                        { return plugin.CategorySTT }
func (*fakeSTT) ConfigSchema() any                                { return nil }
func (*fakeSTT) Initialize(context.Context, plugin.Context) error { return nil }

func (d *fakeSTT) Load(context.Context) error {
	d.loads.Add(1)
	return nil
}

func (*fakeSTT) Transcribe(_ context.Context, req stt.Request) (*stt.Response, error) {
	return &stt.Response{
		Text:     "hello from " + req.AudioPath,
		Language: req.Language,
		Segments: []stt.Segment{{Start: 0, End: 1.5, Text: "hello"}},
		Duration: 1.5,
	}, nil
}

// supervisorInvoker adapts one supervisor to the client's Invoker shape.
type supervisorInvoker struct{ sup *satellite.Supervisor }

func (i supervisorInvoker) Invoke(ctx context.Context, _ string, method string, payload any) (json.RawMessage, error) {
	return i.sup.Invoke(ctx, method, payload)
}

func startDriver(t *testing.T) (*stt.Client, *fakeSTT) {
	t.Helper()
	driver := &fakeSTT{}
	launcher := testutil.NewFakeLauncher(func(_ int, _ *testutil.ScriptedWorker) testutil.ServeFunc {
		return stt.Serve(driver).Serve
	})
	sup := satellite.New(
		plugin.Descriptor{ID: "fake-stt", Name: "Fake STT", Category: plugin.CategorySTT},
		satellite.Config{
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
		},
		launcher,
		satellite.WithLogger(logger.Nop()),
	)
	sup.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return stt.NewClient(supervisorInvoker{sup: sup}, "fake-stt"), driver
}

func TestTranscribe(t *testing.T) {
	client, _ := startDriver(t)

	resp, err := client.Transcribe(context.Background(), stt.Request{
		AudioPath: "/tmp/sample.wav",
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if resp.Text != "hello from /tmp/sample.wav" {
		t.Fatalf("text %q", resp.Text)
	}
	if resp.Language != "en" || len(resp.Segments) != 1 || resp.Duration != 1.5 {
		t.Fatalf("response %+v", resp)
	}
}

func TestTranscribeRequiresAudioPath(t *testing.T) {
	client, _ := startDriver(t)

	_, err := client.Transcribe(context.Background(), stt.Request{Language: "en"})
	if errors.CodeOf(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestLoadRunsDuringStartup(t *testing.T) {
	client, driver := startDriver(t)

	if _, err := client.Transcribe(context.Background(), stt.Request{AudioPath: "/tmp/a.wav"}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if n := driver.loads.Load(); n != 1 {
		t.Fatalf("Load called %d times during startup, want 1", n)
	}
}
