// Command orbit-echo is a minimal provider worker, useful for smoke-testing
// a host deployment. It answers "echo" with its payload and "upper" with the
// payload's text field upcased.
package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/worker"
)

type echoPlugin struct{}

func (echoPlugin) ID() string                { return "orbit-echo" }
func (echoPlugin) Name() string              { return "Echo Provider" }
func (echoPlugin) Category() plugin.Category { return plugin.CategorySystem }
func (echoPlugin) ConfigSchema() any         { return nil }

func (echoPlugin) Initialize(_ context.Context, _ plugin.Context) error {
	return nil
}

func main() {
	rt := worker.NewRuntime(echoPlugin{})

	rt.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
		return payload, nil
	})
	rt.Handle("upper", func(_ context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		return map[string]string{"text": strings.ToUpper(req.Text)}, nil
	})

	os.Exit(worker.Main(echoPlugin{}, rt))
}
