package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/plugin"
)

// Main is the entry point for a provider binary. It implements the two
// commands the host expects: `describe` prints the discovery manifest and
// exits, `serve` runs the wire protocol on stdin/stdout until the host
// closes stdin.
//
// Typical provider main:
//
//	func main() {
//		p := mystt.New()
//		rt := worker.NewRuntime(p)
//		rt.Handle(stt.MethodTranscribe, ...)
//		os.Exit(worker.Main(p, rt))
//	}
func Main(p plugin.Plugin, rt *Runtime) int {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "describe":
		manifest := map[string]string{
			"id":       p.ID(),
			"name":     p.Name(),
			"category": p.Category().String(),
		}
		out, err := json.Marshal(manifest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "describe: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0

	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
		defer stop()

		if !rt.customLog {
			cfg := logger.Config{Output: "stderr", Format: "json"}
			cfg.ApplyDefaults()
			rt.log = logger.New(&cfg, p.ID())
		}
		if err := rt.Serve(ctx, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want describe or serve)\n", cmd)
		return 2
	}
}
