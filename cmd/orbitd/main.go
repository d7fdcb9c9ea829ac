// Command orbitd runs a provider host: it discovers provider binaries,
// supervises their satellites, and serves the admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/skillsenselab/orbit/config"
	"github.com/skillsenselab/orbit/host"
	"github.com/skillsenselab/orbit/version"
)

func main() {
	configFile := flag.String("config", "", "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetShortVersion())
		return
	}

	var opts []config.LoaderOption
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}

	cfg, err := host.LoadConfig("orbit", opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orbitd: load config: %v\n", err)
		os.Exit(1)
	}

	app, err := host.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orbitd: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "orbitd: %v\n", err)
		os.Exit(1)
	}
}
