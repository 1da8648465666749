package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile   string
	MqttMode     bool
	HttpMode     bool
	HttpPort     int
	ReplayFile   string
	SimulateID   string
	SimulateStep float64
	CheckConfig  bool
}

// Runner is the set of modes main can dispatch to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunService() error
	RunReplay(path string) error
	RunSimulate(featureID string) error
	RunCheckConfig() error
}

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("linkpass", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Consume positions and publish status/events over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config, 4040)")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Replay a recorded JSON array of positions and exit")
	fs.StringVar(&opts.SimulateID, "simulate", "", "Walk the given feature end to end and report passes")
	fs.Float64Var(&opts.SimulateStep, "simulate-step", 1.0, "Spacing in meters between simulated fixes")
	fs.BoolVar(&opts.CheckConfig, "check-config", false, "Validate config and network, then exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "linkpass version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.CheckConfig:
		return app.RunCheckConfig()
	case opts.ReplayFile != "":
		return app.RunReplay(opts.ReplayFile)
	case opts.SimulateID != "":
		return app.RunSimulate(opts.SimulateID)
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "linkpass: no mode selected")
	fmt.Fprintln(out, "Use --mqtt to consume positions from the broker")
	fmt.Fprintln(out, "Use --http to serve the survey API")
	fmt.Fprintln(out, "Use --mqtt --http to run both together")
	fmt.Fprintln(out, "Use --replay=positions.json to replay a recorded walk")
	fmt.Fprintln(out, "Use --simulate=FEATURE_ID to walk one feature end to end")
	fmt.Fprintln(out, "Use --check-config to validate config.yaml and the network")
	return nil
}
