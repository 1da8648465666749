package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwv/linkpass/survey"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *survey.Config
	Network    *survey.MemoryNetwork
	Session    *survey.Session
	MQTTClient *survey.MQTTClient
	Publisher  *survey.Publisher
	EventLog   *survey.EventLog

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	SimulateStep float64

	out io.Writer
}

// eventQueueSize bounds the events waiting for the broker.
const eventQueueSize = 256

// NewApp creates a new App instance that reports to out.
func NewApp(out io.Writer) *App {
	return &App{out: out}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.SimulateStep = opts.SimulateStep
}

// load reads the config file and the line network it points at.
func (a *App) load() error {
	if a.Config == nil {
		cfg, err := survey.LoadConfig(a.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
		}
		a.Config = cfg
		log.Printf("Loaded config from %s", a.ConfigFile)
	}
	if a.Network == nil {
		var (
			n   *survey.MemoryNetwork
			err error
		)
		if src := a.Config.Network; survey.IsRemoteNetwork(src.Path) {
			n, err = survey.FetchNetwork(context.Background(), src.Path, src.IDProperty)
		} else {
			n, err = survey.LoadNetwork(src.Path, src.IDProperty)
		}
		if err != nil {
			return err
		}
		a.Network = n
		log.Printf("Loaded %d line features from %s", n.Len(), a.Config.Network.Path)
	}
	return nil
}

// RunCheckConfig validates config and network and prints what would run.
func (a *App) RunCheckConfig() error {
	if err := a.load(); err != nil {
		return err
	}
	alg := a.Config.Algorithm
	fmt.Fprintln(a.out, "Config OK")
	fmt.Fprintf(a.out, "  network:  %s (%d features)\n", a.Config.Network.Path, a.Network.Len())
	fmt.Fprintf(a.out, "  coverage: %s, overlap %.2f, buffer %.2fm\n", alg.CoverageStrategy, alg.OverlapRatio, alg.BufferRadiusM)
	fmt.Fprintf(a.out, "  matching: radius %.2fm, step %.2fm, jump ceiling %.2fm\n", alg.SearchRadiusM, alg.InterpolationStepM, alg.JumpCeilingM)
	fmt.Fprintf(a.out, "  counter:  %s %s (default %d), cooldown %dms\n", alg.Mode, alg.TargetField, alg.TargetFieldDefault, alg.CooldownMs)
	return nil
}

// RunReplay feeds a recorded walk through a fresh session and prints passes.
func (a *App) RunReplay(path string) error {
	if err := a.load(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading replay file: %w", err)
	}
	positions, err := survey.DecodePositions(data)
	if err != nil {
		return fmt.Errorf("parsing replay file %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "Replaying %d positions from %s\n\n", len(positions), path)
	return a.replay(positions)
}

// RunSimulate walks one feature from start to end at SimulateStep spacing,
// one fix per second.
func (a *App) RunSimulate(featureID string) error {
	if err := a.load(); err != nil {
		return err
	}
	f, ok := a.Network.Feature(featureID)
	if !ok {
		return fmt.Errorf("unknown feature %q", featureID)
	}
	step := a.SimulateStep
	if step <= 0 {
		step = 1
	}

	start := time.Now().UnixMilli()
	var positions []survey.Position
	for i, pt := range survey.ResampleLine(f.Geometry, step) {
		positions = append(positions, survey.Position{Lon: pt[0], Lat: pt[1], TimestampMs: start + int64(i)*1000})
	}
	fmt.Fprintf(a.out, "Simulating %d fixes along %s (%.1fm)\n\n", len(positions), featureID, survey.LineLengthM(f.Geometry))
	return a.replay(positions)
}

func (a *App) replay(positions []survey.Position) error {
	session := survey.NewSession(a.Config.Algorithm, a.Network)
	session.Start()

	passes := 0
	for _, p := range positions {
		events, err := session.Process(p)
		if errors.Is(err, survey.ErrInputRejected) {
			log.Printf("[REPLAY] skipping position at %d: %v", p.TimestampMs, err)
			continue
		}
		if err != nil {
			log.Printf("[REPLAY] %v", err)
		}
		for _, e := range events {
			switch ev := e.(type) {
			case survey.CoveragePassed:
				passes++
				fmt.Fprintf(a.out, "%d  PASS    %-20s coverage %.2f (%s)\n",
					ev.TimestampMs, ev.FeatureID, ev.Coverage.Ratio, ev.Coverage.Strategy)
			case survey.AttributeUpdated:
				fmt.Fprintf(a.out, "%d  UPDATE  %-20s %s %v -> %d\n",
					ev.TimestampMs, ev.FeatureID, ev.Field, ev.OldValue, ev.NewValue)
			}
		}
	}
	fmt.Fprintf(a.out, "\n%d pass(es)\n", passes)
	return nil
}

// RunService runs the survey session until interrupted, with MQTT and/or
// HTTP attached as configured.
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve runs the service until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	fmt.Fprintln(a.out, "Starting linkpass service...")
	if err := a.load(); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.Session = survey.NewSession(a.Config.Algorithm, a.Network)
	log.Printf("Session %s", a.Session.ID())

	if path := a.Config.EventLog.Path; path != "" {
		el, err := survey.OpenEventLog(path)
		if err != nil {
			return err
		}
		defer el.Close()
		a.EventLog = el
		a.Session.Subscribe(el.Handler(a.Session.ID()))
	}

	go func() {
		if err := a.Session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[SURVEY] session stopped: %v", err)
		}
	}()

	settings := survey.MQTTSettings(a.Config.MQTT)
	if a.MqttMode {
		client, err := survey.InitMQTT(a.Config.MQTT, func(p survey.Position) {
			if err := a.Session.Submit(ctx, p); err != nil {
				log.Printf("[MQTT] dropping position: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			return fmt.Errorf("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = client
		defer client.Disconnect()
		a.attachPublisher(ctx, survey.NewPublisher(client.GetClient(), settings.PublishPrefix))
		go a.statusLoop(ctx, a.Config.Survey.StatusInterval)
	}

	if a.Config.Survey.AutoStart {
		a.Session.Start()
	}

	port := a.HttpPort
	if port == 0 {
		port = a.Config.HTTP.Port
	}
	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newHTTPServer(a.Session, a.Network, a.Config, a.Publisher, a.EventLog),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			fmt.Fprintf(a.out, "HTTP server starting on %s\n", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
				stop()
			}
		}()
	}

	a.printServiceInfo(settings, port)

	<-ctx.Done()

	fmt.Fprintln(a.out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

// attachPublisher forwards every session event to MQTT until ctx is done.
func (a *App) attachPublisher(ctx context.Context, p *survey.Publisher) {
	a.Publisher = p
	q := survey.NewEventQueue(p, eventQueueSize)
	a.Session.Subscribe(q.Handler())
	go q.Run(ctx)
}

// statusLoop publishes the session status every interval once a position
// has been seen.
func (a *App) statusLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publishStatus()
		}
	}
}

func (a *App) publishStatus() {
	status, err := a.Session.StatusPayload()
	if errors.Is(err, survey.ErrNoFix) {
		return
	}
	if err != nil {
		log.Printf("[MQTT] building status: %v", err)
		return
	}
	if err := a.Publisher.PublishStatus(status); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

func (a *App) printServiceInfo(settings survey.MQTTConfig, port int) {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "  session:   %s\n", a.Session.ID())
	fmt.Fprintf(a.out, "  surveying: %v\n", a.Session.Surveying())

	if a.MqttMode {
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Positions from: %s\n", settings.PositionTopic)
		fmt.Fprintf(a.out, "  Status:         %s/status\n", settings.PublishPrefix)
		fmt.Fprintf(a.out, "  Events:         %s/events, %s/events/match\n", settings.PublishPrefix, settings.PublishPrefix)
		fmt.Fprintf(a.out, "  Notes:          %s/notes\n", settings.PublishPrefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", port)
		fmt.Fprintln(a.out, "  GET  /health           - Health check")
		fmt.Fprintln(a.out, "  GET  /status           - Current position and match")
		fmt.Fprintln(a.out, "  POST /survey/start     - Start matching positions")
		fmt.Fprintln(a.out, "  POST /survey/stop      - Stop matching positions")
		fmt.Fprintln(a.out, "  POST /positions        - Submit a position")
		fmt.Fprintln(a.out, "  POST /notes            - Send a text note")
		fmt.Fprintln(a.out, "  POST /notes/image      - Send an image note")
		fmt.Fprintln(a.out, "  GET  /config           - Active configuration")
		fmt.Fprintln(a.out, "  PUT  /config/algorithm - Replace the engine configuration")
		fmt.Fprintln(a.out, "  GET  /network.geojson  - Network with current counters")
		fmt.Fprintln(a.out, "  GET  /traces           - Active traces")
		fmt.Fprintln(a.out, "  GET  /traces.geojson   - Active traces as GeoJSON")
		fmt.Fprintln(a.out, "  GET  /gpslog.geojson   - Raw GPS log")
		fmt.Fprintln(a.out, "  GET  /passes           - Recorded passes")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
