package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	sArg   string
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }
func (m *mockApp) RunCheckConfig() error        { m.called["RunCheckConfig"] = true; return m.err }
func (m *mockApp) RunReplay(s string) error {
	m.called["RunReplay"] = true
	m.sArg = s
	return m.err
}
func (m *mockApp) RunSimulate(s string) error {
	m.called["RunSimulate"] = true
	m.sArg = s
	return m.err
}

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, *mockApp)
	}{
		{
			name:           "MQTT",
			args:           []string{"--mqtt", "--config", "/etc/linkpass.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.opts.ConfigFile != "/etc/linkpass.yaml" {
					t.Errorf("expected ConfigFile /etc/linkpass.yaml, got %s", m.opts.ConfigFile)
				}
				if !m.opts.MqttMode || m.opts.HttpMode {
					t.Errorf("expected only MqttMode, got %+v", m.opts)
				}
			},
		},
		{
			name:           "HTTP",
			args:           []string{"--http", "--http-port", "9090"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", m.opts.HttpPort)
				}
				if m.opts.ConfigFile != "config.yaml" {
					t.Errorf("expected default ConfigFile, got %s", m.opts.ConfigFile)
				}
			},
		},
		{
			name:           "Replay",
			args:           []string{"--replay", "walk.json", "--mqtt"},
			expectedCalled: "RunReplay",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.sArg != "walk.json" {
					t.Errorf("expected replay file walk.json, got %s", m.sArg)
				}
				if m.called["RunService"] {
					t.Error("replay must not start the service")
				}
			},
		},
		{
			name:           "Simulate",
			args:           []string{"--simulate", "L1", "--simulate-step", "2.5"},
			expectedCalled: "RunSimulate",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.sArg != "L1" {
					t.Errorf("expected feature L1, got %s", m.sArg)
				}
				if m.opts.SimulateStep != 2.5 {
					t.Errorf("expected SimulateStep 2.5, got %f", m.opts.SimulateStep)
				}
			},
		},
		{
			name:           "CheckConfig",
			args:           []string{"--check-config", "--replay", "walk.json"},
			expectedCalled: "RunCheckConfig",
			verifyOpts: func(t *testing.T, m *mockApp) {
				if m.called["RunReplay"] {
					t.Error("check-config takes precedence over replay")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app)
			}
		})
	}
}

func TestRun_PropagatesModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--check-config"}, &out, app); !errors.Is(err, app.err) {
		t.Errorf("expected mode error, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp from --help, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of linkpass") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "-mqtt") {
		t.Errorf("expected usage to document -mqtt, got: %s", out.String())
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "linkpass version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}

	if !strings.Contains(out.String(), "no mode selected") {
		t.Errorf("expected output to list modes, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
