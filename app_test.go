package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/linkpass/survey"
)

func TestMain(m *testing.M) {
	survey.SetLogger(nil)
	os.Exit(m.Run())
}

// meters converts a distance along the equator to degrees.
func meters(m float64) float64 {
	return m / (orb.EarthRadius * math.Pi / 180)
}

// testNetwork holds L1, a 100 m line east along the equator with
// target_cnt 3, and L2, a short line 1 km north of it.
func testNetwork() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	l1 := geojson.NewFeature(orb.LineString{{0, 0}, {meters(100), 0}})
	l1.ID = "L1"
	l1.Properties["target_cnt"] = 3
	fc.Append(l1)

	l2 := geojson.NewFeature(orb.LineString{{0, meters(1000)}, {meters(20), meters(1000)}})
	l2.ID = "L2"
	fc.Append(l2)
	return fc
}

func mustTestNetwork(t *testing.T) *survey.MemoryNetwork {
	t.Helper()
	n, err := survey.NetworkFromGeoJSON(testNetwork(), "")
	require.NoError(t, err)
	return n
}

// writeFixtures writes config.yaml and links.geojson into a temp dir and
// returns the config path.
func writeFixtures(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(testNetwork())
	require.NoError(t, err)
	networkPath := filepath.Join(dir, "links.geojson")
	require.NoError(t, os.WriteFile(networkPath, data, 0644))

	cfg := fmt.Sprintf("network:\n  path: %s\n%s", networkPath, extra)
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))
	return configPath
}

// walkEast returns positions every meter from 0 to toM along the equator,
// one second apart.
func walkEast(toM int, startMs int64) []survey.Position {
	var out []survey.Position
	for i := 0; i <= toM; i++ {
		out = append(out, survey.Position{Lon: meters(float64(i)), Lat: 0, TimestampMs: startMs + int64(i)*1000})
	}
	return out
}

func TestNewApp(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	if app == nil {
		t.Fatal("NewApp returned nil")
	}
	if app.Session != nil || app.Config != nil {
		t.Error("NewApp should not load anything")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{
		ConfigFile:   "test-config.yaml",
		HttpPort:     9090,
		MqttMode:     true,
		HttpMode:     true,
		SimulateStep: 2,
	})

	if app.ConfigFile != "test-config.yaml" {
		t.Errorf("expected ConfigFile test-config.yaml, got %s", app.ConfigFile)
	}
	if app.HttpPort != 9090 {
		t.Errorf("expected HttpPort 9090, got %d", app.HttpPort)
	}
	if !app.MqttMode || !app.HttpMode {
		t.Error("expected MqttMode and HttpMode true")
	}
	if app.SimulateStep != 2 {
		t.Errorf("expected SimulateStep 2, got %f", app.SimulateStep)
	}
}

func TestRunCheckConfig(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(&out)
	app.ConfigFile = writeFixtures(t, "algorithm:\n  mode: inc\n")

	require.NoError(t, app.RunCheckConfig())
	assert.Contains(t, out.String(), "Config OK")
	assert.Contains(t, out.String(), "(2 features)")
	assert.Contains(t, out.String(), "inc target_cnt")
}

func TestRunCheckConfig_RemoteNetwork(t *testing.T) {
	data, err := json.Marshal(testNetwork())
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("network:\n  path: "+srv.URL+"/links.geojson\n"), 0644))

	var out bytes.Buffer
	app := NewApp(&out)
	app.ConfigFile = cfgPath
	require.NoError(t, app.RunCheckConfig())
	assert.Contains(t, out.String(), "(2 features)")
}

func TestRunCheckConfig_Errors(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	err := app.RunCheckConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("network:\n  path: "+filepath.Join(dir, "nope.geojson")+"\n"), 0644))
	app = NewApp(&bytes.Buffer{})
	app.ConfigFile = cfgPath
	assert.Error(t, app.RunCheckConfig(), "missing network file")
}

func TestRunReplay(t *testing.T) {
	configPath := writeFixtures(t, "")
	data, err := json.Marshal(walkEast(96, 1000))
	require.NoError(t, err)
	replayPath := filepath.Join(filepath.Dir(configPath), "walk.json")
	require.NoError(t, os.WriteFile(replayPath, data, 0644))

	var out bytes.Buffer
	app := NewApp(&out)
	app.ConfigFile = configPath
	require.NoError(t, app.RunReplay(replayPath))

	got := out.String()
	assert.Contains(t, got, "Replaying 97 positions")
	assert.Equal(t, 1, strings.Count(got, "PASS"))
	assert.Contains(t, got, "target_cnt 3 -> 2")
	assert.Contains(t, got, "1 pass(es)")

	v, ok := app.Network.Attribute("L1", "target_cnt")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestRunReplay_BadFile(t *testing.T) {
	configPath := writeFixtures(t, "")
	replayPath := filepath.Join(filepath.Dir(configPath), "walk.json")
	require.NoError(t, os.WriteFile(replayPath, []byte(`[{"lng": 0}]`), 0644))

	app := NewApp(&bytes.Buffer{})
	app.ConfigFile = configPath
	err := app.RunReplay(replayPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position 0")

	assert.Error(t, app.RunReplay(filepath.Join(t.TempDir(), "none.json")))
}

func TestRunSimulate(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(&out)
	app.ConfigFile = writeFixtures(t, "")
	app.SimulateStep = 1

	require.NoError(t, app.RunSimulate("L1"))
	assert.Contains(t, out.String(), "fixes along L1 (100.0m)")
	assert.Contains(t, out.String(), "1 pass(es)")

	assert.ErrorContains(t, app.RunSimulate("L9"), "unknown feature")
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := survey.DefaultConfig()
	cfg.Survey.AutoStart = true
	cfg.EventLog.Path = filepath.Join(t.TempDir(), "passes.db")

	var out bytes.Buffer
	app := NewApp(&out)
	app.Config = &cfg
	app.Network = mustTestNetwork(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Serve(ctx))

	assert.NotNil(t, app.EventLog)
	assert.True(t, app.Session.Surveying(), "autoStart starts the session")
	assert.Contains(t, out.String(), "Service stopped")
}

func TestServe_MQTTRequiresBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfg := survey.DefaultConfig()
	app := NewApp(&bytes.Buffer{})
	app.Config = &cfg
	app.Network = mustTestNetwork(t)
	app.MqttMode = true

	err := app.Serve(context.Background())
	assert.ErrorContains(t, err, "MQTT broker not configured")
}

func TestAttachPublisher_ForwardsEvents(t *testing.T) {
	mock := survey.NewMockClient()
	mock.SetConnected(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp(&bytes.Buffer{})
	app.Session = survey.NewSession(survey.DefaultAlgorithmConfig(), mustTestNetwork(t))
	app.attachPublisher(ctx, survey.NewPublisher(mock, "crew"))

	app.publishStatus()
	assert.Empty(t, mock.PublishedOn("crew/status"), "no status before the first fix")

	app.Session.Start()
	for _, p := range walkEast(96, 1000) {
		_, err := app.Session.Process(p)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return len(mock.PublishedOn("crew/events")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, mock.PublishedOn("crew/events/match"))
	passes := mock.PublishedOn("crew/events")
	require.Len(t, passes, 2)

	var env struct {
		Type  string                 `json:"type"`
		Event map[string]interface{} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(passes[0], &env))
	assert.Equal(t, "coveragePassed", env.Type)
	assert.Equal(t, "L1", env.Event["featureId"])

	app.publishStatus()
	status := mock.PublishedOn("crew/status")
	require.Len(t, status, 1)
	assert.Contains(t, string(status[0]), `"matchedLinkId":"L1"`)
}
