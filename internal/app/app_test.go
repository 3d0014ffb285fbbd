package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voicegate/internal/app"
	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/pkg/audio"
	audiomock "github.com/MrWong99/voicegate/pkg/audio/mock"
	"github.com/MrWong99/voicegate/pkg/enrollment"
	actuatemock "github.com/MrWong99/voicegate/pkg/provider/actuate/mock"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	classifymock "github.com/MrWong99/voicegate/pkg/provider/classify/mock"
	embeddingmock "github.com/MrWong99/voicegate/pkg/provider/embedding/mock"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
	vadmock "github.com/MrWong99/voicegate/pkg/provider/vad/mock"
)

// operator is the enrolled voice; the embedding mock always returns it.
var operator = []float32{1, 0, 0, 0}

// testConfig returns a valid config with an in-memory store and the admin
// API disabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Enrollment.Backend = config.BackendMemory
	cfg.Enrollment.Dimensions = len(operator)
	cfg.Providers.VAD.Name = "energy"
	return cfg
}

type testProviders struct {
	source     *audiomock.Source
	device     *audiomock.Device
	vad        *vadmock.Engine
	embedding  *embeddingmock.Provider
	classifier *classifymock.Provider
	actuator   *actuatemock.Actuator
}

// newProviders returns doubles for a speaker who always speaks, always
// matches the operator and is classified male.
func newProviders() *testProviders {
	src := audiomock.NewSource(audio.Mono16k)
	return &testProviders{
		source:     src,
		device:     &audiomock.Device{Source: src},
		vad:        &vadmock.Engine{Session: &vadmock.Session{Default: vad.Result{Speech: true, Probability: 0.9}}},
		embedding:  &embeddingmock.Provider{EmbedResult: operator},
		classifier: &classifymock.Provider{ClassifyResult: classify.LabelMale},
		actuator:   &actuatemock.Actuator{},
	}
}

func (p *testProviders) providers() *app.Providers {
	return &app.Providers{
		Device:     p.device,
		VAD:        p.vad,
		Embedding:  p.embedding,
		Classifier: p.classifier,
		Actuator:   p.actuator,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// tone returns n samples of a 220 Hz sine at half scale.
func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(16000 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return out
}

func newApp(t *testing.T, cfg *config.Config, p *testProviders, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithLogger(quietLogger()), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, p.providers(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), newProviders())
	if a.Gate() == nil || a.Matcher() == nil || a.Store() == nil || a.Hub() == nil {
		t.Fatal("New() left a subsystem nil")
	}
	if a.Addr() != nil {
		t.Errorf("Addr() = %v, want nil with the API disabled", a.Addr())
	}
	if a.Gate().Running() {
		t.Error("gate is running before Run")
	}
	if got := a.Matcher().Thresholds().Verify; got != 0.85 {
		t.Errorf("verify threshold = %v, want 0.85", got)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config, *app.Providers)
		wantErr string
	}{
		{
			name:    "missing device",
			mutate:  func(_ *config.Config, p *app.Providers) { p.Device = nil },
			wantErr: "device provider is required",
		},
		{
			name: "missing classifier and actuator",
			mutate: func(_ *config.Config, p *app.Providers) {
				p.Classifier = nil
				p.Actuator = nil
			},
			wantErr: "actuator provider is required",
		},
		{
			name:    "dimension mismatch",
			mutate:  func(c *config.Config, _ *app.Providers) { c.Enrollment.Dimensions = 192 },
			wantErr: "produces 4 dimensions",
		},
		{
			name:    "unknown target label",
			mutate:  func(c *config.Config, _ *app.Providers) { c.Gate.TargetLabel = "robot" },
			wantErr: "target_label",
		},
		{
			name:    "bad features",
			mutate:  func(c *config.Config, _ *app.Providers) { c.Features.HopSize = 0 },
			wantErr: "init features",
		},
		{
			name:    "invalid listen address",
			mutate:  func(c *config.Config, _ *app.Providers) { c.Server.ListenAddr = "256.0.0.1:0" },
			wantErr: "listen on",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			p := newProviders().providers()
			tc.mutate(cfg, p)
			_, err := app.New(context.Background(), cfg, p, app.WithLogger(quietLogger()), app.WithMetrics(testMetrics(t)))
			if err == nil {
				t.Fatal("New() returned nil error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestNew_SQLiteBackendReadiness(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enrollment.Backend = config.BackendSQLite
	cfg.Enrollment.SQLitePath = filepath.Join(t.TempDir(), "enroll.db")
	a := newApp(t, cfg, newProviders())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The gate has not been started yet.
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body.Checks["enrollment_store"] != "ok" {
		t.Errorf("enrollment_store check = %q, want ok", body.Checks["enrollment_store"])
	}
	if !strings.HasPrefix(body.Checks["gate"], "fail") {
		t.Errorf("gate check = %q, want fail", body.Checks["gate"])
	}
	for _, name := range []string{"embedding_circuit", "classifier_circuit"} {
		if body.Checks[name] != "ok" {
			t.Errorf("%s check = %q, want ok", name, body.Checks[name])
		}
	}
}

// ── Run ──────────────────────────────────────────────────────────────────────

func TestApp_RunTriggersAndEndsWithStream(t *testing.T) {
	t.Parallel()

	p := newProviders()
	store := enrollment.NewMemStore(enrollment.NewRecord(operator, "", enrollment.ProvenanceOperator, time.Now()))
	a := newApp(t, testConfig(), p, app.WithStore(store))

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	p.source.Push(tone(4096))

	select {
	case <-p.actuator.Fired():
	case <-time.After(5 * time.Second):
		t.Fatal("actuator was not triggered")
	}

	p.source.End()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil at end of stream", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the stream ended")
	}

	if got := p.classifier.CallCount(); got != 1 {
		t.Errorf("Classify calls = %d, want 1", got)
	}
	if a.Gate().Running() {
		t.Error("gate still running after end of stream")
	}
}

func TestApp_RunStartFailure(t *testing.T) {
	t.Parallel()

	p := newProviders()
	p.device.OpenErr = fmt.Errorf("no microphone: %w", audio.ErrDeviceUnavailable)
	a := newApp(t, testConfig(), p)

	err := a.Run(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Run() = %v, want ErrDeviceUnavailable", err)
	}
}

func TestApp_RunReadErrorWithoutAPI(t *testing.T) {
	t.Parallel()

	p := newProviders()
	p.source.ReadErr = errors.New("usb unplugged")
	a := newApp(t, testConfig(), p)

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "usb unplugged") {
		t.Errorf("Run() = %v, want the read error", err)
	}
}

func TestApp_RunServesAPIAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	p := newProviders()
	a := newApp(t, cfg, p)
	if a.Addr() == nil {
		t.Fatal("Addr() = nil with the API enabled")
	}
	base := "http://" + a.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	// Ready once the gate is listening.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("/readyz never became ready (last err %v)", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(base + "/v1/state")
	if err != nil {
		t.Fatalf("GET /v1/state: %v", err)
	}
	var st struct {
		State string `json:"state"`
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.State != "listening" {
		t.Errorf("state = %q, want listening", st.State)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if !p.source.Closed() {
		t.Error("audio source not closed by Shutdown")
	}
	if a.Hub().Subscribers() != 0 {
		t.Errorf("hub subscribers = %d after shutdown", a.Hub().Subscribers())
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), newProviders())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}
	// A second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() returned error: %v", err)
	}
}

func TestApp_ShutdownExpiredContext(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), newProviders())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
}

// ── Hot reload ───────────────────────────────────────────────────────────────

const reloadYAML = `
server:
  log_level: %s
matcher:
  verify_threshold: %v
gate:
  cooldown: %s
providers:
  device:
    name: wav
    options:
      path: unused.wav
  vad:
    name: energy
  embedding:
    name: onnx
    model: models/ecapa.onnx
  classifier:
    name: onnx
    model: models/gender.onnx
  actuator:
    name: http
    base_url: http://127.0.0.1:9000
    api_key: secret
enrollment:
  backend: memory
  dimensions: 4
`

func writeReloadConfig(t *testing.T, path, level string, verify float64, cooldown string) {
	t.Helper()
	data := fmt.Sprintf(reloadYAML, level, verify, cooldown)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestApp_ConfigHotReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voicegate.yaml")
	writeReloadConfig(t, path, "info", 0.85, "5s")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var level slog.LevelVar
	a := newApp(t, cfg, newProviders(),
		app.WithLevelVar(&level),
		app.WithConfigWatch(path, config.WithInterval(20*time.Millisecond)),
	)

	time.Sleep(100 * time.Millisecond)
	writeReloadConfig(t, path, "debug", 0.7, "2s")

	deadline := time.Now().Add(5 * time.Second)
	for {
		pol := a.Gate().Policy()
		th := a.Matcher().Thresholds()
		if pol.Cooldown == 2*time.Second && th.Verify == 0.7 && level.Level() == slog.LevelDebug {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("config not applied: cooldown=%s verify=%v level=%s", pol.Cooldown, th.Verify, level.Level())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestApp_ConfigReloadInvalidKeepsPolicy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voicegate.yaml")
	writeReloadConfig(t, path, "info", 0.85, "5s")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := newApp(t, cfg, newProviders(), app.WithConfigWatch(path, config.WithInterval(20*time.Millisecond)))

	time.Sleep(100 * time.Millisecond)
	// A threshold above 1 fails validation; the watcher keeps the old config.
	writeReloadConfig(t, path, "info", 1.5, "1s")
	time.Sleep(300 * time.Millisecond)

	if got := a.Gate().Policy().Cooldown; got != 5*time.Second {
		t.Errorf("cooldown = %s, want 5s after an invalid reload", got)
	}
}

func TestApp_ReloadConfig(t *testing.T) {
	t.Parallel()

	plain := newApp(t, testConfig(), newProviders())
	if err := plain.ReloadConfig(); !errors.Is(err, app.ErrNoConfigWatch) {
		t.Errorf("ReloadConfig without watch = %v, want ErrNoConfigWatch", err)
	}

	path := filepath.Join(t.TempDir(), "voicegate.yaml")
	writeReloadConfig(t, path, "info", 0.85, "5s")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The poll interval is long enough that only ReloadConfig can apply
	// the change within the test.
	a := newApp(t, cfg, newProviders(), app.WithConfigWatch(path, config.WithInterval(time.Hour)))

	if err := a.ReloadConfig(); !errors.Is(err, config.ErrUnchanged) {
		t.Errorf("ReloadConfig on unchanged file = %v, want ErrUnchanged", err)
	}

	writeReloadConfig(t, path, "info", 0.85, "3s")
	if err := a.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if got := a.Gate().Policy().Cooldown; got != 3*time.Second {
		t.Errorf("cooldown = %s, want 3s", got)
	}

	writeReloadConfig(t, path, "info", 1.5, "1s")
	if err := a.ReloadConfig(); err == nil {
		t.Error("ReloadConfig accepted an invalid threshold")
	}
	if got := a.Gate().Policy().Cooldown; got != 3*time.Second {
		t.Errorf("cooldown = %s after a rejected reload, want 3s", got)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := app.SlogLevel(tc.in); got != tc.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
