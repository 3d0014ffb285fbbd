package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/audio/wav"
	"github.com/MrWong99/voicegate/pkg/enrollment"
	"github.com/MrWong99/voicegate/pkg/enrollment/sqlite"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	classifymock "github.com/MrWong99/voicegate/pkg/provider/classify/mock"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
	embeddingmock "github.com/MrWong99/voicegate/pkg/provider/embedding/mock"
)

const testConfigYAML = `
providers:
  device:
    name: wav
    options:
      path: %WAV%
      realtime: false
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
  backend: sqlite
  sqlite_path: %DB%
`

// writeConfig writes a config using a sqlite store in a temp dir and returns
// its path and the database path.
func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "enroll.db")
	data := strings.NewReplacer("%WAV%", filepath.Join(dir, "in.wav"), "%DB%", dbPath).Replace(testConfigYAML)
	cfgPath = filepath.Join(dir, "voicegate.yaml")
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, dbPath string, recs ...enrollment.Record) {
	t.Helper()
	st, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer st.Close()
	for _, r := range recs {
		if err := st.Save(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

// ── version ──────────────────────────────────────────────────────────────────

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "voicegate "+version) {
		t.Errorf("output = %q", out)
	}
}

// ── enroll ───────────────────────────────────────────────────────────────────

func TestEnroll_ListEmpty(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := execute(t, "-c", cfgPath, "enroll", "list")
	if err != nil {
		t.Fatalf("enroll list: %v", err)
	}
	if !strings.Contains(out, "no enrollments") {
		t.Errorf("output = %q", out)
	}
}

func TestEnroll_ListDeleteClear(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := enrollment.NewRecord([]float32{1, 0}, "alice", enrollment.ProvenanceOperator, now)
	b := enrollment.NewRecord([]float32{0, 1}, enrollment.AutoLabel, enrollment.ProvenanceAuto, now.Add(time.Second))
	seed(t, dbPath, a, b)

	out, err := execute(t, "-c", cfgPath, "enroll", "list")
	if err != nil {
		t.Fatalf("enroll list: %v", err)
	}
	for _, want := range []string{"ID", a.ID, "alice", b.ID, enrollment.AutoLabel} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "-c", cfgPath, "enroll", "list", "--json")
	if err != nil {
		t.Fatalf("enroll list --json: %v", err)
	}
	var views []struct {
		ID         string `json:"id"`
		Label      string `json:"label"`
		Dimensions int    `json:"dimensions"`
	}
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(views) != 2 || views[0].Dimensions != 2 {
		t.Errorf("json views = %+v", views)
	}

	if _, err := execute(t, "-c", cfgPath, "enroll", "delete", a.ID); err != nil {
		t.Fatalf("enroll delete: %v", err)
	}
	if _, err := execute(t, "-c", cfgPath, "enroll", "delete", a.ID); !errors.Is(err, enrollment.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}

	if _, err := execute(t, "-c", cfgPath, "enroll", "clear"); err == nil {
		t.Error("clear without --yes succeeded")
	}
	if _, err := execute(t, "-c", cfgPath, "enroll", "clear", "--yes"); err != nil {
		t.Fatalf("enroll clear: %v", err)
	}
	out, _ = execute(t, "-c", cfgPath, "enroll", "list")
	if !strings.Contains(out, "no enrollments") {
		t.Errorf("after clear: %q", out)
	}
}

func TestEnroll_AddErrors(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	dir := filepath.Dir(cfgPath)

	if _, err := execute(t, "-c", cfgPath, "enroll", "add", filepath.Join(dir, "missing.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}

	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(bad, []byte("not a wav file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", cfgPath, "enroll", "add", bad); !errors.Is(err, wav.ErrInvalid) {
		t.Errorf("bad file: err = %v, want wav.ErrInvalid", err)
	}

	if _, err := execute(t, "-c", cfgPath, "enroll", "add"); err == nil {
		t.Error("add without a file argument succeeded")
	}
}

func TestEnroll_StoresOperatorRecord(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	st, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer st.Close()

	// The onnx factory cannot run without a model file.
	rec, err := enrollWith(t, cfg, st, make([]float32, 16000), "alice")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if rec.Label != "alice" || rec.Provenance != enrollment.ProvenanceOperator {
		t.Errorf("record = %+v", rec)
	}
	recs, _ := st.List(context.Background())
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Errorf("stored = %+v", recs)
	}
}

func TestEnroll_MemoryBackendRejected(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	data, _ := os.ReadFile(cfgPath)
	data = []byte(strings.Replace(string(data), "backend: sqlite", "backend: memory", 1))
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", cfgPath, "enroll", "list"); err == nil || !strings.Contains(err.Error(), "memory") {
		t.Errorf("err = %v, want memory backend error", err)
	}
}

// enrollWith runs the enroll pipeline with a mock embedder installed under
// the configured provider name.
func enrollWith(t *testing.T, cfg *config.Config, st enrollment.Store, samples []float32, label string) (enrollment.Record, error) {
	t.Helper()
	prev := newEmbeddingRegistry
	t.Cleanup(func() { newEmbeddingRegistry = prev })
	newEmbeddingRegistry = func(rate int) *config.Registry {
		reg := prev(rate)
		reg.RegisterEmbedding(cfg.Providers.Embedding.Name, func(config.ProviderEntry) (embedding.Provider, error) {
			return &embeddingmock.Provider{EmbedResult: []float32{0.6, 0.8}}, nil
		})
		return reg
	}
	return enroll(context.Background(), cfg, st, samples, label)
}

// ── run ──────────────────────────────────────────────────────────────────────

func TestRun_MissingConfig(t *testing.T) {
	_, err := execute(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "run")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found hint", err)
	}
}

// ── providers ────────────────────────────────────────────────────────────────

func TestBuildProviders(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Audio.SampleRate)
	reg.RegisterEmbedding("onnx", func(config.ProviderEntry) (embedding.Provider, error) {
		return &embeddingmock.Provider{EmbedResult: []float32{1}}, nil
	})
	reg.RegisterClassifier("onnx", func(config.ProviderEntry) (classify.Provider, error) {
		return &classifymock.Provider{}, nil
	})

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	defer closeProviders(ps)
	if ps.Device == nil || ps.VAD == nil || ps.Embedding == nil || ps.Classifier == nil || ps.Actuator == nil {
		t.Fatalf("providers incomplete: %+v", ps)
	}

	// The wav file does not exist yet.
	if _, err := ps.Device.Open(context.Background()); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Open missing wav: err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unregistered vad",
			mutate:  func(c *config.Config) { c.Providers.VAD.Name = "webrtc" },
			wantErr: `create vad provider "webrtc"`,
		},
		{
			name:    "wav without path",
			mutate:  func(c *config.Config) { c.Providers.Device.Options = nil },
			wantErr: "options.path is required",
		},
		{
			name:    "onnx embedding without model",
			mutate:  func(c *config.Config) { c.Providers.Embedding.Model = filepath.Join(t.TempDir(), "missing.onnx") },
			wantErr: `create embedding provider "onnx"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			tc.mutate(cfg)
			reg := config.NewRegistry()
			registerBuiltinProviders(reg, cfg.Audio.SampleRate)
			_, err = buildProviders(cfg, reg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestPrintStartupSummary(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Embedding.Model = "models/a-very-long-model-file-name.onnx"
	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)

	out := buf.String()
	for _, want := range []string{"Device", "portaudio", "Target label", "male", "(disabled)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if n := len([]rune(line)); n != 41 {
			t.Errorf("line %q is %d runes wide, want 41", line, n)
		}
	}
}
