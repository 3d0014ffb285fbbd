package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicegate/internal/features"
	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
)

// EnvActuationToken names the environment variable that supplies the
// actuator bearer token when providers.actuator.api_key is empty.
const EnvActuationToken = "VOICEGATE_ACTUATION_TOKEN"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"device":     {"portaudio", "wav"},
	"vad":        {"silero", "energy"},
	"embedding":  {"onnx"},
	"classifier": {"onnx"},
	"actuator":   {"http"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := zeroableDefaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied. Model paths
// and the actuator URL are left empty and must be set before [Validate] passes.
func Default() *Config {
	cfg := zeroableDefaults()
	ApplyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if cfg.Providers.Actuator.APIKey == "" {
		cfg.Providers.Actuator.APIKey = os.Getenv(EnvActuationToken)
	}
}

// Validate checks that cfg contains a coherent set of values. Call
// [ApplyDefaults] first; zero values left after that are treated as explicit.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", cfg.Audio.FrameSize))
	}
	if cfg.Audio.HistorySamples < cfg.Audio.FrameSize {
		errs = append(errs, fmt.Errorf("audio.history_samples %d must be at least audio.frame_size %d", cfg.Audio.HistorySamples, cfg.Audio.FrameSize))
	}
	if cfg.Audio.UtteranceSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.utterance_samples must be positive, got %d", cfg.Audio.UtteranceSamples))
	}

	// Detector
	if cfg.Detector.MinSpeech < 0 || cfg.Detector.MinSilence < 0 {
		errs = append(errs, errors.New("detector.min_speech and detector.min_silence must not be negative"))
	}
	if cfg.Detector.SpeechThreshold < 0 || cfg.Detector.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("detector.speech_threshold %v is out of range [0, 1]", cfg.Detector.SpeechThreshold))
	}

	// Features
	if err := cfg.FeaturesConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("features: %w", err))
	}

	// Matcher
	if err := cfg.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matcher: %w", err))
	}

	// Gate
	if _, err := classify.ParseLabel(cfg.Gate.TargetLabel); err != nil {
		errs = append(errs, fmt.Errorf("gate.target_label: %w", err))
	}
	if cfg.Gate.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("gate.cooldown must not be negative, got %s", cfg.Gate.Cooldown))
	}
	if cfg.Gate.InferenceTimeout <= 0 || cfg.Gate.TriggerTimeout <= 0 {
		errs = append(errs, errors.New("gate.inference_timeout and gate.trigger_timeout must be positive"))
	}
	if cfg.Gate.CircuitBreaker.MaxFailures <= 0 || cfg.Gate.CircuitBreaker.ResetTimeout <= 0 {
		errs = append(errs, errors.New("gate.circuit_breaker.max_failures and reset_timeout must be positive"))
	}

	// Providers
	validateProviderName("device", cfg.Providers.Device.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("embedding", cfg.Providers.Embedding.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	validateProviderName("actuator", cfg.Providers.Actuator.Name)

	if cfg.Providers.Device.Name == "wav" && cfg.Providers.Device.OptionString("path", "") == "" {
		errs = append(errs, errors.New("providers.device.options.path is required for the wav device"))
	}
	for kind, e := range map[string]ProviderEntry{
		"vad":        cfg.Providers.VAD,
		"embedding":  cfg.Providers.Embedding,
		"classifier": cfg.Providers.Classifier,
	} {
		if (e.Name == "onnx" || e.Name == "silero") && e.Model == "" {
			errs = append(errs, fmt.Errorf("providers.%s.model is required for provider %q", kind, e.Name))
		}
	}
	if cfg.Providers.Actuator.Name == "http" {
		if cfg.Providers.Actuator.BaseURL == "" {
			errs = append(errs, errors.New("providers.actuator.base_url is required for the http actuator"))
		}
		if cfg.Providers.Actuator.APIKey == "" {
			slog.Warn("no actuation token configured; requests will be sent without authorization",
				"env", EnvActuationToken)
		}
	}

	// Enrollment
	switch {
	case !cfg.Enrollment.Backend.IsValid():
		errs = append(errs, fmt.Errorf("enrollment.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Enrollment.Backend))
	case cfg.Enrollment.Backend == BackendPostgres && cfg.Enrollment.PostgresDSN == "":
		errs = append(errs, errors.New("enrollment.postgres_dsn is required for the postgres backend"))
	case cfg.Enrollment.Backend == BackendSQLite && cfg.Enrollment.SQLitePath == "":
		errs = append(errs, errors.New("enrollment.sqlite_path is required for the sqlite backend"))
	}
	if cfg.Enrollment.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("enrollment.dimensions must be positive, got %d", cfg.Enrollment.Dimensions))
	}
	if cfg.Enrollment.Backend == BackendMemory {
		slog.Warn("enrollment.backend is memory; enrollments will be lost on exit")
	}

	// Telemetry
	if cfg.Telemetry.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.queue_size must be positive, got %d", cfg.Telemetry.QueueSize))
	}
	if r := cfg.Telemetry.CycleSampleRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.cycle_sample_ratio must be in (0, 1], got %v", r))
	}

	return errors.Join(errs...)
}

// FeaturesConfig converts the features section for the extractor.
func (c *Config) FeaturesConfig() features.Config {
	return features.Config{
		SampleRate:  c.Audio.SampleRate,
		FFTSize:     c.Features.FFTSize,
		HopSize:     c.Features.HopSize,
		NumFrames:   c.Features.NumFrames,
		NumMelBands: c.Features.NumMelBands,
		MelMinHz:    c.Features.MelMinHz,
		MelMaxHz:    c.Features.MelMaxHz,
		Epsilon:     c.Features.Epsilon,
	}
}

// Thresholds converts the matcher section.
func (c *Config) Thresholds() matcher.Thresholds {
	return matcher.Thresholds{
		Verify:            c.Matcher.VerifyThreshold,
		AutoEnroll:        c.Matcher.AutoEnrollThreshold,
		AutoEnrollEnabled: c.Matcher.AutoEnrollEnabled(),
	}
}

// Policy converts the gate section into the controller's decision policy.
// It fails only when target_label is not a known class.
func (c *Config) Policy() (gate.Policy, error) {
	label, err := classify.ParseLabel(c.Gate.TargetLabel)
	if err != nil {
		return gate.Policy{}, fmt.Errorf("config: gate.target_label: %w", err)
	}
	return gate.Policy{
		TargetLabel:      label,
		Cooldown:         c.Gate.Cooldown,
		InferenceTimeout: c.Gate.InferenceTimeout,
		TriggerTimeout:   c.Gate.TriggerTimeout,
	}, nil
}

// GateConfig converts the audio, detector and gate sections into the
// controller configuration.
func (c *Config) GateConfig() (gate.Config, error) {
	pol, err := c.Policy()
	if err != nil {
		return gate.Config{}, err
	}
	return gate.Config{
		Format:          audio.Format{SampleRate: c.Audio.SampleRate, Channels: 1},
		FrameSize:       c.Audio.FrameSize,
		HistorySize:     c.Audio.HistorySamples,
		MinSpeech:       c.Detector.MinSpeech,
		MinSilence:      c.Detector.MinSilence,
		SpeechThreshold: c.Detector.SpeechThreshold,
		Policy:          pol,
	}, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
