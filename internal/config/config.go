// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for voicegate.
package config

import "time"

// LogLevel controls log verbosity for the voicegate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EnrollmentBackend selects where enrollment records are persisted.
type EnrollmentBackend string

const (
	// BackendMemory keeps records in process memory; they are lost on exit.
	BackendMemory EnrollmentBackend = "memory"

	// BackendSQLite stores records in a local SQLite file.
	BackendSQLite EnrollmentBackend = "sqlite"

	// BackendPostgres stores records in PostgreSQL with pgvector.
	BackendPostgres EnrollmentBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b EnrollmentBackend) IsValid() bool {
	switch b {
	case BackendMemory, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for voicegate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Detector   DetectorConfig   `yaml:"detector"`
	Features   FeaturesConfig   `yaml:"features"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Gate       GateConfig       `yaml:"gate"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the admin API.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin API listens on (e.g., ":8080").
	// Empty disables the API.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the sample stream and buffer sizes.
type AudioConfig struct {
	// SampleRate is the pipeline rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the VAD frame length in samples. Default: 512.
	FrameSize int `yaml:"frame_size"`

	// HistorySamples is the size of the retained audio window. Default: 16000.
	HistorySamples int `yaml:"history_samples"`

	// UtteranceSamples is the fixed utterance length fed to feature
	// extraction. Default: 16000.
	UtteranceSamples int `yaml:"utterance_samples"`
}

// DetectorConfig holds the voice activity debounce parameters.
type DetectorConfig struct {
	// MinSpeech is the contiguous speech needed to confirm speech. Default: 50ms.
	MinSpeech time.Duration `yaml:"min_speech"`

	// MinSilence is the contiguous silence needed to confirm silence.
	// Default: 300ms.
	MinSilence time.Duration `yaml:"min_silence"`

	// SpeechThreshold is the VAD probability that counts as speech.
	// Default: 0.5.
	SpeechThreshold float64 `yaml:"speech_threshold"`
}

// FeaturesConfig holds the log-mel spectrogram parameters.
type FeaturesConfig struct {
	FFTSize     int     `yaml:"fft_size"`      // Default: 512.
	HopSize     int     `yaml:"hop_size"`      // Default: 160.
	NumFrames   int     `yaml:"num_frames"`    // Default: 100.
	NumMelBands int     `yaml:"num_mel_bands"` // Default: 80.
	MelMinHz    float64 `yaml:"mel_min_hz"`    // Default: 20.
	MelMaxHz    float64 `yaml:"mel_max_hz"`    // Default: 7600.
	Epsilon     float64 `yaml:"epsilon"`       // Default: 1e-6.
}

// MatcherConfig holds the similarity thresholds. Hot-reloadable.
type MatcherConfig struct {
	// VerifyThreshold is the similarity a match must exceed. Default: 0.85.
	VerifyThreshold float64 `yaml:"verify_threshold"`

	// AutoEnrollThreshold is the similarity above which an utterance is
	// enrolled automatically. Default: 0.92.
	AutoEnrollThreshold float64 `yaml:"auto_enroll_threshold"`

	// AutoEnroll enables auto-enrollment. Default: true.
	AutoEnroll *bool `yaml:"auto_enroll"`
}

// AutoEnrollEnabled returns the effective auto-enroll switch.
func (m MatcherConfig) AutoEnrollEnabled() bool {
	return m.AutoEnroll == nil || *m.AutoEnroll
}

// GateConfig holds the decision policy. Hot-reloadable.
type GateConfig struct {
	// TargetLabel is the classifier label that allows actuation.
	// Default: "male".
	TargetLabel string `yaml:"target_label"`

	// Cooldown is the minimum time between actuations. Default: 5s.
	Cooldown time.Duration `yaml:"cooldown"`

	// InferenceTimeout bounds each embedding and classifier call. Default: 2s.
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	// TriggerTimeout bounds the actuation call. Default: 5s.
	TriggerTimeout time.Duration `yaml:"trigger_timeout"`

	// CircuitBreaker guards the inference and actuation collaborators.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breakers around collaborators.
type CircuitBreakerConfig struct {
	// MaxFailures opens the breaker after this many consecutive failures.
	// Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProvidersConfig declares which implementation to use for each collaborator.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Device     ProviderEntry `yaml:"device"`
	VAD        ProviderEntry `yaml:"vad"`
	Embedding  ProviderEntry `yaml:"embedding"`
	Classifier ProviderEntry `yaml:"classifier"`
	Actuator   ProviderEntry `yaml:"actuator"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "silero", "http").
	Name string `yaml:"name"`

	// APIKey is the bearer token for network providers. For the actuator it
	// may be supplied through VOICEGATE_ACTUATION_TOKEN instead.
	APIKey string `yaml:"api_key"`

	// BaseURL is the endpoint of network providers.
	BaseURL string `yaml:"base_url"`

	// Model is the model file path for local inference providers.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns Options[key] as an int, or def.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// OptionFloat returns Options[key] as a float64, or def.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// OptionBool returns Options[key] as a bool, or def.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptionDuration returns Options[key] parsed as a duration string, or def.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	if s, ok := e.Options[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

// EnrollmentConfig selects the enrollment store.
type EnrollmentConfig struct {
	// Backend is memory, sqlite or postgres. Default: sqlite.
	Backend EnrollmentBackend `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: "voicegate.db".
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Dimensions is the embedding vector length. It sizes the pgvector column
	// and must match the embedding model. Default: 192.
	Dimensions int `yaml:"dimensions"`
}

// TelemetryConfig controls the live telemetry stream.
type TelemetryConfig struct {
	// QueueSize is the per-subscriber event queue; the oldest event is
	// dropped when it is full. Default: 64.
	QueueSize int `yaml:"queue_size"`

	// CycleSampleRatio is the fraction of verification cycles that are
	// traced, in (0, 1]. Default: 1.
	CycleSampleRatio float64 `yaml:"cycle_sample_ratio"`
}

// zeroableDefaults returns a configuration holding the defaults of fields for
// which zero is a valid setting. YAML is decoded on top of it, so these
// defaults only apply when the key is absent from the document.
func zeroableDefaults() *Config {
	return &Config{
		Detector: DetectorConfig{
			MinSpeech:       50 * time.Millisecond,
			MinSilence:      300 * time.Millisecond,
			SpeechThreshold: 0.5,
		},
		Features: FeaturesConfig{MelMinHz: 20},
		Matcher: MatcherConfig{
			VerifyThreshold:     0.85,
			AutoEnrollThreshold: 0.92,
		},
		Gate: GateConfig{Cooldown: 5 * time.Second},
	}
}

// ApplyDefaults fills every zero-valued field for which zero is not a valid
// setting. Fields where zero is meaningful (gate.cooldown, the detector
// debounce, features.mel_min_hz and the matcher thresholds) are left as they
// are; [LoadFromReader] and [Default] set those before decoding.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, 10*time.Second)

	setDefault(&cfg.Audio.SampleRate, 16000)
	setDefault(&cfg.Audio.FrameSize, 512)
	setDefault(&cfg.Audio.HistorySamples, 16000)
	setDefault(&cfg.Audio.UtteranceSamples, 16000)

	setDefault(&cfg.Features.FFTSize, 512)
	setDefault(&cfg.Features.HopSize, 160)
	setDefault(&cfg.Features.NumFrames, 100)
	setDefault(&cfg.Features.NumMelBands, 80)
	setDefault(&cfg.Features.MelMaxHz, 7600)
	setDefault(&cfg.Features.Epsilon, 1e-6)

	setDefault(&cfg.Gate.TargetLabel, "male")
	setDefault(&cfg.Gate.InferenceTimeout, 2*time.Second)
	setDefault(&cfg.Gate.TriggerTimeout, 5*time.Second)
	setDefault(&cfg.Gate.CircuitBreaker.MaxFailures, 5)
	setDefault(&cfg.Gate.CircuitBreaker.ResetTimeout, 30*time.Second)

	setDefault(&cfg.Providers.Device.Name, "portaudio")
	setDefault(&cfg.Providers.VAD.Name, "silero")
	setDefault(&cfg.Providers.Embedding.Name, "onnx")
	setDefault(&cfg.Providers.Classifier.Name, "onnx")
	setDefault(&cfg.Providers.Actuator.Name, "http")

	setDefault(&cfg.Enrollment.Backend, BackendSQLite)
	setDefault(&cfg.Enrollment.SQLitePath, "voicegate.db")
	setDefault(&cfg.Enrollment.Dimensions, 192)

	setDefault(&cfg.Telemetry.QueueSize, 64)
	setDefault(&cfg.Telemetry.CycleSampleRatio, 1)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
