package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported field by field; everything else is
// collected in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PolicyChanged is true when target label, cooldown or a gate timeout
	// changed. The circuit breaker settings are not part of the policy.
	PolicyChanged bool

	// ThresholdsChanged is true when a matcher threshold or the auto-enroll
	// switch changed.
	ThresholdsChanged bool

	// RestartRequired names the config sections that changed but are only
	// read at startup (e.g. "audio", "providers.vad").
	RestartRequired []string
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PolicyChanged && !d.ThresholdsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	og, ng := old.Gate, new.Gate
	if og.TargetLabel != ng.TargetLabel ||
		og.Cooldown != ng.Cooldown ||
		og.InferenceTimeout != ng.InferenceTimeout ||
		og.TriggerTimeout != ng.TriggerTimeout {
		d.PolicyChanged = true
	}

	if old.Matcher.VerifyThreshold != new.Matcher.VerifyThreshold ||
		old.Matcher.AutoEnrollThreshold != new.Matcher.AutoEnrollThreshold ||
		old.Matcher.AutoEnrollEnabled() != new.Matcher.AutoEnrollEnabled() {
		d.ThresholdsChanged = true
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"server.shutdown_timeout", old.Server.ShutdownTimeout, new.Server.ShutdownTimeout},
		{"audio", old.Audio, new.Audio},
		{"detector", old.Detector, new.Detector},
		{"features", old.Features, new.Features},
		{"gate.circuit_breaker", og.CircuitBreaker, ng.CircuitBreaker},
		{"providers.device", old.Providers.Device, new.Providers.Device},
		{"providers.vad", old.Providers.VAD, new.Providers.VAD},
		{"providers.embedding", old.Providers.Embedding, new.Providers.Embedding},
		{"providers.classifier", old.Providers.Classifier, new.Providers.Classifier},
		{"providers.actuator", old.Providers.Actuator, new.Providers.Actuator},
		{"enrollment", old.Enrollment, new.Enrollment},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
