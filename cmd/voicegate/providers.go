package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voicegate/internal/app"
	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/audio/portaudio"
	"github.com/MrWong99/voicegate/pkg/audio/resample"
	"github.com/MrWong99/voicegate/pkg/audio/wav"
	"github.com/MrWong99/voicegate/pkg/provider/actuate"
	httpactuate "github.com/MrWong99/voicegate/pkg/provider/actuate/http"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	onnxclassify "github.com/MrWong99/voicegate/pkg/provider/classify/onnx"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
	onnxembed "github.com/MrWong99/voicegate/pkg/provider/embedding/onnx"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
	"github.com/MrWong99/voicegate/pkg/provider/vad/energy"
	"github.com/MrWong99/voicegate/pkg/provider/vad/silero"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. Devices are wrapped in a
// resampler so they always deliver rate Hz to the pipeline.
func registerBuiltinProviders(reg *config.Registry, rate int) {
	// ── Devices ───────────────────────────────────────────────────────────────
	reg.RegisterDevice("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		dev := portaudio.New(portaudio.Config{
			DeviceName: entry.OptionString("device", ""),
			Format: audio.Format{
				SampleRate: entry.OptionInt("sample_rate", rate),
				Channels:   entry.OptionInt("channels", 1),
			},
			BufferFrames: entry.OptionInt("buffer_frames", 0),
			Latency:      entry.OptionDuration("latency", 0),
		})
		return resample.NewDevice(dev, rate), nil
	})

	reg.RegisterDevice("wav", func(entry config.ProviderEntry) (audio.Device, error) {
		path := entry.OptionString("path", "")
		if path == "" {
			return nil, errors.New("wav device: options.path is required")
		}
		dev := wav.NewDevice(path,
			wav.WithRealtime(entry.OptionBool("realtime", true)),
			wav.WithLoop(entry.OptionBool("loop", false)),
		)
		return resample.NewDevice(dev, rate), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		return silero.New(entry.Model, entry.OptionString("library_path", ""))
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(energy.WithLevel(entry.OptionFloat("level", energy.DefaultLevel))), nil
	})

	// ── Embedding ─────────────────────────────────────────────────────────────
	reg.RegisterEmbedding("onnx", func(entry config.ProviderEntry) (embedding.Provider, error) {
		opts := []onnxembed.Option{
			onnxembed.WithDimensions(entry.OptionInt("dimensions", onnxembed.DefaultDimensions)),
		}
		if p := entry.OptionString("library_path", ""); p != "" {
			opts = append(opts, onnxembed.WithLibraryPath(p))
		}
		if n := entry.OptionString("input_name", ""); n != "" {
			opts = append(opts, onnxembed.WithInputName(n))
		}
		if n := entry.OptionString("output_name", ""); n != "" {
			opts = append(opts, onnxembed.WithOutputName(n))
		}
		return onnxembed.New(entry.Model, opts...)
	})

	// ── Classifier ────────────────────────────────────────────────────────────
	reg.RegisterClassifier("onnx", func(entry config.ProviderEntry) (classify.Provider, error) {
		var opts []onnxclassify.Option
		if p := entry.OptionString("library_path", ""); p != "" {
			opts = append(opts, onnxclassify.WithLibraryPath(p))
		}
		if n := entry.OptionString("input_name", ""); n != "" {
			opts = append(opts, onnxclassify.WithInputName(n))
		}
		if n := entry.OptionString("output_name", ""); n != "" {
			opts = append(opts, onnxclassify.WithOutputName(n))
		}
		return onnxclassify.New(entry.Model, opts...)
	})

	// ── Actuator ──────────────────────────────────────────────────────────────
	reg.RegisterActuator("http", func(entry config.ProviderEntry) (actuate.Actuator, error) {
		return httpactuate.New(entry.BaseURL, entry.APIKey,
			httpactuate.WithPath(entry.OptionString("path", httpactuate.DefaultPath)),
			httpactuate.WithTimeout(entry.OptionDuration("timeout", 0)),
		)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Every slot is required; on error the providers created so far are closed.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, err error) {
	ps := &app.Providers{}
	defer func() {
		if err != nil {
			closeProviders(ps)
		}
	}()

	if ps.Device, err = create("device", cfg.Providers.Device, reg.CreateDevice); err != nil {
		return nil, err
	}
	if ps.VAD, err = create("vad", cfg.Providers.VAD, reg.CreateVAD); err != nil {
		return nil, err
	}
	if ps.Embedding, err = buildEmbedding(cfg, reg); err != nil {
		return nil, err
	}
	if ps.Classifier, err = create("classifier", cfg.Providers.Classifier, reg.CreateClassifier); err != nil {
		return nil, err
	}
	if ps.Actuator, err = create("actuator", cfg.Providers.Actuator, reg.CreateActuator); err != nil {
		return nil, err
	}
	return ps, nil
}

// buildEmbedding creates only the embedding provider; the enroll commands
// need nothing else.
func buildEmbedding(cfg *config.Config, reg *config.Registry) (embedding.Provider, error) {
	return create("embedding", cfg.Providers.Embedding, reg.CreateEmbedding)
}

func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// closeProviders releases providers that hold native resources (ONNX
// sessions). It is safe on a partially filled struct.
func closeProviders(ps *app.Providers) {
	if ps == nil {
		return
	}
	for _, p := range []any{ps.Device, ps.VAD, ps.Embedding, ps.Classifier, ps.Actuator} {
		closeProvider(p)
	}
}

func closeProvider(p any) {
	c, ok := p.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("provider close error", "err", err)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       voicegate startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Device", cfg.Providers.Device.Name, cfg.Providers.Device.OptionString("path", ""))
	printProvider(w, "VAD", cfg.Providers.VAD.Name, cfg.Providers.VAD.Model)
	printProvider(w, "Embedding", cfg.Providers.Embedding.Name, cfg.Providers.Embedding.Model)
	printProvider(w, "Classifier", cfg.Providers.Classifier.Name, cfg.Providers.Classifier.Model)
	printProvider(w, "Actuator", cfg.Providers.Actuator.Name, cfg.Providers.Actuator.BaseURL)
	fmt.Fprintf(w, "║  Enrollments     : %-18s ║\n", cfg.Enrollment.Backend)
	fmt.Fprintf(w, "║  Target label    : %-18s ║\n", cfg.Gate.TargetLabel)
	fmt.Fprintf(w, "║  Cooldown        : %-18s ║\n", cfg.Gate.Cooldown)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-18s ║\n", cfg.Server.ListenAddr)
	} else {
		fmt.Fprintf(w, "║  Admin API       : %-18s ║\n", "(disabled)")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, label, name, detail string) {
	value := "(not configured)"
	if name != "" {
		value = name
		if detail != "" {
			value = name + " / " + detail
		}
	}
	if len(value) > 18 {
		value = value[:15] + "..."
	}
	fmt.Fprintf(w, "║  %-15s : %-18s ║\n", label, value)
}
