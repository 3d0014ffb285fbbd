package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicegate/internal/app"
	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/features"
	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/pkg/audio/wav"
	"github.com/MrWong99/voicegate/pkg/enrollment"
)

func newEnrollCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Manage operator enrollments",
		Long: `Manage the enrolled voices the gate verifies against.

The commands operate on the store selected by enrollment.backend. With the
memory backend enrollments only live inside a running server; use the admin
API (POST /v1/enrollments) instead.`,
	}
	cmd.AddCommand(
		newEnrollListCmd(configPath),
		newEnrollAddCmd(configPath),
		newEnrollDeleteCmd(configPath),
		newEnrollClearCmd(configPath),
	)
	return cmd
}

// withStore loads the config, opens the enrollment store and calls fn.
func withStore(ctx context.Context, configPath string, fn func(*config.Config, enrollment.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Enrollment.Backend == config.BackendMemory {
		return errors.New("enrollment.backend is memory; nothing is persisted outside a running server")
	}
	st, err := app.OpenStore(ctx, cfg.Enrollment)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "voicegate: close store:", err)
		}
	}()
	return fn(cfg, st.Store)
}

func newEnrollListCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enrollments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), *configPath, func(_ *config.Config, st enrollment.Store) error {
				recs, err := st.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					type view struct {
						ID         string                `json:"id"`
						Label      string                `json:"label"`
						Provenance enrollment.Provenance `json:"provenance"`
						CreatedAt  time.Time             `json:"created_at"`
						Dimensions int                   `json:"dimensions"`
					}
					views := make([]view, 0, len(recs))
					for _, r := range recs {
						views = append(views, view{r.ID, r.Label, r.Provenance, r.CreatedAt, len(r.Embedding)})
					}
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(views)
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "no enrollments")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tLABEL\tPROVENANCE\tCREATED\tDIMS")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
						r.ID, r.Label, r.Provenance, r.CreatedAt.Format(time.RFC3339), len(r.Embedding))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newEnrollAddCmd(configPath *string) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add <file.wav>",
		Short: "Enroll the speaker of a WAV recording",
		Long: `Embed a 16-bit PCM WAV recording and store it as an operator enrollment.

The recording is resampled to audio.sample_rate and down-mixed to mono. About
one second of clear speech is enough; longer recordings are truncated.

Examples:
  voicegate enroll add operator.wav
  voicegate enroll add --label alice alice.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *configPath, func(cfg *config.Config, st enrollment.Store) error {
				samples, err := wav.DecodeMono(data, cfg.Audio.SampleRate)
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				rec, err := enroll(cmd.Context(), cfg, st, samples, label)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enrolled %s (label %q, %d dimensions)\n", rec.ID, rec.Label, len(rec.Embedding))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "operator", "human-readable label for the enrollment")
	return cmd
}

// newEmbeddingRegistry builds the registry enroll draws its embedder from.
var newEmbeddingRegistry = func(rate int) *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, rate)
	return reg
}

// enroll builds the embedding pipeline from cfg and stores one operator
// enrollment.
func enroll(ctx context.Context, cfg *config.Config, st enrollment.Store, samples []float32, label string) (enrollment.Record, error) {
	emb, err := buildEmbedding(cfg, newEmbeddingRegistry(cfg.Audio.SampleRate))
	if err != nil {
		return enrollment.Record{}, err
	}
	defer closeProvider(emb)

	ex, err := features.New(cfg.FeaturesConfig())
	if err != nil {
		return enrollment.Record{}, err
	}
	m, err := matcher.New(ex, emb, st, matcher.Config{
		UtteranceLength: cfg.Audio.UtteranceSamples,
		Thresholds:      cfg.Thresholds(),
	})
	if err != nil {
		return enrollment.Record{}, err
	}
	defer m.Close(context.WithoutCancel(ctx))
	return m.Enroll(ctx, samples, label)
}

func newEnrollDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *configPath, func(_ *config.Config, st enrollment.Store) error {
				if err := st.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newEnrollClearCmd(configPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every enrollment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete all enrollments without --yes")
			}
			return withStore(cmd.Context(), *configPath, func(_ *config.Config, st enrollment.Store) error {
				if err := st.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all enrollments deleted")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting all enrollments")
	return cmd
}
