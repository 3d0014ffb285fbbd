package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/health"
	"github.com/MrWong99/voicegate/pkg/enrollment"
	"github.com/MrWong99/voicegate/pkg/enrollment/postgres"
	"github.com/MrWong99/voicegate/pkg/enrollment/sqlite"
)

// Store is an opened enrollment store together with its lifecycle hooks.
type Store struct {
	enrollment.Store

	// Pinger is non-nil for backends that hold a connection worth probing
	// from /readyz.
	Pinger health.Pinger

	// Close releases the backend. It is never nil.
	Close func() error
}

// OpenStore opens the enrollment backend selected by cfg.Enrollment.
func OpenStore(ctx context.Context, cfg config.EnrollmentConfig) (*Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &Store{Store: enrollment.NewMemStore(), Close: func() error { return nil }}, nil

	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		return &Store{Store: st, Pinger: st, Close: st.Close}, nil

	case config.BackendPostgres:
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN, cfg.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("app: open postgres store: %w", err)
		}
		return &Store{Store: st, Pinger: st, Close: st.Close}, nil

	default:
		return nil, fmt.Errorf("app: unknown enrollment backend %q", cfg.Backend)
	}
}
