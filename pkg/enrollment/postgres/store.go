// Package postgres provides an enrollment.Store backed by PostgreSQL with the
// pgvector extension, for deployments where several gates share one set of
// enrolled voices.
//
// [Migrate] installs the extension and table on first use; the embedding
// dimension is fixed at that point.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voicegate/pkg/enrollment"
)

var _ enrollment.Store = (*Store)(nil)

func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS enrollments (
    id          TEXT         PRIMARY KEY,
    label       TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d)   NOT NULL,
    provenance  TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrollments_created_at
    ON enrollments (created_at);
`, dimensions)
}

// Migrate creates the enrollments table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", dimensions)
	}
	if _, err := pool.Exec(ctx, ddl(dimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed [enrollment.Store]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// List implements [enrollment.Store].
func (s *Store) List(ctx context.Context) ([]enrollment.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, embedding, provenance, created_at
		   FROM enrollments
		  ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	defer rows.Close()

	var out []enrollment.Record
	for rows.Next() {
		var (
			r    enrollment.Record
			vec  pgvector.Vector
			prov string
		)
		if err := rows.Scan(&r.ID, &r.Label, &vec, &prov, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: list: scan: %w", err)
		}
		r.Embedding = vec.Slice()
		r.Provenance = enrollment.Provenance(prov)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return out, nil
}

// Save implements [enrollment.Store].
func (s *Store) Save(ctx context.Context, r enrollment.Record) error {
	if r.ID == "" {
		return errors.New("postgres store: save: empty id")
	}
	const q = `
		INSERT INTO enrollments (id, label, embedding, provenance, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    label      = EXCLUDED.label,
		    embedding  = EXCLUDED.embedding,
		    provenance = EXCLUDED.provenance,
		    created_at = EXCLUDED.created_at`
	_, err := s.pool.Exec(ctx, q, r.ID, r.Label, pgvector.NewVector(r.Embedding), string(r.Provenance), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

// Delete implements [enrollment.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: delete %q: %w", id, enrollment.ErrNotFound)
	}
	return nil
}

// Clear implements [enrollment.Store].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE enrollments`); err != nil {
		return fmt.Errorf("postgres store: clear: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
