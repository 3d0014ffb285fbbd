// Package sqlite provides a single-file enrollment.Store backed by the pure-Go
// modernc.org/sqlite driver.
//
// Embeddings are stored as little-endian float32 BLOBs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voicegate/pkg/enrollment"
)

const ddl = `
CREATE TABLE IF NOT EXISTS enrollments (
    id          TEXT     PRIMARY KEY,
    label       TEXT     NOT NULL DEFAULT '',
    embedding   BLOB     NOT NULL,
    provenance  TEXT     NOT NULL,
    created_at  INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrollments_created_at
    ON enrollments (created_at);
`

// Store is a SQLite-backed [enrollment.Store]. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ enrollment.Store = (*Store)(nil)

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite store: create directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:" a
	// single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// List implements [enrollment.Store].
func (s *Store) List(ctx context.Context) ([]enrollment.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, embedding, provenance, created_at
		   FROM enrollments
		  ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	var out []enrollment.Record
	for rows.Next() {
		var (
			r    enrollment.Record
			blob []byte
			prov string
			ts   int64
		)
		if err := rows.Scan(&r.ID, &r.Label, &blob, &prov, &ts); err != nil {
			return nil, fmt.Errorf("sqlite store: list: scan: %w", err)
		}
		emb, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list: record %s: %w", r.ID, err)
		}
		r.Embedding = emb
		r.Provenance = enrollment.Provenance(prov)
		r.CreatedAt = time.UnixMicro(ts).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

// Save implements [enrollment.Store].
func (s *Store) Save(ctx context.Context, r enrollment.Record) error {
	if r.ID == "" {
		return errors.New("sqlite store: save: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments (id, label, embedding, provenance, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     label      = excluded.label,
		     embedding  = excluded.embedding,
		     provenance = excluded.provenance,
		     created_at = excluded.created_at`,
		r.ID, r.Label, encodeEmbedding(r.Embedding), string(r.Provenance), r.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save: %w", err)
	}
	return nil
}

// Delete implements [enrollment.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: delete %q: %w", id, enrollment.ErrNotFound)
	}
	return nil
}

// Clear implements [enrollment.Store].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM enrollments`); err != nil {
		return fmt.Errorf("sqlite store: clear: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
