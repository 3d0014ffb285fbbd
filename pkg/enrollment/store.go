// Package enrollment defines the persisted speaker enrollments and the Store
// interface that holds them.
//
// A [Record] is immutable once created: stores hand out copies, and changing
// an enrollment means deleting it and saving a new one.
//
// Backends:
//
//   - [MemStore]: in-process, for tests and ephemeral runs.
//   - enrollment/sqlite: single-file local store.
//   - enrollment/postgres: shared store with a pgvector column.
package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by [Store.Delete] when no record has the given id.
var ErrNotFound = errors.New("enrollment: record not found")

// Provenance records who created an enrollment.
type Provenance string

const (
	// ProvenanceOperator marks a record created explicitly by an operator.
	ProvenanceOperator Provenance = "operator"

	// ProvenanceAuto marks a record added by the matcher after a
	// high-confidence verification.
	ProvenanceAuto Provenance = "auto"
)

// AutoLabel is the label given to auto-enrolled records.
const AutoLabel = "auto-verified"

// Record is one enrolled voice embedding.
type Record struct {
	ID         string
	Label      string
	Embedding  []float32
	Provenance Provenance
	CreatedAt  time.Time
}

// NewRecord returns a record with a fresh id and a private copy of embedding.
func NewRecord(embedding []float32, label string, prov Provenance, now time.Time) Record {
	return Record{
		ID:         uuid.NewString(),
		Label:      label,
		Embedding:  append([]float32(nil), embedding...),
		Provenance: prov,
		CreatedAt:  now.UTC(),
	}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Embedding = append([]float32(nil), r.Embedding...)
	return r
}

// Store persists enrollment records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns every record, oldest first.
	List(ctx context.Context) ([]Record, error)

	// Save persists r. Saving an id that already exists replaces it.
	Save(ctx context.Context, r Record) error

	// Delete removes the record with the given id. It returns an error
	// wrapping ErrNotFound if there is none.
	Delete(ctx context.Context, id string) error

	// Clear removes every record.
	Clear(ctx context.Context) error
}
