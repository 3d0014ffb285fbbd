package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voicegate/pkg/enrollment"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "enroll", "voicegate.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 123000, time.UTC)
	a := enrollment.NewRecord([]float32{0.25, -1, 3.5}, "alice", enrollment.ProvenanceOperator, base)
	b := enrollment.NewRecord([]float32{1, 2, 3}, enrollment.AutoLabel, enrollment.ProvenanceAuto, base.Add(time.Minute))

	// Save out of order to check ordering by creation time.
	for _, r := range []enrollment.Record{b, a} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != a.ID || got[1].ID != b.ID {
		t.Errorf("order = %s,%s, want %s,%s", got[0].ID, got[1].ID, a.ID, b.ID)
	}
	r := got[0]
	if r.Label != "alice" || r.Provenance != enrollment.ProvenanceOperator {
		t.Errorf("record = %+v", r)
	}
	if !r.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, a.CreatedAt)
	}
	for i, v := range a.Embedding {
		if r.Embedding[i] != v {
			t.Errorf("embedding[%d] = %v, want %v", i, r.Embedding[i], v)
		}
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := enrollment.NewRecord([]float32{1}, "", enrollment.ProvenanceOperator, time.Now())
	s.Save(ctx, r)

	if err := s.Delete(ctx, "missing"); !errors.Is(err, enrollment.ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	s.Save(ctx, enrollment.NewRecord([]float32{1}, "", enrollment.ProvenanceAuto, time.Now()))
	s.Save(ctx, enrollment.NewRecord([]float32{2}, "", enrollment.ProvenanceAuto, time.Now()))
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := s.List(ctx); len(got) != 0 {
		t.Errorf("records after Clear = %d", len(got))
	}
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "voicegate.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r := enrollment.NewRecord([]float32{4, 5}, "bob", enrollment.ProvenanceOperator, time.Now())
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := s2.List(ctx)
	if len(got) != 1 || got[0].ID != r.ID {
		t.Errorf("records after reopen = %+v", got)
	}
}

func TestDecodeEmbedding_BadLength(t *testing.T) {
	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for 3-byte blob")
	}
}
