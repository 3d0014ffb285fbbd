package enrollment

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemStore returns a store seeded with copies of records.
func NewMemStore(records ...Record) *MemStore {
	s := &MemStore{}
	for _, r := range records {
		s.records = append(s.records, r.Clone())
	}
	return s
}

// List implements [Store].
func (s *MemStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out, nil
}

// Save implements [Store].
func (s *MemStore) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("enrollment: save: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(r.ID); i >= 0 {
		s.records[i] = r.Clone()
		return nil
	}
	s.records = append(s.records, r.Clone())
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("enrollment: delete %q: %w", id, ErrNotFound)
	}
	s.records = slices.Delete(s.records, i, i+1)
	return nil
}

// Clear implements [Store].
func (s *MemStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

func (s *MemStore) index(id string) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

var _ Store = (*MemStore)(nil)
