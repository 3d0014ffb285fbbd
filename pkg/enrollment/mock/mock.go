// Package mock provides a recording test double for enrollment.Store.
//
// Store keeps its records in an embedded enrollment.MemStore so that saved
// records are visible to later List calls, while every call is also recorded
// and each method can be forced to fail.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/enrollment"
)

// Store is a mock implementation of enrollment.Store.
type Store struct {
	mu  sync.Mutex
	mem *enrollment.MemStore

	// ListErr, SaveErr, DeleteErr and ClearErr, if non-nil, are returned by
	// the corresponding method instead of touching the records.
	ListErr   error
	SaveErr   error
	DeleteErr error
	ClearErr  error

	// Saved records every record passed to Save, in order.
	Saved []enrollment.Record

	// Deleted records every id passed to Delete, in order.
	Deleted []string

	// ListCallCount and ClearCallCount count calls to List and Clear.
	ListCallCount  int
	ClearCallCount int

	saveSignal chan struct{}
}

// New returns a Store seeded with records.
func New(records ...enrollment.Record) *Store {
	return &Store{
		mem:        enrollment.NewMemStore(records...),
		saveSignal: make(chan struct{}, 64),
	}
}

func (s *Store) init() {
	if s.mem == nil {
		s.mem = enrollment.NewMemStore()
		s.saveSignal = make(chan struct{}, 64)
	}
}

// List implements enrollment.Store.
func (s *Store) List(ctx context.Context) ([]enrollment.Record, error) {
	s.mu.Lock()
	s.init()
	s.ListCallCount++
	err := s.ListErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.mem.List(ctx)
}

// Save implements enrollment.Store.
func (s *Store) Save(ctx context.Context, r enrollment.Record) error {
	s.mu.Lock()
	s.init()
	s.Saved = append(s.Saved, r.Clone())
	err := s.SaveErr
	sig := s.saveSignal
	s.mu.Unlock()
	defer func() {
		select {
		case sig <- struct{}{}:
		default:
		}
	}()
	if err != nil {
		return err
	}
	return s.mem.Save(ctx, r)
}

// Delete implements enrollment.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.init()
	s.Deleted = append(s.Deleted, id)
	err := s.DeleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.Delete(ctx, id)
}

// Clear implements enrollment.Store.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.init()
	s.ClearCallCount++
	err := s.ClearErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.Clear(ctx)
}

// SavedRecords returns a copy of the Saved call log. Thread-safe.
func (s *Store) SavedRecords() []enrollment.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]enrollment.Record(nil), s.Saved...)
}

// SaveNotify returns a channel that receives a value after every Save call.
func (s *Store) SaveNotify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	return s.saveSignal
}

var _ enrollment.Store = (*Store)(nil)
