// Package mock provides in-memory test doubles for [audio.Device] and
// [audio.Source].
//
// A [Source] is fed by the test through [Source.Push] and ends either with
// [Source.End] (io.EOF after the queued samples drain) or [Source.Close]. A
// [Device] hands out a pre-built Source and records every Open call.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Mono16k)
//	dev := &mock.Device{Source: src}
//	src.Push(samples)
//	src.End()
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a push-fed implementation of [audio.Source]. Read blocks until
// samples are pushed, the stream is ended, or the source is closed.
type Source struct {
	mu     sync.Mutex
	cond   *sync.Cond
	format audio.Format
	queue  []int16
	ended  bool
	closed bool

	// ReadErr, if non-nil, is returned by Read once the queue is empty,
	// instead of blocking.
	ReadErr error

	// CloseErr is returned by the first Close call.
	CloseErr error

	// ReadCallCount and CloseCallCount count method calls.
	ReadCallCount  int
	CloseCallCount int
}

// NewSource returns an empty Source reporting format.
func NewSource(format audio.Format) *Source {
	s := &Source{format: format}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push appends samples to the read queue.
func (s *Source) Push(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, samples...)
	s.cond.Broadcast()
}

// End marks the stream as finished; Read returns io.EOF once the queue
// drains.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.cond.Broadcast()
}

// Read implements [audio.Source].
func (s *Source) Read(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCallCount++
	for len(s.queue) == 0 {
		switch {
		case s.closed:
			return 0, errors.New("mock: source closed")
		case s.ended:
			return 0, io.EOF
		case s.ReadErr != nil:
			return 0, s.ReadErr
		}
		s.cond.Wait()
	}
	n := copy(buf, s.queue)
	s.queue = s.queue[n:]
	return n, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source]. It unblocks a pending Read.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	return s.CloseErr
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending returns the number of queued, unread samples. Thread-safe.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Source is returned by Open. When nil, Open returns a fresh 16 kHz mono
	// Source each time; NewSources lists them.
	Source audio.Source

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCallCount counts calls to Open.
	OpenCallCount int

	// NewSources records sources created by Open when Source is nil.
	NewSources []*Source
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCallCount++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Source != nil {
		return d.Source, nil
	}
	s := NewSource(audio.Mono16k)
	d.NewSources = append(d.NewSources, s)
	return s, nil
}

// Opens returns the number of Open calls. Thread-safe.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.OpenCallCount
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Device = (*Device)(nil)
)
