// Package telemetry fans live gate events out to any number of observers
// (the admin websocket, tests) without ever blocking the capture worker.
//
// Every subscriber owns a bounded queue. When a slow subscriber's queue is
// full, the oldest queued event is discarded to make room for the newest one.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the type of an Event.
type Kind string

const (
	// KindFrame carries the instantaneous per-frame decision and amplitude.
	KindFrame Kind = "frame"

	// KindSpeech is published when speech or silence is confirmed.
	KindSpeech Kind = "speech"

	// KindVerification carries the outcome of one verification cycle.
	KindVerification Kind = "verification"

	// KindTrigger is published when the actuator is invoked.
	KindTrigger Kind = "trigger"

	// KindState is published on every gate state transition.
	KindState Kind = "state"
)

// Event is a single telemetry record. Only the fields relevant to Kind are
// populated; the rest are omitted from the JSON encoding.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Seq         uint64  `json:"seq,omitempty"`
	Speech      bool    `json:"speech,omitempty"`
	Probability float64 `json:"probability,omitempty"`
	Amplitude   float64 `json:"amplitude,omitempty"`

	// Detail is the event name for KindSpeech, the new state for KindState
	// and the classifier label for KindVerification.
	Detail string `json:"detail,omitempty"`

	Matched    bool    `json:"matched,omitempty"`
	Similarity float32 `json:"similarity,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// DefaultQueueSize is the per-subscriber queue length used when a
// non-positive size is passed to Subscribe.
const DefaultQueueSize = 64

// Hub is a publish/subscribe fan-out with per-subscriber drop-oldest queues.
// The zero value is not usable; create one with NewHub.
//
// All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	published atomic.Uint64
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscription is a single observer's view of the hub.
type Subscription struct {
	hub *Hub
	ch  chan Event

	// mu serialises the drop-then-send sequence against concurrent publishers
	// and against close.
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Subscribe registers a new observer with a queue of size events. The caller
// must call Close when done. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = DefaultQueueSize
	}
	s := &Subscription{hub: h, ch: make(chan Event, size)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber. It never blocks.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		s.offer(ev)
	}
}

// Subscribers returns the current number of subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the total number of events published since creation.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Close closes every subscription channel and rejects later subscribers.
// Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.closeLocked()
		delete(h.subs, s)
	}
}

// C returns the channel on which events are delivered. It is closed when the
// subscription or the hub is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. Close is
// idempotent.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) offer(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Full: discard the oldest and retry. The reader may have drained the
		// queue in between, in which case nothing is discarded.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
