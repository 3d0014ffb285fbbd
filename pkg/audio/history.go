package audio

import "sync"

// History is a fixed-capacity ring of the most recent samples of a stream.
// Once full, every append overwrites the oldest samples in place.
//
// History is internally synchronised for a single writer and any number of
// snapshot readers: [History.Snapshot] always observes a complete append,
// never a half-overwritten ring.
type History struct {
	mu   sync.RWMutex
	buf  []float32
	pos  int  // next write position
	full bool // buf has wrapped at least once
}

// NewHistory returns a History holding at most capacity samples. capacity
// must be positive.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		panic("audio: history capacity must be positive")
	}
	return &History{buf: make([]float32, capacity)}
}

// Append writes samples to the ring, overwriting the oldest entries when the
// capacity is exceeded.
func (h *History) Append(samples []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.buf)
	if len(samples) >= n {
		copy(h.buf, samples[len(samples)-n:])
		h.pos = 0
		h.full = true
		return
	}

	written := copy(h.buf[h.pos:], samples)
	if written < len(samples) {
		copy(h.buf, samples[written:])
	}
	next := h.pos + len(samples)
	if next >= n {
		h.full = true
	}
	h.pos = next % n
}

// Snapshot returns a copy of the retained samples in chronological order
// (oldest first). Its length is the capacity once the ring has wrapped, and
// the number of appended samples before that.
func (h *History) Snapshot() []float32 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]float32, h.pos)
		copy(out, h.buf[:h.pos])
		return out
	}
	out := make([]float32, len(h.buf))
	n := copy(out, h.buf[h.pos:])
	copy(out[n:], h.buf[:h.pos])
	return out
}

// Len returns the number of samples currently retained.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.buf)
	}
	return h.pos
}

// Cap returns the ring capacity in samples.
func (h *History) Cap() int { return len(h.buf) }

// Reset empties the ring.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.pos = 0
	h.full = false
}
