package audio

import "time"

// FrameBuffer accumulates a raw sample stream and hands it out as
// fixed-size, non-overlapping frames in FIFO order. Partial residues are kept
// for the next call to [FrameBuffer.Push]; a frame is never returned short.
//
// As long as the owner drains it with [FrameBuffer.Next] after every Push,
// the buffer never retains more than size-1 unconsumed samples.
//
// FrameBuffer is not safe for concurrent use; the capture worker is its only
// writer and reader.
type FrameBuffer struct {
	size   int
	format Format
	buf    []float32
	seq    uint64
}

// NewFrameBuffer returns a FrameBuffer producing frames of size samples. The
// format is used to stamp frame timestamps. size must be positive.
func NewFrameBuffer(size int, format Format) *FrameBuffer {
	if size <= 0 {
		panic("audio: frame size must be positive")
	}
	return &FrameBuffer{
		size:   size,
		format: format,
		buf:    make([]float32, 0, size*2),
	}
}

// Push appends samples to the tail of the buffer.
func (b *FrameBuffer) Push(samples []float32) {
	b.buf = append(b.buf, samples...)
}

// Next pops the oldest full frame. It returns false when fewer than the
// configured frame size samples are pending.
func (b *FrameBuffer) Next() (Frame, bool) {
	if len(b.buf) < b.size {
		return Frame{}, false
	}
	samples := make([]float32, b.size)
	copy(samples, b.buf[:b.size])

	rest := copy(b.buf, b.buf[b.size:])
	b.buf = b.buf[:rest]

	f := Frame{
		Samples:   samples,
		Seq:       b.seq,
		Timestamp: time.Duration(b.seq) * b.format.Duration(b.size),
	}
	b.seq++
	return f, true
}

// Pending returns the number of buffered samples not yet returned as a frame.
func (b *FrameBuffer) Pending() int { return len(b.buf) }

// Size returns the configured frame size in samples.
func (b *FrameBuffer) Size() int { return b.size }

// Reset discards pending samples and restarts frame numbering.
func (b *FrameBuffer) Reset() {
	b.buf = b.buf[:0]
	b.seq = 0
}
