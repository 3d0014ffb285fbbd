package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for the VAD and embedding path, 48000 for
	// most capture devices).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// Mono16k is the canonical pipeline format: 16 kHz mono.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// SamplesIn returns the number of per-channel samples that span d.
func (f Format) SamplesIn(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Duration returns the playback time of n per-channel samples.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a contiguous, fixed-length slice of the mono sample stream.
// Frames are produced by a [FrameBuffer] in arrival order and never overlap.
type Frame struct {
	// Samples are normalised to [-1, 1]. The length always equals the
	// configured frame size.
	Samples []float32

	// Seq is the zero-based index of the frame within its stream.
	Seq uint64

	// Timestamp marks the frame start relative to stream start.
	Timestamp time.Duration
}
