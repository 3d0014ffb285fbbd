// Package audio defines the sample-level building blocks of the voicegate
// pipeline: stream formats, PCM conversion, the [FrameBuffer] that slices a
// raw stream into fixed-size frames, and the [History] ring that retains the
// most recent second of audio for utterance capture.
//
// Capture hardware is abstracted by two interfaces:
//
//   - [Device]: opens the recording resource and returns a [Source].
//   - [Source]: an opaque pull source of 16-bit PCM samples.
//
// Implementations live in sub-packages (audio/portaudio, audio/wav) so that
// the core pipeline stays free of cgo and file-format details.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned (wrapped) by [Device.Open] when the
// recording resource cannot be acquired, e.g. missing hardware or a denied
// permission. It is fatal to pipeline startup.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Source is an open recording stream. It is a pull source: every call to
// Read blocks until at least one sample is available, the stream ends
// (io.EOF), or the source is closed.
//
// A Source is owned by a single reader goroutine. Close may be called from
// any goroutine to unblock a pending Read.
type Source interface {
	// Read fills buf with interleaved 16-bit PCM samples and returns how many
	// samples were written. A short read is not an error.
	Read(buf []int16) (int, error)

	// Format reports the sample rate and channel layout of the samples
	// returned by Read. It is constant for the lifetime of the Source.
	Format() Format

	// Close releases the recording resource. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Device is the factory for recording streams.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open acquires the recording resource and starts capture. The supplied ctx
	// governs the open attempt only. Errors wrap [ErrDeviceUnavailable] when the
	// hardware or permission is missing.
	Open(ctx context.Context) (Source, error)
}
