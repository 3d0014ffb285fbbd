// Package vad defines the Engine interface for frame-level voice activity
// classifiers.
//
// A VAD engine wraps a per-frame speech classifier (Silero, an energy
// threshold, or a test double) and surfaces it as a stateful, per-stream
// session. Sessions only answer "is this frame speech?"; debouncing into
// speech/silence events is the job of the detector that owns the session.
//
// VAD is synchronous: ProcessFrame returns immediately with a decision, which
// keeps it usable inside the capture loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. The pipeline always uses 16000.
	SampleRate int

	// FrameSize is the number of mono samples in every frame passed to
	// ProcessFrame.
	FrameSize int

	// SpeechThreshold is the probability at or above which a frame is
	// classified as speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// Result is the per-frame classification.
type Result struct {
	// Speech is the thresholded decision for this frame.
	Speech bool

	// Probability is the raw speech likelihood (0.0–1.0) before thresholding.
	Probability float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Each session keeps its own model state; Reset clears it without closing the
// session.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of normalised mono samples. The
	// frame length must equal the FrameSize the session was created with.
	ProcessFrame(frame []float32) (Result, error)

	// Reset clears accumulated model state (recurrent hidden state, smoothing).
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is unsupported by the backend.
	NewSession(cfg Config) (SessionHandle, error)
}
