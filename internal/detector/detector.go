// Package detector turns per-frame VAD decisions into debounced
// speech-confirmed and silence-confirmed events.
//
// The detector keeps two independent run lengths, one for contiguous speech
// and one for contiguous silence; each is reset by a frame of the opposite
// class. Speech is confirmed once the speech run reaches MinSpeech, and the
// detector leaves the speaking state once the silence run reaches MinSilence.
// At most one event is produced per frame.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

// ErrFrameSize is returned by [Detector.Process] when a frame does not have the
// configured length.
var ErrFrameSize = errors.New("detector: wrong frame size")

// EventType is the debounced outcome of a frame.
type EventType int

const (
	// EventNone means the frame did not change the debounced state.
	EventNone EventType = iota

	// EventSpeechConfirmed fires once contiguous speech reaches MinSpeech.
	EventSpeechConfirmed

	// EventSilenceConfirmed fires once contiguous silence reaches MinSilence
	// after speech had been confirmed.
	EventSilenceConfirmed
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechConfirmed:
		return "speech_confirmed"
	case EventSilenceConfirmed:
		return "silence_confirmed"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}

// Decision is the per-frame output of the detector.
type Decision struct {
	// Speech is the raw, undebounced classifier decision. It is telemetry
	// only and must never trigger anything by itself.
	Speech bool

	// Probability is the classifier's speech likelihood.
	Probability float64

	// Amplitude is the mean absolute sample value of the frame.
	Amplitude float32

	// Event is the debounced transition caused by this frame, if any.
	Event EventType
}

// Config holds the detector parameters.
type Config struct {
	// Format of the frames. Only the sample rate is used.
	Format audio.Format

	// FrameSize is the required frame length in samples.
	FrameSize int

	// MinSpeech is the contiguous speech needed to confirm speech.
	MinSpeech time.Duration

	// MinSilence is the contiguous silence needed to confirm silence.
	MinSilence time.Duration
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for classifier errors.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithErrorBuffer sets the capacity of the side channel returned by
// [Detector.Errors]. Errors are dropped when it is full.
func WithErrorBuffer(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.errs = make(chan error, n)
		}
	}
}

// Detector debounces a stream of VAD decisions. It is owned by the capture
// worker and is not safe for concurrent use, except for [Detector.Errors].
type Detector struct {
	sess vad.SessionHandle
	cfg  Config
	log  *slog.Logger
	errs chan error

	minSpeech  int
	minSilence int

	speechRun  int
	silenceRun int
	inSpeech   bool
}

// New returns a Detector that classifies frames with sess.
func New(sess vad.SessionHandle, cfg Config, opts ...Option) (*Detector, error) {
	if sess == nil {
		return nil, errors.New("detector: nil VAD session")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("detector: frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("detector: sample rate must be positive, got %d", cfg.Format.SampleRate)
	}
	if cfg.MinSpeech < 0 || cfg.MinSilence < 0 {
		return nil, errors.New("detector: debounce durations must not be negative")
	}
	d := &Detector{
		sess:       sess,
		cfg:        cfg,
		log:        slog.Default(),
		errs:       make(chan error, 16),
		minSpeech:  cfg.Format.SamplesIn(cfg.MinSpeech),
		minSilence: cfg.Format.SamplesIn(cfg.MinSilence),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Process classifies one frame and advances the debounce state.
//
// A frame of the wrong length returns ErrFrameSize and leaves the state
// untouched. A classifier failure is not returned: the frame counts as
// non-speech and the error is published on [Detector.Errors].
func (d *Detector) Process(frame []float32) (Decision, error) {
	if len(frame) != d.cfg.FrameSize {
		return Decision{}, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), d.cfg.FrameSize)
	}

	dec := Decision{Amplitude: audio.MeanAbsAmplitude(frame)}
	res, err := d.sess.ProcessFrame(frame)
	if err != nil {
		d.report(err)
	} else {
		dec.Speech = res.Speech
		dec.Probability = res.Probability
	}

	n := len(frame)
	if dec.Speech {
		d.speechRun += n
		d.silenceRun = 0
		if !d.inSpeech && d.speechRun >= d.minSpeech {
			d.inSpeech = true
			dec.Event = EventSpeechConfirmed
		}
	} else {
		d.silenceRun += n
		d.speechRun = 0
		if d.inSpeech && d.silenceRun >= d.minSilence {
			d.inSpeech = false
			dec.Event = EventSilenceConfirmed
		}
	}
	return dec, nil
}

// InSpeech reports whether speech is currently confirmed.
func (d *Detector) InSpeech() bool { return d.inSpeech }

// Errors returns the side channel carrying classifier errors. The channel is
// bounded and never blocks the capture loop; errors that do not fit are
// logged and dropped.
func (d *Detector) Errors() <-chan error { return d.errs }

// Reset clears the debounce state and the classifier's model state.
func (d *Detector) Reset() {
	d.speechRun = 0
	d.silenceRun = 0
	d.inSpeech = false
	d.sess.Reset()
}

func (d *Detector) report(err error) {
	err = fmt.Errorf("detector: classify frame: %w", err)
	select {
	case d.errs <- err:
	default:
		d.log.Warn("vad error dropped, side channel full", "err", err)
	}
}
