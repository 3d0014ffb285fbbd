// Package energy provides a dependency-free vad.Engine that classifies frames
// by their root-mean-square level.
//
// The speech probability is derived from the RMS level as
// rms / (rms + Level), so a frame exactly at Level scores 0.5 and louder
// frames approach 1. With the default SpeechThreshold of 0.5 the decision is
// therefore "rms >= Level".
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

// DefaultLevel is the RMS level (in normalised sample units) treated as the
// speech/non-speech midpoint.
const DefaultLevel = 0.015

// Option configures an Engine.
type Option func(*Engine)

// WithLevel sets the RMS midpoint level. Non-positive values are ignored.
func WithLevel(level float64) Option {
	return func(e *Engine) {
		if level > 0 {
			e.level = level
		}
	}
}

// Engine is an RMS-threshold VAD backend. It is stateless and safe for
// concurrent use.
type Engine struct {
	level float64
}

// New returns an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{level: DefaultLevel}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("energy: frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	return &session{level: e.level, cfg: cfg}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	level  float64
	cfg    vad.Config
	closed bool
}

func (s *session) ProcessFrame(frame []float32) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.cfg.FrameSize {
		return vad.Result{}, fmt.Errorf("energy: frame has %d samples, want %d", len(frame), s.cfg.FrameSize)
	}
	level := rms(frame)
	p := level / (level + s.level)
	return vad.Result{Speech: p >= s.cfg.SpeechThreshold, Probability: p}, nil
}

func (s *session) Reset() {}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, v := range frame {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
