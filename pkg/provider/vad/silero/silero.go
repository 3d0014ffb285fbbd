//go:build cgo

// Package silero provides a vad.Engine backed by the Silero VAD ONNX model.
//
// Silero expects 16 kHz mono input in 512-sample chunks and carries a
// recurrent state between calls, so every session owns its own state tensor.
package silero

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voicegate/internal/onnxrt"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

const (
	// FrameSize is the chunk length the model is exported for at 16 kHz.
	FrameSize = 512

	sampleRate = 16000
	stateLen   = 2 * 1 * 128
)

// Engine is the Silero VAD backend. It is safe for concurrent use.
type Engine struct {
	modelPath string
	closeOnce sync.Once
}

// New initialises the ONNX Runtime environment and returns an Engine that
// loads modelPath for every session. libPath may be empty to use the platform
// default shared library location.
func New(modelPath, libPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path is required")
	}
	if err := onnxrt.Acquire(libPath); err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != sampleRate {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want %d)", cfg.SampleRate, sampleRate)
	}
	if cfg.FrameSize != FrameSize {
		return nil, fmt.Errorf("silero: unsupported frame size %d (want %d)", cfg.FrameSize, FrameSize)
	}

	state, err := ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, stateLen))
	if err != nil {
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	sess, err := ort.NewDynamicAdvancedSession(e.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		nil,
	)
	if err != nil {
		state.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return &session{sess: sess, state: state, threshold: cfg.SpeechThreshold}, nil
}

// Close releases the engine's hold on the ONNX Runtime environment.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() { err = onnxrt.Release() })
	return err
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu        sync.Mutex
	sess      *ort.DynamicAdvancedSession
	state     *ort.Tensor[float32]
	threshold float64
	closed    bool
}

func (s *session) ProcessFrame(frame []float32) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, fmt.Errorf("silero: session closed")
	}
	if len(frame) != FrameSize {
		return vad.Result{}, fmt.Errorf("silero: frame has %d samples, want %d", len(frame), FrameSize)
	}

	input, err := ort.NewTensor(ort.NewShape(1, FrameSize), append([]float32(nil), frame...))
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: input tensor: %w", err)
	}
	defer input.Destroy()

	sr, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: sr tensor: %w", err)
	}
	defer sr.Destroy()

	out, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: output tensor: %w", err)
	}
	defer out.Destroy()

	next, err := ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, stateLen))
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: state tensor: %w", err)
	}
	defer next.Destroy()

	if err := s.sess.Run([]ort.Value{input, s.state, sr}, []ort.Value{out, next}); err != nil {
		return vad.Result{}, fmt.Errorf("silero: run: %w", err)
	}
	copy(s.state.GetData(), next.GetData())

	p := float64(out.GetData()[0])
	return vad.Result{Speech: p >= s.threshold, Probability: p}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	clear(s.state.GetData())
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state.Destroy()
	if err := s.sess.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy session: %w", err)
	}
	return nil
}
