//go:build !cgo

package silero

import (
	"fmt"

	"github.com/MrWong99/voicegate/internal/onnxrt"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

// FrameSize is the chunk length the model is exported for at 16 kHz.
const FrameSize = 512

// Engine is unavailable without cgo.
type Engine struct{}

// New always fails in builds without cgo.
func New(modelPath, libPath string) (*Engine, error) {
	return nil, fmt.Errorf("silero: %w", onnxrt.ErrUnavailable)
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return nil, fmt.Errorf("silero: %w", onnxrt.ErrUnavailable)
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }
