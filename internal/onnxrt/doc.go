// Package onnxrt owns the process-wide ONNX Runtime environment shared by the
// Silero VAD, speaker embedding and gender classifier backends.
//
// Binaries built without cgo still compile; Acquire then returns
// ErrUnavailable and the onnx backends refuse to construct.
package onnxrt

import "errors"

// ErrUnavailable is returned by Acquire when the binary was built without cgo.
var ErrUnavailable = errors.New("onnxrt: ONNX Runtime requires a cgo build")
