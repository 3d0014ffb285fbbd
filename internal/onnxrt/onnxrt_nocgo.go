//go:build !cgo

package onnxrt

// Acquire always fails without cgo.
func Acquire(string) error { return ErrUnavailable }

// Release is a no-op without cgo.
func Release() error { return nil }

// Available reports whether this binary was built with ONNX Runtime support.
func Available() bool { return false }
