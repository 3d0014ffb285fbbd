//go:build cgo

package onnxrt

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	mu          sync.Mutex
	initialized bool
	refs        int
)

// Acquire initialises the ONNX Runtime environment on first use and increments
// its reference count. libPath may be empty to use the platform default. Every
// successful Acquire must be paired with a call to Release.
func Acquire(libPath string) error {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		if libPath == "" {
			libPath = defaultLibPath()
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnxrt: initialize environment: %w", err)
		}
		initialized = true
	}
	refs++
	return nil
}

// Release decrements the reference count and tears the environment down when
// the last user is gone.
func Release() error {
	mu.Lock()
	defer mu.Unlock()
	if refs == 0 {
		return nil
	}
	refs--
	if refs > 0 || !initialized {
		return nil
	}
	initialized = false
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("onnxrt: destroy environment: %w", err)
	}
	return nil
}

// Available reports whether this binary was built with ONNX Runtime support.
func Available() bool { return true }

func defaultLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	case "linux":
		return "/usr/lib/libonnxruntime.so"
	case "windows":
		return "onnxruntime.dll"
	}
	return ""
}
