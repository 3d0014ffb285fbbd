// Package portaudio captures microphone input through PortAudio
// (github.com/gordonklaus/portaudio).
//
// Binaries built without cgo still compile; [Device.Open] then fails with
// [audio.ErrDeviceUnavailable].
package portaudio

import (
	"time"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// Config selects the input device and stream layout.
type Config struct {
	// DeviceName selects an input device by exact name. Empty uses the
	// system default input.
	DeviceName string

	// Format is the requested capture format. Default: 16 kHz mono.
	Format audio.Format

	// BufferFrames is the per-channel frame count of one blocking read.
	// Default: 512.
	BufferFrames int

	// Latency overrides the suggested input latency when non-zero.
	Latency time.Duration
}

func (c *Config) applyDefaults() {
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = audio.Mono16k.SampleRate
	}
	if c.Format.Channels <= 0 {
		c.Format.Channels = 1
	}
	if c.BufferFrames <= 0 {
		c.BufferFrames = 512
	}
}

// Device opens PortAudio input streams. It is safe for concurrent use.
type Device struct {
	cfg Config
}

var _ audio.Device = (*Device)(nil)

// New returns a Device for cfg.
func New(cfg Config) *Device {
	cfg.applyDefaults()
	return &Device{cfg: cfg}
}
