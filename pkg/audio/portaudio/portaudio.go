//go:build cgo

package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicegate/pkg/audio"
)

var (
	libMu sync.Mutex
	refs  int
)

func acquire() error {
	libMu.Lock()
	defer libMu.Unlock()
	if refs == 0 {
		if err := pa.Initialize(); err != nil {
			return err
		}
	}
	refs++
	return nil
}

func release() {
	libMu.Lock()
	defer libMu.Unlock()
	if refs == 0 {
		return
	}
	refs--
	if refs == 0 {
		_ = pa.Terminate()
	}
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acquire(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: initialize: %w", audio.ErrDeviceUnavailable, err)
	}

	src, err := d.open()
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: portaudio: %w", audio.ErrDeviceUnavailable, err)
	}
	return src, nil
}

func (d *Device) open() (*source, error) {
	in, err := d.inputDevice()
	if err != nil {
		return nil, err
	}
	if in.MaxInputChannels < d.cfg.Format.Channels {
		return nil, fmt.Errorf("device %q has %d input channels, need %d", in.Name, in.MaxInputChannels, d.cfg.Format.Channels)
	}

	params := pa.LowLatencyParameters(in, nil)
	params.Input.Channels = d.cfg.Format.Channels
	params.SampleRate = float64(d.cfg.Format.SampleRate)
	params.FramesPerBuffer = d.cfg.BufferFrames
	if d.cfg.Latency > 0 {
		params.Input.Latency = d.cfg.Latency
	}

	buf := make([]int16, d.cfg.BufferFrames*d.cfg.Format.Channels)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", in.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream on %q: %w", in.Name, err)
	}
	return &source{stream: stream, buf: buf, format: d.cfg.Format}, nil
}

func (d *Device) inputDevice() (*pa.DeviceInfo, error) {
	if d.cfg.DeviceName == "" {
		return pa.DefaultInputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == d.cfg.DeviceName && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", d.cfg.DeviceName)
}

// source reads from a started blocking stream. Close waits for the read in
// progress, which lasts at most one buffer period.
type source struct {
	format audio.Format

	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	pending []int16
	closed  bool
}

func (s *source) Format() audio.Format { return s.format }

func (s *source) Read(out []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if len(s.pending) == 0 {
		// An input overflow drops samples but keeps the stream usable.
		if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
			return 0, fmt.Errorf("portaudio: read: %w", err)
		}
		s.pending = s.buf
	}
	n := copy(out, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := errors.Join(s.stream.Stop(), s.stream.Close())
	release()
	if err != nil {
		return fmt.Errorf("portaudio: close: %w", err)
	}
	return nil
}
