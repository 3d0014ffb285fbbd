// Package resample converts a capture [audio.Source] to the pipeline sample
// rate using the pure Go resampler from github.com/tphakala/go-audio-resampling.
//
// Capture hardware commonly runs at 44.1 or 48 kHz while voice activity
// detection and speaker embedding expect 16 kHz. Wrapping the [audio.Device]
// with [NewDevice] keeps the conversion out of the pipeline itself.
package resample

import (
	"context"
	"fmt"
	"io"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// chunk is the number of source frames pulled per underlying Read.
const chunk = 1024

// Device wraps an [audio.Device] so that every opened source delivers
// samples at the target rate.
type Device struct {
	dev  audio.Device
	rate int
}

var _ audio.Device = (*Device)(nil)

// NewDevice returns a Device resampling dev's sources to rate Hz.
func NewDevice(dev audio.Device, rate int) *Device {
	return &Device{dev: dev, rate: rate}
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context) (audio.Source, error) {
	src, err := d.dev.Open(ctx)
	if err != nil {
		return nil, err
	}
	out, err := NewSource(src, d.rate)
	if err != nil {
		src.Close()
		return nil, err
	}
	return out, nil
}

// Source resamples an underlying source. Channel layout is preserved.
type Source struct {
	src    audio.Source
	format audio.Format

	mu       sync.Mutex
	in       []int16
	input    []float64
	pending  []int16
	rs       resampling.Resampler
	closeErr error
}

// NewSource wraps src so that it delivers samples at rate Hz. When src
// already runs at that rate it is returned unchanged.
func NewSource(src audio.Source, rate int) (audio.Source, error) {
	srcFmt := src.Format()
	if srcFmt.SampleRate == rate {
		return src, nil
	}
	if rate <= 0 || srcFmt.SampleRate <= 0 || srcFmt.Channels <= 0 {
		return nil, fmt.Errorf("resample: invalid conversion %s to %d Hz", srcFmt, rate)
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcFmt.SampleRate),
		OutputRate: float64(rate),
		Channels:   srcFmt.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: create resampler: %w", err)
	}
	return &Source{
		src:    src,
		format: audio.Format{SampleRate: rate, Channels: srcFmt.Channels},
		in:     make([]int16, chunk*srcFmt.Channels),
		rs:     rs,
	}, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Read implements [audio.Source]. It blocks until the resampler has produced
// output, the underlying source ends, or the source is closed.
func (s *Source) Read(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 {
		if s.closeErr != nil {
			return 0, s.closeErr
		}
		n, readErr := s.src.Read(s.in)
		if n > 0 {
			if err := s.process(s.in[:n]); err != nil {
				return 0, err
			}
		}
		if readErr != nil {
			if len(s.pending) > 0 {
				break
			}
			return 0, readErr
		}
	}

	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Source) process(samples []int16) error {
	if cap(s.input) < len(samples) {
		s.input = make([]float64, len(samples))
	}
	input := s.input[:len(samples)]
	for i, v := range samples {
		input[i] = float64(v) / 32768.0
	}

	output, err := s.rs.Process(input)
	if err != nil {
		return fmt.Errorf("resample: process: %w", err)
	}
	for _, v := range output {
		switch {
		case v >= 1:
			s.pending = append(s.pending, 32767)
		case v <= -1:
			s.pending = append(s.pending, -32768)
		default:
			s.pending = append(s.pending, int16(v*32767))
		}
	}
	return nil
}

// Close implements [audio.Source]. It closes the underlying source.
func (s *Source) Close() error {
	err := s.src.Close()
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = fmt.Errorf("resample: %w", io.ErrClosedPipe)
	}
	s.rs = nil
	s.mu.Unlock()
	return err
}
