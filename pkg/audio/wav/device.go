package wav

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// Option configures a [Device].
type Option func(*Device)

// WithRealtime paces reads so that samples are delivered no faster than
// they would be by a live microphone.
func WithRealtime(on bool) Option { return func(d *Device) { d.realtime = on } }

// WithLoop replays the file forever instead of ending with io.EOF.
func WithLoop(on bool) Option { return func(d *Device) { d.loop = on } }

// Device replays a WAV file as a capture device. Every Open rereads the file.
type Device struct {
	path     string
	realtime bool
	loop     bool
}

var _ audio.Device = (*Device)(nil)

// NewDevice returns a Device reading path.
func NewDevice(path string, opts ...Option) *Device {
	d := &Device{path: path}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	clip, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("wav: %s: %w", d.path, err)
	}
	return NewSource(clip, d.realtime, d.loop), nil
}

// Source replays a decoded clip.
type Source struct {
	clip     Clip
	realtime bool
	loop     bool

	mu      sync.Mutex
	pos     int
	started time.Time
	played  int // per-channel frames delivered
	closed  chan struct{}
	once    sync.Once
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a Source over clip.
func NewSource(clip Clip, realtime, loop bool) *Source {
	return &Source{clip: clip, realtime: realtime, loop: loop, closed: make(chan struct{})}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.clip.Format }

// Read implements [audio.Source].
func (s *Source) Read(buf []int16) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	s.mu.Lock()
	ch := s.clip.Format.Channels
	if s.pos >= len(s.clip.Samples) {
		if !s.loop || len(s.clip.Samples) == 0 {
			s.mu.Unlock()
			return 0, io.EOF
		}
		s.pos = 0
	}
	n := copy(buf[:len(buf)/ch*ch], s.clip.Samples[s.pos:])
	s.pos += n
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.played += n / ch
	due := s.started.Add(s.clip.Format.Duration(s.played))
	s.mu.Unlock()

	if s.realtime {
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-s.closed:
				return 0, io.ErrClosedPipe
			}
		}
	}
	return n, nil
}

// Close implements [audio.Source]. It unblocks a paced Read.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
