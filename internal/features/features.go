// Package features computes log-mel spectrograms from fixed-length
// utterances.
//
// The extractor is a pure function of its configuration and input: it holds
// no per-call state beyond a scratch FFT plan, and identical input yields a
// bit-for-bit identical matrix.
package features

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Config holds the spectrogram parameters.
type Config struct {
	SampleRate  int
	FFTSize     int
	HopSize     int
	NumFrames   int
	NumMelBands int
	MelMinHz    float64
	MelMaxHz    float64
	Epsilon     float64
}

// DefaultConfig returns the 100×80 log-mel configuration used by the speaker
// embedding model.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		FFTSize:     512,
		HopSize:     160,
		NumFrames:   100,
		NumMelBands: 80,
		MelMinHz:    20,
		MelMaxHz:    7600,
		Epsilon:     1e-6,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FFTSize < 2 {
		errs = append(errs, fmt.Errorf("fft_size must be at least 2, got %d", c.FFTSize))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("hop_size must be positive, got %d", c.HopSize))
	}
	if c.NumFrames <= 0 {
		errs = append(errs, fmt.Errorf("num_frames must be positive, got %d", c.NumFrames))
	}
	if c.NumMelBands <= 0 {
		errs = append(errs, fmt.Errorf("num_mel_bands must be positive, got %d", c.NumMelBands))
	}
	if c.MelMinHz < 0 || c.MelMinHz >= c.MelMaxHz {
		errs = append(errs, fmt.Errorf("mel range [%v, %v] is invalid", c.MelMinHz, c.MelMaxHz))
	}
	if c.SampleRate > 0 && c.MelMaxHz > float64(c.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("mel_max_hz %v exceeds Nyquist %v", c.MelMaxHz, float64(c.SampleRate)/2))
	}
	if c.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("epsilon must be positive, got %v", c.Epsilon))
	}
	return errors.Join(errs...)
}

// PaddedLength is the number of samples spanned by all analysis windows.
func (c Config) PaddedLength() int {
	return c.FFTSize + (c.NumFrames-1)*c.HopSize
}

// Matrix is a [NumFrames][NumMelBands] matrix of log mel energies.
type Matrix [][]float32

// Shape returns the row and column counts.
func (m Matrix) Shape() (frames, bands int) {
	if len(m) == 0 {
		return 0, 0
	}
	return len(m), len(m[0])
}

// Flatten returns the matrix in row-major order.
func (m Matrix) Flatten() []float32 {
	frames, bands := m.Shape()
	out := make([]float32, 0, frames*bands)
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// Extractor computes log-mel spectrograms. It is safe for concurrent use.
type Extractor struct {
	cfg    Config
	window []float64
	bank   [][]float64

	mu  sync.Mutex
	fft *fourier.FFT
	seq []float64
	out []complex128
}

// New precomputes the window and filter bank for cfg.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	return &Extractor{
		cfg:    cfg,
		window: hammingWindow(cfg.FFTSize),
		bank:   melFilterBank(cfg.NumMelBands, cfg.FFTSize, cfg.SampleRate, cfg.MelMinHz, cfg.MelMaxHz),
		fft:    fourier.NewFFT(cfg.FFTSize),
		seq:    make([]float64, cfg.FFTSize),
		out:    make([]complex128, cfg.FFTSize/2+1),
	}, nil
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Extract returns the log-mel matrix of utterance. Input shorter than the
// padded length is zero-padded; longer input is ignored past it. The result
// always has shape [NumFrames][NumMelBands] and contains no NaN or Inf.
func (e *Extractor) Extract(utterance []float32) Matrix {
	cfg := e.cfg
	padded := make([]float64, cfg.PaddedLength())
	for i := range min(len(utterance), len(padded)) {
		padded[i] = float64(utterance[i])
	}

	half := cfg.FFTSize/2 + 1
	power := make([]float64, half)
	logEps := math.Log(cfg.Epsilon)

	e.mu.Lock()
	defer e.mu.Unlock()

	m := make(Matrix, cfg.NumFrames)
	for t := range cfg.NumFrames {
		start := t * cfg.HopSize
		for j := range cfg.FFTSize {
			e.seq[j] = padded[start+j] * e.window[j]
		}
		e.out = e.fft.Coefficients(e.out, e.seq)
		for k, c := range e.out {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}

		row := make([]float32, cfg.NumMelBands)
		for b, filter := range e.bank {
			var energy float64
			for k, w := range filter {
				energy += power[k] * w
			}
			v := math.Log(energy + cfg.Epsilon)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = logEps
			}
			row[b] = float32(v)
		}
		m[t] = row
	}
	return m
}
