// Package gate implements the controller that turns confirmed speech into an
// actuation decision.
//
// A running Controller owns two goroutines. The capture worker is the only
// reader of the audio source and the only writer of the frame buffer and the
// audio history; it runs the voice activity detector synchronously on every
// frame. When the detector confirms speech, the worker snapshots the history
// and hands it to the verification worker, which matches the speaker,
// optionally classifies the voice and applies the cooldown policy.
//
// At most one verification cycle is in flight. A confirmation that arrives
// while a cycle is running is dropped and counted.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicegate/internal/detector"
	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/telemetry"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/actuate"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

// ErrAlreadyRunning is returned by [Controller.Start] when the controller is
// not idle.
var ErrAlreadyRunning = errors.New("gate: already running")

// Verifier scores an utterance against the enrolled voices.
// [*matcher.Matcher] is the production implementation.
type Verifier interface {
	Verify(ctx context.Context, utterance []float32) (matcher.Result, error)
}

var _ Verifier = (*matcher.Matcher)(nil)

// Config holds the static capture parameters. Changing any of them requires
// a restart of the controller.
type Config struct {
	// Format is the pipeline format. Sources must deliver this sample rate;
	// multi-channel sources are downmixed. Default: 16 kHz mono.
	Format audio.Format

	// FrameSize is the VAD frame length in samples. Default: 512.
	FrameSize int

	// HistorySize is the number of most recent samples retained for a
	// verification cycle. Default: 16000.
	HistorySize int

	// MinSpeech and MinSilence are the detector debounce durations.
	// Defaults: 50ms and 300ms.
	MinSpeech  time.Duration
	MinSilence time.Duration

	// SpeechThreshold is the VAD probability that counts as speech.
	// Default: 0.5.
	SpeechThreshold float64

	// Policy is the initial decision policy.
	Policy Policy
}

// DefaultConfig returns the stock capture configuration.
func DefaultConfig() Config {
	return Config{
		Format:          audio.Mono16k,
		FrameSize:       512,
		HistorySize:     16000,
		MinSpeech:       50 * time.Millisecond,
		MinSilence:      300 * time.Millisecond,
		SpeechThreshold: 0.5,
		Policy:          DefaultPolicy(),
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	var errs []error
	if c.Format.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.Format.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d", c.FrameSize))
	}
	if c.HistorySize < c.FrameSize {
		errs = append(errs, fmt.Errorf("history size %d must be at least one frame (%d)", c.HistorySize, c.FrameSize))
	}
	if c.MinSpeech < 0 || c.MinSilence < 0 {
		errs = append(errs, errors.New("debounce durations must not be negative"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech threshold %v out of range [0, 1]", c.SpeechThreshold))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Deps are the collaborators of a Controller. All are required.
type Deps struct {
	Device     audio.Device
	VAD        vad.Engine
	Verifier   Verifier
	Classifier classify.Provider
	Actuator   actuate.Actuator
}

func (d Deps) validate() error {
	var errs []error
	if d.Device == nil {
		errs = append(errs, errors.New("audio device is required"))
	}
	if d.VAD == nil {
		errs = append(errs, errors.New("VAD engine is required"))
	}
	if d.Verifier == nil {
		errs = append(errs, errors.New("verifier is required"))
	}
	if d.Classifier == nil {
		errs = append(errs, errors.New("classifier is required"))
	}
	if d.Actuator == nil {
		errs = append(errs, errors.New("actuator is required"))
	}
	return errors.Join(errs...)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// WithClock replaces the clock used for cooldown deadlines and timestamps.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithTelemetry publishes frame, speech, verification, trigger and state
// events to hub.
func WithTelemetry(hub *telemetry.Hub) Option { return func(c *Controller) { c.hub = hub } }

// Controller is the gate state machine. Create one with New; it starts Idle.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	now     func() time.Time
	metrics *observe.Metrics
	hub     *telemetry.Hub

	mu            sync.Mutex
	policy        Policy
	cur           *run
	cooldownUntil time.Time
	lastTrigger   time.Time
	lastDecision  *Decision
	lastVerify    *Verification

	lastErr error

	cycles  atomic.Uint64
	dropped atomic.Uint64
}

// run is the state of one Start..Stop span.
type run struct {
	cancel   context.CancelFunc
	src      audio.Source
	done     chan struct{}
	stopping atomic.Bool
	inFlight atomic.Bool
	cycles   chan []float32
}

// New validates cfg and deps and returns an idle Controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gate: invalid config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		log:    slog.Default(),
		now:    time.Now,
		policy: cfg.Policy,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Start opens the audio device and begins listening. The supplied ctx
// governs the open attempt only; the workers run until [Controller.Stop] or
// the end of the stream.
//
// If the device or the VAD session cannot be created, the error is returned
// and the controller stays Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return ErrAlreadyRunning
	}

	src, err := c.deps.Device.Open(ctx)
	if err != nil {
		return fmt.Errorf("gate: open audio device: %w", err)
	}
	format := src.Format()
	if format.SampleRate != c.cfg.Format.SampleRate {
		_ = src.Close()
		return fmt.Errorf("gate: source delivers %s, pipeline requires %d Hz", format, c.cfg.Format.SampleRate)
	}

	sess, err := c.deps.VAD.NewSession(vad.Config{
		SampleRate:      c.cfg.Format.SampleRate,
		FrameSize:       c.cfg.FrameSize,
		SpeechThreshold: c.cfg.SpeechThreshold,
	})
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("gate: create VAD session: %w", err)
	}
	det, err := detector.New(sess, detector.Config{
		Format:     c.cfg.Format,
		FrameSize:  c.cfg.FrameSize,
		MinSpeech:  c.cfg.MinSpeech,
		MinSilence: c.cfg.MinSilence,
	}, detector.WithLogger(c.log))
	if err != nil {
		_ = sess.Close()
		_ = src.Close()
		return fmt.Errorf("gate: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.lastErr = nil
	r := &run{
		cancel: cancel,
		src:    src,
		done:   make(chan struct{}),
		cycles: make(chan []float32, 1),
	}
	c.cur = r

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(r.cycles)
		return c.capture(gctx, r, det, format.Channels)
	})
	g.Go(func() error {
		// The queue is closed once capture ends, so a cycle confirmed just
		// before the end of the stream still completes.
		defer cancel()
		c.verifyLoop(gctx, r)
		return nil
	})
	g.Go(func() error { return c.drainDetectorErrors(gctx, det) })

	go func() {
		err := g.Wait()
		_ = sess.Close()
		_ = src.Close()
		cancel()
		c.finish(r, err)
	}()

	c.log.Info("gate started", "format", format, "frame_size", c.cfg.FrameSize, "history", c.cfg.HistorySize)
	c.publishState(StateListening)
	return nil
}

// Stop halts capture, releases the audio source and returns the controller
// to Idle. An in-flight verification cycle may finish its bookkeeping but
// will not actuate. Stop waits for the workers to exit or ctx to end.
// Stopping an idle controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.cur
	if r == nil {
		c.mu.Unlock()
		return nil
	}
	r.stopping.Store(true)
	c.cur = nil
	c.lastDecision = nil
	c.lastVerify = nil
	c.mu.Unlock()

	r.cancel()
	_ = r.src.Close()

	select {
	case <-r.done:
		c.log.Info("gate stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gate: stop: %w", ctx.Err())
	}
}

// Done returns a channel that is closed when the current run ends, either
// through Stop or because the source reached its end. It returns a closed
// channel when the controller is idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.cur.done
}

// Running reports whether the controller is not Idle.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(c.now())
}

func (c *Controller) stateLocked(now time.Time) State {
	switch {
	case c.cur == nil:
		return StateIdle
	case c.cur.inFlight.Load():
		return StateCapturing
	case now.Before(c.cooldownUntil):
		return StateCooldown
	default:
		return StateListening
	}
}

// Status returns a snapshot for the admin API.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	st := Status{
		State:         c.stateLocked(now),
		LastTrigger:   c.lastTrigger,
		Cycles:        c.cycles.Load(),
		DroppedCycles: c.dropped.Load(),
		Policy:        c.policy,
	}
	if rem := c.cooldownUntil.Sub(now); rem > 0 {
		st.CooldownRemaining = rem
	}
	if c.lastDecision != nil {
		d := *c.lastDecision
		st.LastDecision = &d
	}
	if c.lastVerify != nil {
		v := *c.lastVerify
		st.LastVerification = &v
	}
	return st
}

// Policy returns the active decision policy.
func (c *Controller) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetPolicy replaces the decision policy without interrupting capture. A
// running cooldown keeps its original deadline.
func (c *Controller) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("gate: invalid policy: %w", err)
	}
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
	c.log.Info("gate policy updated", "target", p.TargetLabel, "cooldown", p.Cooldown)
	return nil
}

func (c *Controller) finish(r *run, err error) {
	c.mu.Lock()
	if c.cur == r {
		// The stream ended on its own.
		c.cur = nil
		c.lastDecision = nil
		c.lastVerify = nil
	}
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Error("gate stopped on error", "err", err)
	} else if !r.stopping.Load() {
		c.log.Info("audio stream ended, gate idle")
	}
	close(r.done)
	c.publishState(StateIdle)
}

// Err returns the error that ended the most recent run, or nil when it was
// stopped or the source reached its end.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// capture is the single reader of the source.
func (c *Controller) capture(ctx context.Context, r *run, det *detector.Detector, channels int) error {
	if channels < 1 {
		channels = 1
	}
	fb := audio.NewFrameBuffer(c.cfg.FrameSize, c.cfg.Format)
	hist := audio.NewHistory(c.cfg.HistorySize)
	pcm := make([]int16, c.cfg.FrameSize*channels)
	samples := make([]float32, c.cfg.FrameSize)
	// carry holds the samples of a partial multi-channel frame left at the
	// end of a read; they start the next read so the interleave stays aligned.
	carry := 0

	for {
		n, err := r.src.Read(pcm[carry:])
		if n > 0 {
			total := carry + n
			whole := total / channels * channels
			mono := audio.DownmixInt16(pcm[:whole], channels)
			carry = copy(pcm, pcm[whole:total])
			fb.Push(audio.Int16ToFloat32(samples, mono))
			for {
				frame, ok := fb.Next()
				if !ok {
					break
				}
				c.processFrame(ctx, r, det, hist, frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || r.stopping.Load() {
				return nil
			}
			return fmt.Errorf("gate: read audio: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Controller) processFrame(ctx context.Context, r *run, det *detector.Detector, hist *audio.History, frame audio.Frame) {
	hist.Append(frame.Samples)

	dec, err := det.Process(frame.Samples)
	if err != nil {
		c.log.Warn("frame rejected", "seq", frame.Seq, "err", err)
		return
	}
	c.metrics.RecordFrame(ctx, dec.Speech)

	c.mu.Lock()
	if c.cur == r {
		c.lastDecision = &Decision{
			Seq:         frame.Seq,
			Speech:      dec.Speech,
			Probability: dec.Probability,
			Amplitude:   dec.Amplitude,
			InSpeech:    det.InSpeech(),
		}
	}
	c.mu.Unlock()

	c.publish(telemetry.Event{
		Kind:        telemetry.KindFrame,
		Seq:         frame.Seq,
		Speech:      dec.Speech,
		Probability: dec.Probability,
		Amplitude:   float64(dec.Amplitude),
	})

	switch dec.Event {
	case detector.EventSpeechConfirmed:
		c.metrics.RecordSpeechEvent(ctx, dec.Event.String())
		c.publish(telemetry.Event{Kind: telemetry.KindSpeech, Seq: frame.Seq, Detail: dec.Event.String()})
		c.enqueue(ctx, r, hist.Snapshot(), frame.Seq)
	case detector.EventSilenceConfirmed:
		c.metrics.RecordSpeechEvent(ctx, dec.Event.String())
		c.publish(telemetry.Event{Kind: telemetry.KindSpeech, Seq: frame.Seq, Detail: dec.Event.String()})
	}
}

func (c *Controller) enqueue(ctx context.Context, r *run, utterance []float32, seq uint64) {
	if !r.inFlight.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		c.metrics.DroppedCycles.Add(ctx, 1)
		c.log.Debug("speech confirmed while a cycle is in flight, dropped", "seq", seq)
		return
	}
	// inFlight guarantees the single slot is free.
	r.cycles <- utterance
	c.publishState(StateCapturing)
}

func (c *Controller) verifyLoop(ctx context.Context, r *run) {
	for utt := range r.cycles {
		c.runCycle(ctx, r, utt)
		r.inFlight.Store(false)
		c.publishState(c.State())
	}
}

func (c *Controller) drainDetectorErrors(ctx context.Context, det *detector.Detector) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-det.Errors():
			c.metrics.RecordProviderError(ctx, "vad", "classify_frame")
			c.log.Warn("vad classification failed, frame treated as silence", "err", err)
		}
	}
}

func (c *Controller) publish(ev telemetry.Event) {
	if c.hub == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	c.hub.Publish(ev)
}

func (c *Controller) publishState(s State) {
	c.publish(telemetry.Event{Kind: telemetry.KindState, Detail: s.String()})
}
