// Package matcher verifies a captured utterance against the enrolled voices
// and grows the enrollment set with high-confidence matches.
//
// A verification normalises the utterance, extracts log-mel features, embeds
// them and takes the maximum cosine similarity against every stored
// embedding. Similarity above the verify threshold is a match; above the
// auto-enroll threshold the new embedding is persisted in the background.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicegate/internal/features"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/enrollment"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
)

// ErrEmbedding wraps failures of the embedding collaborator. They are
// transient: the next utterance may succeed.
var ErrEmbedding = errors.New("matcher: embedding failed")

// IsRetryable reports whether err is a per-cycle collaborator failure rather
// than a programming or configuration error.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbedding)
}

// Thresholds holds the tunable similarity limits.
type Thresholds struct {
	// Verify is the similarity a match must exceed. Default: 0.85.
	Verify float64

	// AutoEnroll is the similarity above which the embedding is stored as a
	// new enrollment. Must be >= Verify. Default: 0.92.
	AutoEnroll float64

	// AutoEnrollEnabled turns auto-enrollment on or off.
	AutoEnrollEnabled bool
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Verify: 0.85, AutoEnroll: 0.92, AutoEnrollEnabled: true}
}

// Validate checks the threshold ranges and ordering.
func (t Thresholds) Validate() error {
	var errs []error
	if t.Verify < -1 || t.Verify > 1 {
		errs = append(errs, fmt.Errorf("verify threshold %v out of range [-1, 1]", t.Verify))
	}
	if t.AutoEnroll < -1 || t.AutoEnroll > 1 {
		errs = append(errs, fmt.Errorf("auto-enroll threshold %v out of range [-1, 1]", t.AutoEnroll))
	}
	if t.AutoEnroll < t.Verify {
		errs = append(errs, fmt.Errorf("auto-enroll threshold %v must be >= verify threshold %v", t.AutoEnroll, t.Verify))
	}
	return errors.Join(errs...)
}

// Result is the outcome of one verification.
type Result struct {
	Matched       bool
	MaxSimilarity float32

	// BestID is the id of the closest enrollment, empty when none exist.
	BestID string

	// Embedding is the utterance embedding, for classification.
	Embedding []float32

	// AutoEnrolled is true when a background save was scheduled.
	AutoEnrolled bool
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Matcher) { m.log = l } }

// WithClock overrides the clock used to stamp new records.
func WithClock(now func() time.Time) Option { return func(m *Matcher) { m.now = now } }

// WithAutoEnrollHook registers a callback invoked after every background save
// attempt, with the saved record and the save error.
func WithAutoEnrollHook(fn func(enrollment.Record, error)) Option {
	return func(m *Matcher) { m.onAutoEnroll = fn }
}

// Matcher performs speaker verification. It is safe for concurrent use.
type Matcher struct {
	extractor *features.Extractor
	embedder  embedding.Provider
	store     enrollment.Store
	length    int
	log       *slog.Logger
	now       func() time.Time

	onAutoEnroll func(enrollment.Record, error)

	mu         sync.RWMutex
	thresholds Thresholds

	pending sync.WaitGroup
	bgCtx   context.Context
	cancel  context.CancelFunc
}

// Config holds the matcher construction parameters.
type Config struct {
	// UtteranceLength is the number of mono samples every utterance is padded
	// or truncated to. Default: 16000.
	UtteranceLength int

	Thresholds Thresholds
}

// New returns a Matcher.
func New(ex *features.Extractor, emb embedding.Provider, store enrollment.Store, cfg Config, opts ...Option) (*Matcher, error) {
	if ex == nil || emb == nil || store == nil {
		return nil, errors.New("matcher: extractor, embedder and store are required")
	}
	if cfg.UtteranceLength <= 0 {
		cfg.UtteranceLength = 16000
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("matcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Matcher{
		extractor:  ex,
		embedder:   emb,
		store:      store,
		length:     cfg.UtteranceLength,
		thresholds: cfg.Thresholds,
		log:        slog.Default(),
		now:        time.Now,
		bgCtx:      ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Thresholds returns the active thresholds.
func (m *Matcher) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// SetThresholds replaces the thresholds, e.g. after a config reload.
func (m *Matcher) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
	return nil
}

// Embed fits the mono utterance to the configured length, extracts features
// and returns its embedding. Capture and WAV decoding down-mix multi-channel
// audio before it reaches the matcher.
func (m *Matcher) Embed(ctx context.Context, utterance []float32) ([]float32, error) {
	samples := audio.FitLength(utterance, m.length)
	feats := m.extractor.Extract(samples)
	emb, err := m.embedder.Embed(ctx, feats)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbedding)
	}
	return emb, nil
}

// Verify scores utterance against every enrollment. An empty enrollment set
// yields a non-matching result with similarity 0, not an error.
//
// When the similarity exceeds the auto-enroll threshold, the embedding is
// saved in the background; Verify does not wait for it.
func (m *Matcher) Verify(ctx context.Context, utterance []float32) (Result, error) {
	emb, err := m.Embed(ctx, utterance)
	if err != nil {
		return Result{}, err
	}
	records, err := m.store.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("matcher: list enrollments: %w", err)
	}

	res := Result{Embedding: emb}
	for _, r := range records {
		sim := Cosine(emb, r.Embedding)
		if res.BestID == "" || sim > res.MaxSimilarity {
			res.MaxSimilarity = sim
			res.BestID = r.ID
		}
	}
	// A maximum below zero still reports as 0.
	if res.MaxSimilarity < 0 {
		res.MaxSimilarity = 0
	}

	t := m.Thresholds()
	res.Matched = float64(res.MaxSimilarity) > t.Verify
	if t.AutoEnrollEnabled && float64(res.MaxSimilarity) > t.AutoEnroll {
		res.AutoEnrolled = m.autoEnroll(emb)
	}

	m.log.Debug("verification scored",
		"enrollments", len(records),
		"max_similarity", res.MaxSimilarity,
		"matched", res.Matched,
		"auto_enrolled", res.AutoEnrolled,
	)
	return res, nil
}

// Enroll embeds utterance and stores it synchronously as an operator
// enrollment.
func (m *Matcher) Enroll(ctx context.Context, utterance []float32, label string) (enrollment.Record, error) {
	emb, err := m.Embed(ctx, utterance)
	if err != nil {
		return enrollment.Record{}, err
	}
	rec := enrollment.NewRecord(emb, label, enrollment.ProvenanceOperator, m.now())
	if err := m.store.Save(ctx, rec); err != nil {
		return enrollment.Record{}, fmt.Errorf("matcher: save enrollment: %w", err)
	}
	m.log.Info("operator enrollment saved", "id", rec.ID, "label", label, "dimensions", len(emb))
	return rec, nil
}

func (m *Matcher) autoEnroll(emb []float32) bool {
	if m.bgCtx.Err() != nil {
		return false
	}
	rec := enrollment.NewRecord(emb, enrollment.AutoLabel, enrollment.ProvenanceAuto, m.now())
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		err := m.store.Save(m.bgCtx, rec)
		if err != nil {
			m.log.Warn("auto-enrollment failed", "id", rec.ID, "err", err)
		} else {
			m.log.Info("auto-enrolled verified sample", "id", rec.ID)
		}
		if m.onAutoEnroll != nil {
			m.onAutoEnroll(rec, err)
		}
	}()
	return true
}

// Flush waits for scheduled auto-enrollment saves to finish or ctx to end.
func (m *Matcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for pending saves up to ctx, then cancels any still running.
func (m *Matcher) Close(ctx context.Context) error {
	err := m.Flush(ctx)
	m.cancel()
	return err
}
