package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voicegate/pkg/provider/classify"
)

// State is the externally visible phase of the controller.
type State int

const (
	// StateIdle means no audio is being captured.
	StateIdle State = iota

	// StateListening means frames are being classified and no verification
	// cycle is in flight.
	StateListening

	// StateCapturing means a verification cycle is in flight.
	StateCapturing

	// StateCooldown means the trigger fired recently; speech is still verified
	// but cannot actuate until the cooldown deadline passes.
	StateCooldown
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCapturing:
		return "capturing"
	case StateCooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy holds the decision parameters that may change while the gate runs.
type Policy struct {
	// TargetLabel is the classifier label that allows actuation.
	// Default: male.
	TargetLabel classify.Label

	// Cooldown is the minimum time between two actuations, measured from the
	// instant the first was issued. Default: 5s.
	Cooldown time.Duration

	// InferenceTimeout bounds each collaborator call of a cycle (embedding,
	// classification). Default: 2s.
	InferenceTimeout time.Duration

	// TriggerTimeout bounds the actuation call. Default: 5s.
	TriggerTimeout time.Duration
}

// DefaultPolicy returns the stock decision policy.
func DefaultPolicy() Policy {
	return Policy{
		TargetLabel:      classify.LabelMale,
		Cooldown:         5 * time.Second,
		InferenceTimeout: 2 * time.Second,
		TriggerTimeout:   5 * time.Second,
	}
}

// Validate checks every field.
func (p Policy) Validate() error {
	var errs []error
	if !p.TargetLabel.IsValid() {
		errs = append(errs, fmt.Errorf("target label %q is not a known class", p.TargetLabel))
	}
	if p.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %s", p.Cooldown))
	}
	if p.InferenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("inference timeout must be positive, got %s", p.InferenceTimeout))
	}
	if p.TriggerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("trigger timeout must be positive, got %s", p.TriggerTimeout))
	}
	return errors.Join(errs...)
}

// Decision is the last per-frame detector output, kept for the state endpoint.
type Decision struct {
	Seq         uint64  `json:"seq"`
	Speech      bool    `json:"speech"`
	Probability float64 `json:"probability"`
	Amplitude   float32 `json:"amplitude"`
	InSpeech    bool    `json:"in_speech"`
}

// Verification is the outcome of the last completed cycle.
type Verification struct {
	Time       time.Time      `json:"time"`
	Matched    bool           `json:"matched"`
	Similarity float32        `json:"similarity"`
	Label      classify.Label `json:"label,omitempty"`
	Triggered  bool           `json:"triggered"`

	// Suppressed names why a matched cycle did not actuate: "cooldown",
	// "label", "classify_error" or "stopped".
	Suppressed string `json:"suppressed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	State             State         `json:"state"`
	CooldownRemaining time.Duration `json:"-"`
	LastDecision      *Decision     `json:"last_decision,omitempty"`
	LastVerification  *Verification `json:"last_verification,omitempty"`
	LastTrigger       time.Time     `json:"last_trigger,omitzero"`
	Cycles            uint64        `json:"cycles"`
	DroppedCycles     uint64        `json:"dropped_cycles"`
	Policy            Policy        `json:"-"`
}
