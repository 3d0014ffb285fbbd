// Package classify defines the Provider interface for perceived-gender
// classification of a speaker embedding.
//
// Implementations must be safe for concurrent use.
package classify

import (
	"context"
	"fmt"
	"strings"
)

// Label is the classifier output.
type Label string

const (
	LabelMale        Label = "male"
	LabelFemale      Label = "female"
	LabelAndrogynous Label = "androgynous"
)

// IsValid reports whether l is a recognised label.
func (l Label) IsValid() bool {
	switch l {
	case LabelMale, LabelFemale, LabelAndrogynous:
		return true
	}
	return false
}

// ParseLabel converts a case-insensitive string into a Label.
func ParseLabel(s string) (Label, error) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("classify: unknown label %q; valid values: male, female, androgynous", s)
	}
	return l, nil
}

// LabelFromIndex maps the output index of a three-way classifier to a label:
// 0 is male, 1 is female, anything else is androgynous.
func LabelFromIndex(i int) Label {
	switch i {
	case 0:
		return LabelMale
	case 1:
		return LabelFemale
	default:
		return LabelAndrogynous
	}
}

// Provider classifies a voice embedding.
type Provider interface {
	// Classify returns the perceived-gender label for embedding.
	Classify(ctx context.Context, embedding []float32) (Label, error)
}
