// Package mock provides a test double for actuate.Actuator.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/provider/actuate"
)

// Actuator is a mock implementation of actuate.Actuator.
type Actuator struct {
	mu sync.Mutex

	// TriggerErr, if non-nil, is returned by Trigger.
	TriggerErr error

	// TriggerCallCount is the number of times Trigger was called.
	TriggerCallCount int

	fired chan struct{}
}

// Trigger records the call and returns TriggerErr.
func (a *Actuator) Trigger(context.Context) error {
	a.mu.Lock()
	a.TriggerCallCount++
	if a.fired == nil {
		a.fired = make(chan struct{}, 64)
	}
	ch := a.fired
	err := a.TriggerErr
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
	return err
}

// Calls returns TriggerCallCount. Thread-safe.
func (a *Actuator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.TriggerCallCount
}

// Fired returns a channel that receives a value after every Trigger call.
func (a *Actuator) Fired() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fired == nil {
		a.fired = make(chan struct{}, 64)
	}
	return a.fired
}

var _ actuate.Actuator = (*Actuator)(nil)
