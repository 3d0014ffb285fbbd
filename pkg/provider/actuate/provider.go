// Package actuate defines the Actuator interface that performs the external
// trigger once the gate decides to fire.
//
// Triggers are fire-and-forget from the gate's point of view: the outcome is
// logged and counted but never retried and never changes the gate state.
package actuate

import "context"

// Actuator issues the external trigger.
//
// Implementations must be safe for concurrent use.
type Actuator interface {
	// Trigger fires once. It should honour ctx cancellation.
	Trigger(ctx context.Context) error
}
