// Package execctx models the mutable state threaded through one run: the
// persisted RunContext record and the Enhanced execution context with its
// nested concurrent sub-states (boundary/timer events, parallel branches,
// subprocess stacks, external events, gateway state).
//
// All transforms in this package are pure: they return a new context value
// and never mutate their input.
package execctx
