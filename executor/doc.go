// Package executor dispatches one step of a run to its execution
// strategy: a model call, a tool call, sandboxed code, or an external API
// call. Step parameters may carry templates resolved against the step's
// io mapping before dispatch. Execution failures are captured in the
// result rather than returned as errors; the caller decides what a failed
// step means for the run.
package executor
