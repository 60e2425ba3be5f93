package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyRunID     contextKey = "run_id"
	keySwarmID   contextKey = "swarm_id"
)

// WithRequestID adds a request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithRunID adds a run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithSwarmID adds a swarm ID to context.
func WithSwarmID(ctx context.Context, swarmID string) context.Context {
	return context.WithValue(ctx, keySwarmID, swarmID)
}

// SwarmID extracts the swarm ID from context.
func SwarmID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySwarmID).(string)
	return v, ok && v != ""
}
