// Package resilience turns error and recovery occurrences into a sampled,
// batched event stream. Events flow through a filter/transform/sink
// pipeline: a per-type sampling gate, event construction with learning
// data, an in-memory buffer flushed by size or interval, and a single
// batch publish to the event bus. The pipeline is advisory: publish
// failures drop the batch, telemetry emission is fire-and-forget, and the
// per-call overhead budget is observed but never enforced.
package resilience
