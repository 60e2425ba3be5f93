package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HealthCheck is one named check inside a component health report.
type HealthCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Sink is the side-channel telemetry emitter. Every method is
// fire-and-forget: nothing here returns an error or blocks the business
// operation that called it. Callers that must not even pay the logging
// cost invoke these from a detached goroutine.
type Sink struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// NewSink creates a telemetry sink writing to the given logger and the
// global tracer provider.
func NewSink(logger *zap.Logger) *Sink {
	return &Sink{
		logger: logger.With(zap.String("component", "telemetry_sink")),
		tracer: otel.Tracer("swarmflow/telemetry"),
	}
}

// EmitError records one error occurrence.
func (s *Sink) EmitError(err error, component, severityTier string, metadata map[string]any) {
	fields := []zap.Field{
		zap.String("emit", "error"),
		zap.String("target_component", component),
		zap.String("severity_tier", severityTier),
		zap.Error(err),
	}
	if len(metadata) > 0 {
		fields = append(fields, zap.Any("metadata", metadata))
	}
	s.logger.Warn("telemetry error emission", fields...)
}

// EmitTaskCompletion records one finished task and its cost.
func (s *Sink) EmitTaskCompletion(requestID, taskLabel, outcome string, durationMs int64, resourceCost string) {
	_, span := s.tracer.Start(context.Background(), "task_completion")
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("task", taskLabel),
		attribute.String("outcome", outcome),
		attribute.Int64("duration_ms", durationMs),
		attribute.String("resource_cost", resourceCost),
	)
	span.End()

	s.logger.Info("task completion",
		zap.String("request_id", requestID),
		zap.String("task", taskLabel),
		zap.String("outcome", outcome),
		zap.Int64("duration_ms", durationMs),
		zap.String("resource_cost", resourceCost),
	)
}

// EmitComponentHealth records a component health snapshot.
func (s *Sink) EmitComponentHealth(component, status string, checks []HealthCheck) {
	s.logger.Info("component health",
		zap.String("target_component", component),
		zap.String("status", status),
		zap.Any("checks", checks),
	)
}
