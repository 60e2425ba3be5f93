package types

import "time"

// ResilienceEventType identifies one kind of resilience pipeline event.
type ResilienceEventType string

const (
	EventErrorDetected        ResilienceEventType = "error_detected"
	EventErrorClassified      ResilienceEventType = "error_classified"
	EventRecoveryInitiated    ResilienceEventType = "recovery_initiated"
	EventRecoveryCompleted    ResilienceEventType = "recovery_completed"
	EventRecoveryFailed       ResilienceEventType = "recovery_failed"
	EventCircuitBreakerOpened ResilienceEventType = "circuit_breaker_opened"
	EventCircuitBreakerClosed ResilienceEventType = "circuit_breaker_closed"
	EventEscalation           ResilienceEventType = "escalation"
	EventPatternDetected      ResilienceEventType = "pattern_detected"
	EventRetryAttempted       ResilienceEventType = "retry_attempted"
)

// Severity levels for classified errors.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorClassification is the classifier's verdict on one error occurrence.
type ErrorClassification struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Recoverability string   `json:"recoverability"`
	Tier           string   `json:"tier"`
	Confidence     float64  `json:"confidence"`
}

// Signature is the pattern-cache key for this classification.
func (c ErrorClassification) Signature() string {
	return string(c.Severity) + ":" + c.Category + ":" + c.Tier
}

// ErrorContext carries where and how an error occurred.
type ErrorContext struct {
	RequestID string         `json:"requestId"`
	RunID     string         `json:"runId,omitempty"`
	StepID    string         `json:"stepId,omitempty"`
	Component string         `json:"component"`
	Operation string         `json:"operation"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RecoveryStrategyConfig describes the strategy chosen (or attempted) for
// an error. The zero-value placeholder strategy is used on pre-recovery
// events where no strategy has been selected yet.
type RecoveryStrategyConfig struct {
	Name        string `json:"name"`
	MaxAttempts int    `json:"maxAttempts"`
	BackoffMs   int64  `json:"backoffMs"`
	Escalate    bool   `json:"escalate"`
}

// NoopStrategy is the placeholder carried by events emitted before any
// recovery strategy has been selected.
func NoopStrategy() RecoveryStrategyConfig {
	return RecoveryStrategyConfig{Name: "none"}
}

// ResilienceOutcome is the end result of one recovery attempt.
type ResilienceOutcome struct {
	Success        bool     `json:"success"`
	DurationMs     int64    `json:"durationMs"`
	StrategiesUsed []string `json:"strategiesUsed,omitempty"`
	FinalError     string   `json:"finalError,omitempty"`
}

// ResilienceLearningData captures what this occurrence teaches about the
// failure pattern: a similarity score against recent same-signature errors
// and free-form feature tags and lessons.
type ResilienceLearningData struct {
	Signature       string   `json:"signature"`
	SimilarityScore float64  `json:"similarityScore"`
	FeatureTags     []string `json:"featureTags,omitempty"`
	Lessons         []string `json:"lessons,omitempty"`
}

// EventSource identifies the emitting component.
type EventSource struct {
	Tier      string `json:"tier"`
	Component string `json:"component"`
	Operation string `json:"operation"`
	RequestID string `json:"requestId"`
}

// ResilienceEvent is one classification→strategy→outcome record carried
// end-to-end through the publisher pipeline. Constructed per occurrence,
// buffered, flushed in a batch, then discarded.
type ResilienceEvent struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	Type           ResilienceEventType    `json:"type"`
	Severity       Severity               `json:"severity"`
	Source         EventSource            `json:"source"`
	Classification ErrorClassification    `json:"classification"`
	Context        ErrorContext           `json:"context"`
	Strategy       RecoveryStrategyConfig `json:"strategy"`
	Outcome        ResilienceOutcome      `json:"outcome"`
	Learning       ResilienceLearningData `json:"learning"`
}

// ErrorPattern is a derived view over the pattern cache, never mutated by
// callers directly.
type ErrorPattern struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Frequency             int64         `json:"frequency"`
	LastSeen              time.Time     `json:"lastSeen"`
	AverageResolutionTime time.Duration `json:"averageResolutionTime"`
	EffectiveStrategies   []string      `json:"effectiveStrategies,omitempty"`
	Severity              Severity      `json:"severity"`
}
