package execctx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/swarmflow/swarmflow/types"
)

// Progress tracks how far a run has navigated through its routine.
type Progress struct {
	CurrentStepID   string   `json:"currentStepId"`
	CompletedSteps  []string `json:"completedSteps"`
	TotalSteps      int      `json:"totalSteps"`
	PercentComplete float64  `json:"percentComplete"`
}

// RunResourceUsage is the live usage accounting inside a run context.
// Timestamps are typed so a context persisted with ISO-8601 strings comes
// back as real time values after a cache round trip.
type RunResourceUsage struct {
	StartTime     time.Time       `json:"startTime"`
	CreditsUsed   decimal.Decimal `json:"creditsUsed"`
	DurationMs    int64           `json:"durationMs"`
	MemoryMB      int64           `json:"memoryMB"`
	StepsExecuted int             `json:"stepsExecuted"`
}

// RunContext is the full mutable state of one run while it executes.
// It is owned exclusively by the run and persisted keyed by runId with a
// TTL derived from the run's allocation.
type RunContext struct {
	RunID            string                `json:"runId"`
	RoutineID        string                `json:"routineId"`
	Navigator        string                `json:"navigator"`
	CurrentLocation  string                `json:"currentLocation"`
	VisitedLocations []string              `json:"visitedLocations"`
	Variables        map[string]any        `json:"variables"`
	Outputs          map[string]any        `json:"outputs"`
	CompletedSteps   []string              `json:"completedSteps"`
	ParallelBranches []ParallelBranch      `json:"parallelBranches"`
	ResourceLimits   *types.ResourceLimits `json:"resourceLimits,omitempty"`
	ResourceUsage    RunResourceUsage      `json:"resourceUsage"`
	Progress         Progress              `json:"progress"`
	RetryCount       int                   `json:"retryCount"`
}
