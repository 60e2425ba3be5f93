package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceLimits is one budget envelope: credits, wall-clock time, memory,
// and concurrency. Credits are arbitrary-precision decimals, never floats,
// so large budgets reconcile without rounding error; they marshal to JSON
// as quoted strings.
type ResourceLimits struct {
	Credits              decimal.Decimal `json:"credits"`
	TimeoutMs            int64           `json:"timeoutMs"`
	MemoryMB             int64           `json:"memoryMB"`
	ConcurrentExecutions int             `json:"concurrentExecutions"`
}

// ResourceUsage is what a run or step actually consumed.
type ResourceUsage struct {
	CreditsUsed   decimal.Decimal `json:"creditsUsed"`
	DurationMs    int64           `json:"durationMs"`
	MemoryMB      int64           `json:"memoryMB"`
	StepsExecuted int             `json:"stepsExecuted"`
	ToolCalls     int             `json:"toolCalls"`
}

// RunAllocation is a run's sub-budget carved out of a swarm pool.
// Remaining is decremented as step allocations are granted and credited
// back as usage is reconciled. Invariant: Remaining.Credits never exceeds
// Allocated.Credits and never goes negative; requests that would
// overdraw are rejected, not clamped.
type RunAllocation struct {
	AllocationID string         `json:"allocationId"`
	RunID        string         `json:"runId"`
	SwarmID      string         `json:"swarmId"`
	Allocated    ResourceLimits `json:"allocated"`
	Remaining    ResourceLimits `json:"remaining"`
	AllocatedAt  time.Time      `json:"allocatedAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
}

// StepAllocation is a step's sub-budget carved out of a run allocation.
// It has no independent persistence: accounting is reconciled back into
// the parent RunAllocation.Remaining when the step completes.
type StepAllocation struct {
	AllocationID string         `json:"allocationId"`
	StepID       string         `json:"stepId"`
	RunID        string         `json:"runId"`
	Allocated    ResourceLimits `json:"allocated"`
	AllocatedAt  time.Time      `json:"allocatedAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
}

// SwarmAllocationRequest is the shape sent to the swarm-level allocator
// when a run carves a sub-budget out of the pool.
type SwarmAllocationRequest struct {
	ConsumerID   string         `json:"consumerId"`
	ConsumerType string         `json:"consumerType"`
	Limits       ResourceLimits `json:"limits"`
	Purpose      string         `json:"purpose,omitempty"`
	Priority     string         `json:"priority,omitempty"`
}

// SwarmAllocationRecord is the swarm-level allocator's grant.
type SwarmAllocationRecord struct {
	AllocationID string         `json:"allocationId"`
	SwarmID      string         `json:"swarmId"`
	ConsumerID   string         `json:"consumerId"`
	ConsumerType string         `json:"consumerType"`
	Limits       ResourceLimits `json:"limits"`
	GrantedAt    time.Time      `json:"grantedAt"`
}
