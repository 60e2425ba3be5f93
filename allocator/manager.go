package allocator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swarmflow/swarmflow/eventbus"
	"github.com/swarmflow/swarmflow/execctx"
	"github.com/swarmflow/swarmflow/internal/cache"
	"github.com/swarmflow/swarmflow/internal/metrics"
	"github.com/swarmflow/swarmflow/types"
)

// Cache key layout for persisted allocator state.
const (
	runAllocationKeyPrefix = "run_allocation:"
	runContextKeyPrefix    = "run_context:"
)

// TTL bounds for persisted allocations and the fallback context TTL.
const (
	allocationTTLFloor = 300 * time.Second
	allocationTTLCeil  = 86400 * time.Second
	defaultContextTTL  = 3600 * time.Second
)

// Lifecycle event types published on run transitions.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Store is the narrow persistence surface the allocator needs. The cache
// manager satisfies it; tests may substitute their own.
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// EstimatedRequirements is a run's predicted resource envelope.
type EstimatedRequirements struct {
	Credits    decimal.Decimal `json:"credits"`
	DurationMs int64           `json:"durationMs"`
	MemoryMB   int64           `json:"memoryMB"`
	MaxSteps   int             `json:"maxSteps"`
}

// RunAllocationRequest asks for a run budget out of a swarm pool.
type RunAllocationRequest struct {
	RunID     string                `json:"runId"`
	RoutineID string                `json:"routineId"`
	Estimated EstimatedRequirements `json:"estimatedRequirements"`
	Priority  string                `json:"priority,omitempty"`
	Purpose   string                `json:"purpose,omitempty"`
}

// StepRequirements is a step's predicted resource envelope.
type StepRequirements struct {
	Credits    decimal.Decimal `json:"credits"`
	DurationMs int64           `json:"durationMs"`
	MemoryMB   int64           `json:"memoryMB"`
}

// StepAllocationRequest asks for a step budget out of a run allocation.
type StepAllocationRequest struct {
	StepID    string           `json:"stepId"`
	StepType  string           `json:"stepType"`
	Estimated StepRequirements `json:"estimatedRequirements"`
}

// Manager is the hierarchical resource allocator. Step allocate/release
// against one run is serialized through a per-run mutex, so concurrent
// steps cannot race the read-modify-write on Remaining.
type Manager struct {
	swarm   SwarmAllocator
	store   Store
	bus     eventbus.Bus
	metrics *metrics.Collector
	logger  *zap.Logger

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
	steps    map[string]*types.StepAllocation
}

// NewManager creates an allocator. bus and collector may be nil, in which
// case lifecycle events and metrics are skipped.
func NewManager(swarm SwarmAllocator, store Store, bus eventbus.Bus, collector *metrics.Collector, logger *zap.Logger) *Manager {
	return &Manager{
		swarm:    swarm,
		store:    store,
		bus:      bus,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "allocator")),
		runLocks: make(map[string]*sync.Mutex),
		steps:    make(map[string]*types.StepAllocation),
	}
}

// allocationTTL converts an estimated duration to the persistence TTL:
// integer seconds clamped to [300s, 86400s]. Zero and negative durations
// clamp to the floor.
func allocationTTL(durationMs int64) time.Duration {
	secs := int64(math.Round(float64(durationMs) / 1000.0))
	ttl := time.Duration(secs) * time.Second
	if ttl < allocationTTLFloor {
		return allocationTTLFloor
	}
	if ttl > allocationTTLCeil {
		return allocationTTLCeil
	}
	return ttl
}

// AllocateFromSwarm carves a run budget out of the swarm pool and persists
// the resulting RunAllocation.
//
// If the cache write fails after the swarm grant succeeded, the grant is
// NOT rolled back: the chosen policy prefers over-allocation (an orphaned
// grant an operator can reconcile from the error log) to under-allocation
// (a run holding credits the swarm believes are free).
func (m *Manager) AllocateFromSwarm(ctx context.Context, swarmID string, req RunAllocationRequest) (*types.RunAllocation, error) {
	limits := types.ResourceLimits{
		Credits:              req.Estimated.Credits,
		TimeoutMs:            req.Estimated.DurationMs,
		MemoryMB:             req.Estimated.MemoryMB,
		ConcurrentExecutions: req.Estimated.MaxSteps,
	}

	record, err := m.swarm.AllocateResources(ctx, swarmID, types.SwarmAllocationRequest{
		ConsumerID:   req.RunID,
		ConsumerType: "run",
		Limits:       limits,
		Purpose:      req.Purpose,
		Priority:     req.Priority,
	})
	if err != nil {
		m.recordFailure("run", "swarm_rejected")
		return nil, fmt.Errorf("swarm allocation failed: %w", err)
	}

	now := time.Now()
	ttl := allocationTTL(req.Estimated.DurationMs)
	alloc := &types.RunAllocation{
		AllocationID: record.AllocationID,
		RunID:        req.RunID,
		SwarmID:      swarmID,
		Allocated:    limits,
		Remaining:    limits,
		AllocatedAt:  now,
		ExpiresAt:    now.Add(ttl),
	}

	if err := m.store.SetJSON(ctx, runAllocationKeyPrefix+req.RunID, alloc, ttl); err != nil {
		m.recordFailure("run", "persist")
		m.logger.Error("run allocation persisted nowhere, swarm grant left in place",
			zap.String("run_id", req.RunID),
			zap.String("allocation_id", record.AllocationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to persist run allocation: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordAllocation("run", limits.Credits.InexactFloat64())
	}
	m.logger.Info("run allocation granted",
		zap.String("swarm_id", swarmID),
		zap.String("run_id", req.RunID),
		zap.String("credits", limits.Credits.String()),
		zap.Duration("ttl", ttl),
	)
	return alloc, nil
}

// ReleaseToSwarm returns a run's budget to the swarm and clears its
// persisted state. A missing allocation is an idempotent no-op. Cache
// deletion failures are warnings; the swarm-level release still counts as
// complete.
func (m *Manager) ReleaseToSwarm(ctx context.Context, swarmID, runID string, usage types.ResourceUsage) error {
	var alloc types.RunAllocation
	err := m.store.GetJSON(ctx, runAllocationKeyPrefix+runID, &alloc)
	if err != nil {
		if cache.IsCacheMiss(err) {
			m.logger.Warn("release for unknown run allocation, nothing to do",
				zap.String("run_id", runID))
			return nil
		}
		return fmt.Errorf("failed to load run allocation: %w", err)
	}

	if err := m.swarm.ReleaseResources(ctx, swarmID, alloc.AllocationID); err != nil {
		return fmt.Errorf("swarm release failed: %w", err)
	}

	if err := m.store.Delete(ctx, runAllocationKeyPrefix+runID, runContextKeyPrefix+runID); err != nil {
		m.logger.Warn("failed to clear allocation cache entries",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}

	m.logger.Info("run released to swarm",
		zap.String("swarm_id", swarmID),
		zap.String("run_id", runID),
		zap.String("credits_used", usage.CreditsUsed.String()),
		zap.Int64("duration_ms", usage.DurationMs),
		zap.Int("steps_executed", usage.StepsExecuted),
	)
	return nil
}

// GetRunContext loads the persisted run context. Timestamps serialized as
// ISO-8601 strings come back as time values through the typed fields.
func (m *Manager) GetRunContext(ctx context.Context, runID string) (*execctx.RunContext, error) {
	var rc execctx.RunContext
	err := m.store.GetJSON(ctx, runContextKeyPrefix+runID, &rc)
	if err != nil {
		if cache.IsCacheMiss(err) {
			return nil, fmt.Errorf("run context not found: %s", runID)
		}
		m.logger.Error("run context load failed", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}
	return &rc, nil
}

// UpdateRunContext persists the run context with a TTL equal to the run
// allocation's remaining lifetime, falling back to the 3600s default when
// no allocation exists.
func (m *Manager) UpdateRunContext(ctx context.Context, runID string, rc *execctx.RunContext) error {
	ttl := defaultContextTTL
	var alloc types.RunAllocation
	if err := m.store.GetJSON(ctx, runAllocationKeyPrefix+runID, &alloc); err == nil {
		if remaining := time.Until(alloc.ExpiresAt); remaining > 0 {
			ttl = remaining
		}
	}

	if err := m.store.SetJSON(ctx, runContextKeyPrefix+runID, rc, ttl); err != nil {
		return fmt.Errorf("failed to persist run context: %w", err)
	}
	return nil
}

// AllocateForStep debits a step budget from a live run allocation. It
// fails fast on a missing allocation or an insufficient remainder; a
// rejected request never partially debits.
func (m *Manager) AllocateForStep(ctx context.Context, runID string, req StepAllocationRequest) (*types.StepAllocation, error) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	var alloc types.RunAllocation
	err := m.store.GetJSON(ctx, runAllocationKeyPrefix+runID, &alloc)
	if err != nil {
		if cache.IsCacheMiss(err) {
			m.recordFailure("step", "no_allocation")
			return nil, fmt.Errorf("no allocation found for run: %s", runID)
		}
		return nil, fmt.Errorf("failed to load run allocation: %w", err)
	}

	if req.Estimated.Credits.GreaterThan(alloc.Remaining.Credits) {
		m.recordFailure("step", "credits")
		return nil, fmt.Errorf("insufficient credits for step %s: requested %s, available %s",
			req.StepID, req.Estimated.Credits.String(), alloc.Remaining.Credits.String())
	}
	if req.Estimated.DurationMs > alloc.Remaining.TimeoutMs {
		m.recordFailure("step", "time")
		return nil, fmt.Errorf("insufficient time for step %s: requested %dms, available %dms",
			req.StepID, req.Estimated.DurationMs, alloc.Remaining.TimeoutMs)
	}

	alloc.Remaining.Credits = alloc.Remaining.Credits.Sub(req.Estimated.Credits)
	alloc.Remaining.TimeoutMs -= req.Estimated.DurationMs
	if err := m.persistAllocation(ctx, &alloc); err != nil {
		return nil, err
	}

	now := time.Now()
	step := &types.StepAllocation{
		AllocationID: uuid.NewString(),
		StepID:       req.StepID,
		RunID:        runID,
		Allocated: types.ResourceLimits{
			Credits:   req.Estimated.Credits,
			TimeoutMs: req.Estimated.DurationMs,
			MemoryMB:  req.Estimated.MemoryMB,
		},
		AllocatedAt: now,
		ExpiresAt:   now.Add(time.Duration(req.Estimated.DurationMs) * time.Millisecond),
	}

	m.mu.Lock()
	m.steps[stepKey(runID, req.StepID)] = step
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordAllocation("step", req.Estimated.Credits.InexactFloat64())
	}
	return step, nil
}

// ReleaseFromStep reconciles a completed step back into its parent: the
// unused portion of the step budget is credited to the run's remainder,
// capped at the original allocation. Missing run or step allocations are
// logged warnings, not errors.
func (m *Manager) ReleaseFromStep(ctx context.Context, runID, stepID string, usage types.ResourceUsage) error {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	step, ok := m.steps[stepKey(runID, stepID)]
	if ok {
		delete(m.steps, stepKey(runID, stepID))
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("release for unknown step allocation, nothing to do",
			zap.String("run_id", runID),
			zap.String("step_id", stepID),
		)
		return nil
	}

	var alloc types.RunAllocation
	err := m.store.GetJSON(ctx, runAllocationKeyPrefix+runID, &alloc)
	if err != nil {
		if cache.IsCacheMiss(err) {
			m.logger.Warn("release for run without allocation, nothing to do",
				zap.String("run_id", runID),
				zap.String("step_id", stepID),
			)
			return nil
		}
		return fmt.Errorf("failed to load run allocation: %w", err)
	}

	unusedCredits := step.Allocated.Credits.Sub(usage.CreditsUsed)
	if unusedCredits.IsNegative() {
		unusedCredits = decimal.Zero
	}
	alloc.Remaining.Credits = alloc.Remaining.Credits.Add(unusedCredits)
	if alloc.Remaining.Credits.GreaterThan(alloc.Allocated.Credits) {
		alloc.Remaining.Credits = alloc.Allocated.Credits
	}

	unusedTime := step.Allocated.TimeoutMs - usage.DurationMs
	if unusedTime < 0 {
		unusedTime = 0
	}
	alloc.Remaining.TimeoutMs += unusedTime
	if alloc.Remaining.TimeoutMs > alloc.Allocated.TimeoutMs {
		alloc.Remaining.TimeoutMs = alloc.Allocated.TimeoutMs
	}

	if err := m.persistAllocation(ctx, &alloc); err != nil {
		return err
	}

	m.logger.Debug("step released",
		zap.String("run_id", runID),
		zap.String("step_id", stepID),
		zap.String("credits_used", usage.CreditsUsed.String()),
		zap.String("credits_returned", unusedCredits.String()),
	)
	return nil
}

// EmitRunStarted publishes the run-started lifecycle event.
func (m *Manager) EmitRunStarted(ctx context.Context, swarmID, runID string) {
	m.emitLifecycle(ctx, EventRunStarted, runID, map[string]any{
		"swarmId": swarmID,
		"runId":   runID,
	})
}

// EmitRunCompleted publishes the run-completed lifecycle event.
func (m *Manager) EmitRunCompleted(ctx context.Context, runID string, usage types.ResourceUsage) {
	m.emitLifecycle(ctx, EventRunCompleted, runID, map[string]any{
		"runId":         runID,
		"creditsUsed":   usage.CreditsUsed.String(),
		"durationMs":    usage.DurationMs,
		"stepsExecuted": usage.StepsExecuted,
	})
}

// EmitRunFailed publishes the run-failed lifecycle event. The cause may
// be an error instance or any other value; both normalize to a message.
func (m *Manager) EmitRunFailed(ctx context.Context, runID string, cause any) {
	m.emitLifecycle(ctx, EventRunFailed, runID, map[string]any{
		"runId": runID,
		"error": types.ErrString(cause),
	})
}

// emitLifecycle publishes one lifecycle envelope. A vetoed publication is
// a warning: local state changes proceed regardless of interception.
func (m *Manager) emitLifecycle(ctx context.Context, eventType, runID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	requestID, _ := types.RequestID(ctx)
	envelope := eventbus.Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		Timestamp:     time.Now(),
		Data:          data,
		CorrelationID: requestID,
		Metadata:      map[string]string{"component": "allocator"},
	}

	err := m.bus.PublishBatch(ctx, []eventbus.Envelope{envelope})
	switch {
	case errors.Is(err, eventbus.ErrBlocked):
		m.logger.Warn("lifecycle event blocked by interceptor",
			zap.String("event_type", eventType),
			zap.String("run_id", runID),
		)
	case err != nil:
		m.logger.Warn("lifecycle event publish failed",
			zap.String("event_type", eventType),
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
}

func (m *Manager) persistAllocation(ctx context.Context, alloc *types.RunAllocation) error {
	ttl := time.Until(alloc.ExpiresAt)
	if ttl <= 0 {
		ttl = allocationTTLFloor
	}
	if err := m.store.SetJSON(ctx, runAllocationKeyPrefix+alloc.RunID, alloc, ttl); err != nil {
		return fmt.Errorf("failed to persist run allocation: %w", err)
	}
	return nil
}

func (m *Manager) runLock(runID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		m.runLocks[runID] = lock
	}
	return lock
}

func (m *Manager) recordFailure(tier, reason string) {
	if m.metrics != nil {
		m.metrics.RecordAllocationFailure(tier, reason)
	}
}

func stepKey(runID, stepID string) string {
	return runID + ":" + stepID
}
