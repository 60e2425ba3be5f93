package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swarmflow/swarmflow/types"
)

// SwarmAllocator is the swarm-level pool this package draws run budgets
// from. The production controller lives outside this module.
type SwarmAllocator interface {
	AllocateResources(ctx context.Context, swarmID string, req types.SwarmAllocationRequest) (*types.SwarmAllocationRecord, error)
	ReleaseResources(ctx context.Context, swarmID, allocationID string) error
}

// MemorySwarmPool is an in-process SwarmAllocator for local and test use.
// Each swarm holds a fixed credit pool; grants debit it and releases
// credit it back.
type MemorySwarmPool struct {
	mu     sync.Mutex
	pools  map[string]decimal.Decimal
	grants map[string]types.SwarmAllocationRecord
	logger *zap.Logger
}

// NewMemorySwarmPool creates an empty pool registry.
func NewMemorySwarmPool(logger *zap.Logger) *MemorySwarmPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemorySwarmPool{
		pools:  make(map[string]decimal.Decimal),
		grants: make(map[string]types.SwarmAllocationRecord),
		logger: logger.With(zap.String("component", "swarm_pool")),
	}
}

// SetPool sets the credit budget for one swarm.
func (p *MemorySwarmPool) SetPool(swarmID string, credits decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[swarmID] = credits
}

// AllocateResources grants a sub-budget out of the swarm's pool. Requests
// exceeding the pool are rejected, never partially granted.
func (p *MemorySwarmPool) AllocateResources(ctx context.Context, swarmID string, req types.SwarmAllocationRequest) (*types.SwarmAllocationRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pool, ok := p.pools[swarmID]
	if !ok {
		return nil, fmt.Errorf("unknown swarm: %s", swarmID)
	}
	if req.Limits.Credits.GreaterThan(pool) {
		return nil, fmt.Errorf("swarm %s pool exhausted: requested %s, available %s",
			swarmID, req.Limits.Credits.String(), pool.String())
	}

	record := types.SwarmAllocationRecord{
		AllocationID: uuid.NewString(),
		SwarmID:      swarmID,
		ConsumerID:   req.ConsumerID,
		ConsumerType: req.ConsumerType,
		Limits:       req.Limits,
		GrantedAt:    time.Now(),
	}
	p.pools[swarmID] = pool.Sub(req.Limits.Credits)
	p.grants[record.AllocationID] = record

	p.logger.Debug("swarm allocation granted",
		zap.String("swarm_id", swarmID),
		zap.String("allocation_id", record.AllocationID),
		zap.String("credits", req.Limits.Credits.String()),
	)
	return &record, nil
}

// ReleaseResources returns a grant's credits to the pool. Releasing an
// unknown allocation is an error; releasing twice is not possible because
// the grant is removed on first release.
func (p *MemorySwarmPool) ReleaseResources(ctx context.Context, swarmID, allocationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	grant, ok := p.grants[allocationID]
	if !ok {
		return fmt.Errorf("unknown allocation: %s", allocationID)
	}
	delete(p.grants, allocationID)
	p.pools[swarmID] = p.pools[swarmID].Add(grant.Limits.Credits)
	return nil
}

// Available returns the swarm's uncommitted credits.
func (p *MemorySwarmPool) Available(swarmID string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pools[swarmID]
}
