package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.PingInterval = 0

	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return mr, m
}

func TestManager_SetAndGet(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "run_allocation:r1", `{"runId":"r1"}`, time.Minute))

	val, err := m.Get(ctx, "run_allocation:r1")
	require.NoError(t, err)
	assert.Equal(t, `{"runId":"r1"}`, val)
}

func TestManager_GetMiss(t *testing.T) {
	_, m := setupTestCache(t)

	_, err := m.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	type doc struct {
		RunID   string `json:"runId"`
		Credits string `json:"credits"`
	}

	in := doc{RunID: "r1", Credits: "1000"}
	require.NoError(t, m.SetJSON(ctx, "k", in, time.Minute))

	var out doc
	require.NoError(t, m.GetJSON(ctx, "k", &out))
	assert.Equal(t, in, out)
}

func TestManager_Delete(t *testing.T) {
	_, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))

	_, err := m.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	// deleting an absent key is a no-op
	assert.NoError(t, m.Delete(ctx, "k"))
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, m := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 300*time.Second))

	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, 300, ttl.Seconds(), 1)

	mr.FastForward(301 * time.Second)

	_, err = m.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_ClosedRejectsCalls(t *testing.T) {
	_, m := setupTestCache(t)
	require.NoError(t, m.Close())

	err := m.Set(context.Background(), "k", "v", time.Minute)
	assert.Error(t, err)

	// Close is idempotent
	assert.NoError(t, m.Close())
}

func TestNewManager_BadAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "localhost:1"

	m, err := NewManager(cfg, zap.NewNop())
	assert.Nil(t, m)
	assert.Error(t, err)
}
