package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmflow/swarmflow/allocator"
	"github.com/swarmflow/swarmflow/eventbus"
	"github.com/swarmflow/swarmflow/executor"
	"github.com/swarmflow/swarmflow/internal/cache"
	"github.com/swarmflow/swarmflow/resilience"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	store, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.NewChannelBus(logger)
	t.Cleanup(bus.Stop)

	pool := allocator.NewMemorySwarmPool(logger)
	pool.SetPool("swarm-1", decimal.NewFromInt(100000))
	manager := allocator.NewManager(pool, store, bus, nil, logger)

	pubCfg := resilience.DefaultConfig()
	pubCfg.FlushInterval = 0
	publisher := resilience.NewPublisher(pubCfg, bus, nil, nil, logger)

	exec := executor.NewExecutor(executor.DefaultConfig(), nil, nil, nil, nil, logger)

	mux := http.NewServeMux()
	NewServer(manager, exec, publisher, logger).Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestServer_RunLifecycle(t *testing.T) {
	srv := setupServer(t)

	resp := postJSON(t, srv.URL+"/v1/swarms/swarm-1/runs",
		`{"runId":"run-1","routineId":"routine-1","estimatedRequirements":{"credits":"1000","durationMs":3600000}}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var alloc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alloc))
	assert.Equal(t, "run-1", alloc["runId"])
	assert.Equal(t, "swarm-1", alloc["swarmId"])

	// step allocation debits the run budget
	stepResp := postJSON(t, srv.URL+"/v1/runs/run-1/steps",
		`{"stepId":"step-1","stepType":"llm_call","estimatedRequirements":{"credits":"200","durationMs":60000}}`)
	defer stepResp.Body.Close()
	require.Equal(t, http.StatusCreated, stepResp.StatusCode)

	// over-budget step allocation fails fast
	failResp := postJSON(t, srv.URL+"/v1/runs/run-1/steps",
		`{"stepId":"step-2","stepType":"llm_call","estimatedRequirements":{"credits":"99999","durationMs":1000}}`)
	defer failResp.Body.Close()
	assert.Equal(t, http.StatusConflict, failResp.StatusCode)

	// release the run
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/swarms/swarm-1/runs/run-1", nil)
	require.NoError(t, err)
	relResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer relResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, relResp.StatusCode)
}

func TestServer_PoolExhaustion(t *testing.T) {
	srv := setupServer(t)

	resp := postJSON(t, srv.URL+"/v1/swarms/swarm-1/runs",
		`{"runId":"run-big","estimatedRequirements":{"credits":"999999","durationMs":1000}}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_ContextRoundTrip(t *testing.T) {
	srv := setupServer(t)

	missingResp, err := http.Get(srv.URL + "/v1/runs/ghost/context")
	require.NoError(t, err)
	defer missingResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, missingResp.StatusCode)

	putReq, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/runs/run-ctx/context",
		strings.NewReader(`{"runId":"run-ctx","routineId":"routine-1","variables":{"userId":"u-1"}}`))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(putReq)
	require.NoError(t, err)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusNoContent, putResp.StatusCode)

	getResp, err := http.Get(srv.URL + "/v1/runs/run-ctx/context")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var rc map[string]any
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&rc))
	assert.Equal(t, "run-ctx", rc["runId"])
}

func TestServer_ExecuteStepFailureFeedsPatterns(t *testing.T) {
	srv := setupServer(t)

	// tool runner is not wired, so a tool step fails and the error is
	// recorded in the pattern view
	resp := postJSON(t, srv.URL+"/v1/runs/run-1/steps/step-1/execute",
		`{"input":{"type":"tool_call","parameters":{"tool":"search"}}}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, false, result["success"])

	patResp, err := http.Get(srv.URL + "/v1/patterns")
	require.NoError(t, err)
	defer patResp.Body.Close()
	require.Equal(t, http.StatusOK, patResp.StatusCode)

	var patterns []map[string]any
	require.NoError(t, json.NewDecoder(patResp.Body).Decode(&patterns))
	require.Len(t, patterns, 1)
	assert.Contains(t, patterns[0]["id"], "step_execution")
}
