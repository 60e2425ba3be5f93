package execctx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnhance_WrapsPlainVariableBag(t *testing.T) {
	ctx := Enhance(map[string]any{"userId": "u-1", "count": 3})

	assert.Equal(t, "u-1", ctx.Variables["userId"])
	assert.Equal(t, 3, ctx.Variables["count"])
	assert.NotNil(t, ctx.Events.Active)
	assert.NotNil(t, ctx.External.MessageEvents)
	assert.Empty(t, ctx.Events.Fired)
}

func TestEnhance_DecodesEnhancedShape(t *testing.T) {
	base := CreateEmpty()
	base.Variables["k"] = "v"
	base = FireEvent(base, EventInstance{ID: "f-1", EventID: "e-1", Type: "message", FiredAt: time.Now().UTC()})

	// force through the raw-map form, as the cache would hand it back
	data, err := json.Marshal(base)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.True(t, IsEnhanced(raw))

	got := Enhance(raw)
	assert.Equal(t, "v", got.Variables["k"])
	require.Len(t, got.Events.Fired, 1)
	assert.Equal(t, "f-1", got.Events.Fired[0].ID)
	assert.NotNil(t, got.ParallelExecution.ActiveBranches)
}

func TestEnhance_AlreadyEnhancedIsStable(t *testing.T) {
	base := CreateEmpty()
	base.Variables["x"] = "y"

	data, _ := json.Marshal(base)
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	once := Enhance(raw)
	data2, _ := json.Marshal(once)
	var raw2 map[string]any
	_ = json.Unmarshal(data2, &raw2)
	twice := Enhance(raw2)

	assert.Equal(t, once, twice)
}

func TestIsEnhanced(t *testing.T) {
	assert.False(t, IsEnhanced(nil))
	assert.False(t, IsEnhanced(map[string]any{"variables": map[string]any{}}))

	full := map[string]any{
		"variables": map[string]any{}, "events": map[string]any{},
		"parallelExecution": map[string]any{}, "subprocesses": map[string]any{},
		"external": map[string]any{}, "gateways": map[string]any{},
	}
	assert.True(t, IsEnhanced(full))
}

func TestSimplify(t *testing.T) {
	ctx := CreateEmpty()
	ctx.Variables["a"] = 1

	assert.Equal(t, map[string]any{"a": 1}, Simplify(ctx))
	assert.Equal(t, map[string]any{}, Simplify(nil))
}

func TestMerge_VariablesOverwrite(t *testing.T) {
	base := Enhance(map[string]any{"userId": "old", "stepCount": 9, "keep": true})
	updates := Enhance(map[string]any{"userId": "u", "stepCount": 10, "newVar": "v"})

	out := Merge(base, updates)

	assert.Equal(t, "u", out.Variables["userId"])
	assert.Equal(t, 10, out.Variables["stepCount"])
	assert.Equal(t, "v", out.Variables["newVar"])
	assert.Equal(t, true, out.Variables["keep"])
}

func TestMerge_AppendsFiredEvents(t *testing.T) {
	base := CreateEmpty()
	base = FireEvent(base, EventInstance{ID: "f-1", FiredAt: time.Now()})
	base = FireEvent(base, EventInstance{ID: "f-2", FiredAt: time.Now()})

	updates := CreateEmpty()
	updates = FireEvent(updates, EventInstance{ID: "f-3", FiredAt: time.Now()})

	out := Merge(base, updates)

	require.Len(t, out.Events.Fired, 3)
	assert.Equal(t, "f-1", out.Events.Fired[0].ID)
	assert.Equal(t, "f-3", out.Events.Fired[2].ID)
}

func TestMerge_ReplacesActiveEvents(t *testing.T) {
	base := CreateEmpty()
	base = AddBoundaryEvent(base, BoundaryEvent{ID: "old", Type: "timer"})

	updates := CreateEmpty()
	updates = AddBoundaryEvent(updates, BoundaryEvent{ID: "new", Type: "message"})

	out := Merge(base, updates)

	require.Len(t, out.Events.Active, 1)
	assert.Equal(t, "new", out.Events.Active[0].ID)
}

func TestMerge_NilCollectionLeavesBase(t *testing.T) {
	base := CreateEmpty()
	base = AddBoundaryEvent(base, BoundaryEvent{ID: "keep"})

	updates := &Enhanced{Variables: map[string]any{"v": 1}} // all collections nil

	out := Merge(base, updates)

	require.Len(t, out.Events.Active, 1)
	assert.Equal(t, "keep", out.Events.Active[0].ID)
	assert.Equal(t, 1, out.Variables["v"])
}

func TestMerge_AppendsExternalEvents(t *testing.T) {
	base := CreateEmpty()
	base.External.MessageEvents = append(base.External.MessageEvents,
		ExternalEvent{ID: "m-1", Type: "message", ReceivedAt: time.Now()})

	updates := CreateEmpty()
	updates.External.MessageEvents = append(updates.External.MessageEvents,
		ExternalEvent{ID: "m-2", Type: "message", ReceivedAt: time.Now()})

	out := Merge(base, updates)

	require.Len(t, out.External.MessageEvents, 2)
	assert.Equal(t, "m-1", out.External.MessageEvents[0].ID)
	assert.Equal(t, "m-2", out.External.MessageEvents[1].ID)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := CreateEmpty()
	base = FireEvent(base, EventInstance{ID: "f-1"})
	updates := CreateEmpty()
	updates = FireEvent(updates, EventInstance{ID: "f-2"})

	_ = Merge(base, updates)

	assert.Len(t, base.Events.Fired, 1)
	assert.Len(t, updates.Events.Fired, 1)
}

func TestMerge_NilBase(t *testing.T) {
	out := Merge(nil, Enhance(map[string]any{"a": 1}))
	assert.Equal(t, 1, out.Variables["a"])
}

func rawContext(t *testing.T) map[string]any {
	t.Helper()
	data, err := json.Marshal(CreateEmpty())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestValidate(t *testing.T) {
	assert.False(t, Validate(nil))
	assert.False(t, Validate("not an object"))
	assert.False(t, Validate(map[string]any{}))

	raw := rawContext(t)
	assert.True(t, Validate(raw))

	missing := rawContext(t)
	delete(missing, "gateways")
	assert.False(t, Validate(missing))

	badArray := rawContext(t)
	badArray["events"].(map[string]any)["active"] = "nope"
	assert.False(t, Validate(badArray))

	badElement := rawContext(t)
	badElement["events"].(map[string]any)["active"] = []any{
		map[string]any{"id": "e-1", "type": "timer"}, // missing attachedToRef etc.
	}
	assert.False(t, Validate(badElement))

	goodElement := rawContext(t)
	goodElement["events"].(map[string]any)["active"] = []any{
		map[string]any{
			"id": "e-1", "type": "timer", "attachedToRef": "step-1",
			"interrupting": true, "activatedAt": "2026-01-01T00:00:00Z",
			"config": map[string]any{},
		},
	}
	assert.True(t, Validate(goodElement))

	badBranch := rawContext(t)
	badBranch["parallelExecution"].(map[string]any)["activeBranches"] = []any{
		map[string]any{"id": "b-1", "branchId": "br-1"},
	}
	assert.False(t, Validate(badBranch))
}

func TestPrune_Timers(t *testing.T) {
	now := time.Now()
	ctx := CreateEmpty()
	ctx = AddTimerEvent(ctx, TimerEvent{ID: "expired", ExpiresAt: now.Add(-2 * time.Hour)})
	ctx = AddTimerEvent(ctx, TimerEvent{ID: "pending", ExpiresAt: now.Add(2 * time.Hour)})

	out := Prune(ctx, now)

	require.Len(t, out.Events.Timers, 1)
	assert.Equal(t, "pending", out.Events.Timers[0].ID)
}

func TestPrune_FiredEventHistory(t *testing.T) {
	now := time.Now()
	ctx := CreateEmpty()
	ctx = FireEvent(ctx, EventInstance{ID: "old", FiredAt: now.Add(-2 * time.Hour)})
	ctx = FireEvent(ctx, EventInstance{ID: "recent", FiredAt: now.Add(-10 * time.Minute)})

	out := Prune(ctx, now)

	require.Len(t, out.Events.Fired, 1)
	assert.Equal(t, "recent", out.Events.Fired[0].ID)
}

func TestPrune_Branches(t *testing.T) {
	now := time.Now()
	ctx := CreateEmpty()
	ctx = AddParallelBranch(ctx, ParallelBranch{ID: "p-1", BranchID: "running", Status: BranchRunning})
	ctx = AddParallelBranch(ctx, ParallelBranch{ID: "p-2", BranchID: "done", Status: BranchCompleted})
	ctx = AddParallelBranch(ctx, ParallelBranch{ID: "p-3", BranchID: "failed", Status: BranchFailed})

	out := Prune(ctx, now)

	require.Len(t, out.ParallelExecution.ActiveBranches, 1)
	assert.Equal(t, "running", out.ParallelExecution.ActiveBranches[0].BranchID)
}

func TestPrune_EventSubprocesses(t *testing.T) {
	now := time.Now()
	ctx := CreateEmpty()
	ctx.Subprocesses.EventSubprocesses = []EventSubprocess{
		{ID: "s-1", Status: "running"},
		{ID: "s-2", Status: "completed"},
	}

	out := Prune(ctx, now)

	require.Len(t, out.Subprocesses.EventSubprocesses, 1)
	assert.Equal(t, "s-1", out.Subprocesses.EventSubprocesses[0].ID)
}

func TestPrune_ExternalHistory(t *testing.T) {
	now := time.Now()
	ctx := CreateEmpty()
	ctx.External.WebhookEvents = []ExternalEvent{
		{ID: "old", ReceivedAt: now.Add(-90 * time.Minute)},
		{ID: "new", ReceivedAt: now.Add(-5 * time.Minute)},
	}
	ctx.External.MessageEvents = []ExternalEvent{
		{ID: "msg-old", ReceivedAt: now.Add(-90 * time.Minute)},
	}

	out := Prune(ctx, now)

	require.Len(t, out.External.WebhookEvents, 1)
	assert.Equal(t, "new", out.External.WebhookEvents[0].ID)
	// message events are conversational history, not pruned by age
	assert.Len(t, out.External.MessageEvents, 1)
}

func TestPrune_Nil(t *testing.T) {
	out := Prune(nil, time.Now())
	assert.NotNil(t, out)
	assert.NotNil(t, out.Events.Timers)
}

func TestCompleteParallelBranch(t *testing.T) {
	ctx := CreateEmpty()
	ctx = AddParallelBranch(ctx, ParallelBranch{ID: "p-1", BranchID: "b-1", Status: BranchRunning})

	out := CompleteParallelBranch(ctx, "b-1", map[string]any{"answer": 42})

	require.Len(t, out.ParallelExecution.ActiveBranches, 1)
	b := out.ParallelExecution.ActiveBranches[0]
	assert.Equal(t, BranchCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
	assert.Equal(t, map[string]any{"answer": 42}, b.Result)
	assert.Equal(t, []string{"b-1"}, out.ParallelExecution.CompletedBranches)

	// original untouched
	assert.Equal(t, BranchRunning, ctx.ParallelExecution.ActiveBranches[0].Status)
}

func TestSubprocessStack(t *testing.T) {
	ctx := CreateEmpty()
	ctx = EnterSubprocess(ctx, SubprocessContext{ID: "f-1", SubprocessID: "sub-a"})
	ctx = EnterSubprocess(ctx, SubprocessContext{ID: "f-2", SubprocessID: "sub-b"})
	require.Len(t, ctx.Subprocesses.Stack, 2)

	ctx = ExitSubprocess(ctx)
	require.Len(t, ctx.Subprocesses.Stack, 1)
	assert.Equal(t, "sub-a", ctx.Subprocesses.Stack[0].SubprocessID)

	ctx = ExitSubprocess(ctx)
	require.Empty(t, ctx.Subprocesses.Stack)

	// popping an empty stack is a no-op
	same := ExitSubprocess(ctx)
	assert.Empty(t, same.Subprocesses.Stack)
}

func TestAddVariable(t *testing.T) {
	base := CreateEmpty()
	out := AddVariable(base, "k", "v")

	assert.Equal(t, "v", out.Variables["k"])
	assert.NotContains(t, base.Variables, "k")
}
