package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeToolRunner struct {
	lastTool string
	lastArgs map[string]any
	lastOpts ToolCallOptions
	result   *ToolResult
	err      error
}

func (f *fakeToolRunner) Run(ctx context.Context, toolName string, args map[string]any, opts ToolCallOptions) (*ToolResult, error) {
	f.lastTool = toolName
	f.lastArgs = args
	f.lastOpts = opts
	return f.result, f.err
}

type fakeSandbox struct {
	lastReq CodeRequest
	result  *CodeResult
	err     error
}

func (f *fakeSandbox) RunUserCode(ctx context.Context, req CodeRequest) (*CodeResult, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeHTTPClient struct {
	lastReq HTTPRequest
	resp    *HTTPResponse
	err     error
}

func (f *fakeHTTPClient) MakeRequest(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func newTestExecutor(tools ToolRunner, sandbox CodeSandbox, client HTTPClient) *Executor {
	return NewExecutor(DefaultConfig(), tools, sandbox, client, nil, zap.NewNop())
}

func TestInferStepType(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
		want   StepType
	}{
		{"messages", map[string]any{"messages": []any{}}, StepLLMCall},
		{"prompt", map[string]any{"prompt": "hi"}, StepLLMCall},
		{"tool", map[string]any{"tool": "x"}, StepToolCall},
		{"toolName", map[string]any{"toolName": "x"}, StepToolCall},
		{"code", map[string]any{"code": "1+1"}, StepCodeExecution},
		{"api", map[string]any{"routineConfig": map[string]any{"callDataApi": map[string]any{}}}, StepAPICall},
		{"empty", map[string]any{}, StepLLMCall},
		{"routineConfig without api", map[string]any{"routineConfig": map[string]any{}}, StepLLMCall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferStepType(tc.params))
		})
	}
}

func TestExecute_ExplicitTypeOverridesInference(t *testing.T) {
	tools := &fakeToolRunner{result: &ToolResult{OK: true, Data: ToolOutput{Output: "out"}}}
	e := newTestExecutor(tools, nil, nil)

	// parameters look like a code step, but the explicit type wins
	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID:     "s1",
			Type:       StepToolCall,
			Parameters: map[string]any{"code": "1+1", "tool": "search"},
		},
	})
	require.True(t, res.Success)
	assert.Equal(t, "search", tools.lastTool)
}

func TestExecute_LLMCallWithPrompt(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID:     "s1",
			Parameters: map[string]any{"prompt": "summarize the report"},
		},
	})
	require.True(t, res.Success)

	llm, ok := res.Result.(LLMResult)
	require.True(t, ok)
	assert.Equal(t, StrategyReasoning, llm.Strategy)
	assert.Contains(t, llm.Message, "summarize the report")
	assert.True(t, res.ResourcesUsed.CreditsUsed.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 1, res.ResourcesUsed.StepsExecuted)
}

func TestExecute_LLMCallStrategySelection(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID:     "s1",
			Strategy:   StrategyDeterministic,
			Parameters: map[string]any{"messages": []any{map[string]any{"role": "user", "content": "ping"}}},
		},
	})
	require.True(t, res.Success)
	assert.Equal(t, StrategyDeterministic, res.Result.(LLMResult).Strategy)

	// identical input, identical deterministic output
	res2 := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID:     "s1",
			Strategy:   StrategyDeterministic,
			Parameters: map[string]any{"messages": []any{map[string]any{"role": "user", "content": "ping"}}},
		},
	})
	assert.Equal(t, res.Result.(LLMResult).Message, res2.Result.(LLMResult).Message)
}

func TestExecute_LLMCallUnknownStrategy(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Strategy: "oracle", Parameters: map[string]any{"prompt": "x"}},
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Message, "unknown model strategy")
}

func TestExecute_ToolCall(t *testing.T) {
	tools := &fakeToolRunner{result: &ToolResult{
		OK:   true,
		Data: ToolOutput{Output: map[string]any{"rows": 3}, CreditsUsed: decimal.NewFromInt(2)},
	}}
	e := newTestExecutor(tools, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID: "s1",
			Parameters: map[string]any{
				"tool":      "query",
				"arguments": map[string]any{"q": "select"},
			},
		},
		Options: Options{ToolCall: ToolCallOptions{ConversationID: "c1", SessionUser: "u1"}},
	})
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"rows": 3}, res.Result)
	assert.Equal(t, "c1", tools.lastOpts.ConversationID)
	assert.Equal(t, 1, res.ResourcesUsed.ToolCalls)
	assert.True(t, res.ResourcesUsed.CreditsUsed.Equal(decimal.NewFromInt(2)))
}

func TestExecute_ToolCallFailure(t *testing.T) {
	tools := &fakeToolRunner{result: &ToolResult{OK: false, Error: "tool exploded"}}
	e := newTestExecutor(tools, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Parameters: map[string]any{"tool": "query"}},
	})
	require.False(t, res.Success)
	assert.Equal(t, "tool exploded", res.Err.Message)
	assert.Equal(t, "StepExecutionError", res.Err.Type)
}

func TestExecute_ToolCallRunnerError(t *testing.T) {
	tools := &fakeToolRunner{err: errors.New("connection refused")}
	e := newTestExecutor(tools, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Parameters: map[string]any{"tool": "query"}},
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Message, "connection refused")
}

func TestExecute_CodeExecution(t *testing.T) {
	sandbox := &fakeSandbox{result: &CodeResult{Type: CodeResultSuccess, Output: 42}}
	e := newTestExecutor(nil, sandbox, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Parameters: map[string]any{"code": "6*7"}},
	})
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"result": 42, "type": "success"}, res.Result)
	assert.Equal(t, "javascript", sandbox.lastReq.CodeLanguage)
}

func TestExecute_CodeExecutionNoCode(t *testing.T) {
	e := newTestExecutor(nil, &fakeSandbox{}, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Type: StepCodeExecution, Parameters: map[string]any{}},
	})
	require.False(t, res.Success)
	assert.Equal(t, "no code provided for execution", res.Err.Message)
}

func TestExecute_CodeExecutionSandboxError(t *testing.T) {
	sandbox := &fakeSandbox{result: &CodeResult{Type: CodeResultError, Error: "ReferenceError: y is not defined"}}
	e := newTestExecutor(nil, sandbox, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Parameters: map[string]any{"code": "y"}},
	})
	require.False(t, res.Success)
	// sandbox error string is surfaced verbatim
	assert.Equal(t, "ReferenceError: y is not defined", res.Err.Message)
}

func TestExecute_APICall(t *testing.T) {
	client := &fakeHTTPClient{resp: &HTTPResponse{
		Success: true,
		Status:  200,
		Data:    map[string]any{"user": map[string]any{"id": "u-9"}},
	}}
	e := newTestExecutor(nil, nil, client)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID: "s1",
			Parameters: map[string]any{
				"routineConfig": map[string]any{
					"callDataApi": map[string]any{
						"endpoint": "https://api.example.com/users/{{input.userId}}",
						"method":   "GET",
						"outputMapping": map[string]any{
							"userId":     "body.user.id",
							"statusCode": "status",
						},
					},
				},
				"ioMapping": map[string]any{
					"inputs": map[string]any{
						"userId": map[string]any{"value": "u-9"},
					},
				},
			},
		},
	})
	require.True(t, res.Success)
	assert.Equal(t, "https://api.example.com/users/u-9", client.lastReq.URL)

	outputs := res.Result.(map[string]any)["outputs"].(map[string]*IOValue)
	assert.Equal(t, "u-9", outputs["userId"].Value)
	assert.Equal(t, 200, outputs["statusCode"].Value)
}

func TestExecute_APICallMissingConfig(t *testing.T) {
	e := newTestExecutor(nil, nil, &fakeHTTPClient{})

	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID: "s1",
			Type:   StepAPICall,
			Parameters: map[string]any{
				"routineConfig": map[string]any{"callDataApi": map[string]any{}},
			},
		},
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Message, "routineConfig.callDataApi")
	assert.Contains(t, res.Err.Message, "ioMapping")
}

func TestExecute_APICallClientError(t *testing.T) {
	client := &fakeHTTPClient{err: errors.New("dial tcp: timeout")}
	e := newTestExecutor(nil, nil, client)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{
			StepID: "s1",
			Parameters: map[string]any{
				"routineConfig": map[string]any{
					"callDataApi": map[string]any{"endpoint": "https://x", "method": "GET"},
				},
				"ioMapping": map[string]any{},
			},
		},
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Message, "dial tcp: timeout")
}

func TestExecute_UnknownType(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)

	res := e.Execute(context.Background(), Request{
		Input: StepInput{StepID: "s1", Type: "teleport", Parameters: map[string]any{}},
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Message, "unknown step type: teleport")
}

type fakeGuard struct {
	allow     bool
	allowErr  error
	successes int
	failures  int
}

func (g *fakeGuard) Allow(ctx context.Context) (bool, error) { return g.allow, g.allowErr }
func (g *fakeGuard) RecordSuccess(ctx context.Context)       { g.successes++ }
func (g *fakeGuard) RecordFailure(ctx context.Context)       { g.failures++ }

func toolCallRequest() Request {
	return Request{
		Input: StepInput{
			StepID: "s1",
			Parameters: map[string]any{
				"tool":      "query",
				"arguments": map[string]any{"q": "select"},
			},
		},
	}
}

func TestExecute_GuardRejectsToolCall(t *testing.T) {
	tools := &fakeToolRunner{result: &ToolResult{OK: true}}
	e := newTestExecutor(tools, nil, nil)
	e.SetGuard(GuardToolRunner, &fakeGuard{allow: false, allowErr: errors.New("circuit open for tool_runner")})

	res := e.Execute(context.Background(), toolCallRequest())
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Message, "circuit open for tool_runner")
	assert.Empty(t, tools.lastTool, "runner must not be invoked while the guard refuses admission")
}

func TestExecute_GuardRecordsOutcomes(t *testing.T) {
	tools := &fakeToolRunner{result: &ToolResult{
		OK:   true,
		Data: ToolOutput{Output: "ok"},
	}}
	guard := &fakeGuard{allow: true}
	e := newTestExecutor(tools, nil, nil)
	e.SetGuard(GuardToolRunner, guard)

	res := e.Execute(context.Background(), toolCallRequest())
	require.True(t, res.Success)
	assert.Equal(t, 1, guard.successes)

	tools.result = &ToolResult{OK: false, Error: "tool exploded"}
	res = e.Execute(context.Background(), toolCallRequest())
	require.False(t, res.Success)
	assert.Equal(t, 1, guard.failures)
}

func TestExecute_NoGuardAdmitsEverything(t *testing.T) {
	tools := &fakeToolRunner{result: &ToolResult{OK: true, Data: ToolOutput{Output: "ok"}}}
	e := newTestExecutor(tools, nil, nil)

	res := e.Execute(context.Background(), toolCallRequest())
	require.True(t, res.Success)
}
