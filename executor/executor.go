package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swarmflow/swarmflow/internal/metrics"
	"github.com/swarmflow/swarmflow/types"
)

// Config configures step execution defaults.
type Config struct {
	// DefaultStrategy is the model strategy used when a step names none.
	DefaultStrategy string `yaml:"default_strategy" json:"default_strategy"`
	// DefaultCodeLanguage is assumed when a code step names no language.
	DefaultCodeLanguage string `yaml:"default_code_language" json:"default_code_language"`
	// ModelCallCredits is the fixed credit cost charged per model call.
	ModelCallCredits decimal.Decimal `yaml:"model_call_credits" json:"model_call_credits"`
	// StepTimeout bounds a single step when the request sets no timeout
	// of its own. Zero disables the default bound.
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`
}

// DefaultConfig returns execution defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:     StrategyReasoning,
		DefaultCodeLanguage: "javascript",
		ModelCallCredits:    decimal.NewFromInt(5),
		StepTimeout:         2 * time.Minute,
	}
}

// StepInput is one step to execute. Type may be empty, in which case it
// is inferred from Parameters.
type StepInput struct {
	StepID     string         `json:"stepId"`
	Type       StepType       `json:"type,omitempty"`
	Parameters map[string]any `json:"parameters"`
	Strategy   string         `json:"strategy,omitempty"`
}

// Options carry the per-call execution envelope.
type Options struct {
	Timeout       time.Duration   `json:"timeout,omitempty"`
	UserLanguages []string        `json:"userLanguages,omitempty"`
	ToolCall      ToolCallOptions `json:"toolCall,omitempty"`
}

// Request is one execution request.
type Request struct {
	Input   StepInput      `json:"input"`
	Context map[string]any `json:"context,omitempty"`
	Options Options        `json:"options,omitempty"`
}

// LLMResult is the result payload of a model-call step.
type LLMResult struct {
	Message      string `json:"message"`
	FinishReason string `json:"finishReason"`
	Strategy     string `json:"strategy"`
	Model        string `json:"model"`
}

// Result is the outcome of one step. Execution failures live in Err with
// Success false; Execute itself fails soft.
type Result struct {
	Success       bool                `json:"success"`
	Result        any                 `json:"result,omitempty"`
	Err           *types.Error        `json:"error,omitempty"`
	ResourcesUsed types.ResourceUsage `json:"resourcesUsed"`
	Duration      time.Duration       `json:"duration"`
}

// Guard component names for the external collaborators.
const (
	GuardToolRunner  = "tool_runner"
	GuardCodeSandbox = "code_sandbox"
	GuardHTTPClient  = "http_client"
)

// CollaboratorGuard gates dispatch to one external collaborator and is
// fed the outcome of every call it admits. A circuit breaker satisfies
// this; a nil guard admits everything.
type CollaboratorGuard interface {
	Allow(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
}

// Executor dispatches steps to their strategies.
type Executor struct {
	config     Config
	strategies map[string]ModelStrategy
	tools      ToolRunner
	sandbox    CodeSandbox
	httpClient HTTPClient
	guards     map[string]CollaboratorGuard
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewExecutor creates a step executor. Collaborators may be nil when the
// corresponding step types are not used; dispatching to a nil collaborator
// yields a failed result, not a panic.
func NewExecutor(cfg Config, tools ToolRunner, sandbox CodeSandbox, httpClient HTTPClient, collector *metrics.Collector, logger *zap.Logger) *Executor {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyReasoning
	}
	if cfg.DefaultCodeLanguage == "" {
		cfg.DefaultCodeLanguage = "javascript"
	}
	return &Executor{
		config:     cfg,
		strategies: DefaultStrategies(),
		tools:      tools,
		sandbox:    sandbox,
		httpClient: httpClient,
		guards:     make(map[string]CollaboratorGuard),
		metrics:    collector,
		logger:     logger.With(zap.String("component", "executor")),
	}
}

// RegisterStrategy installs (or replaces) a model strategy by name.
func (e *Executor) RegisterStrategy(s ModelStrategy) {
	e.strategies[s.Name()] = s
}

// SetGuard installs a guard for one collaborator component. Steps that
// dispatch to that collaborator are rejected while the guard refuses
// admission, and every admitted call feeds its outcome back.
func (e *Executor) SetGuard(component string, g CollaboratorGuard) {
	e.guards[component] = g
}

func (e *Executor) guarded(ctx context.Context, component string, run func() Result) Result {
	g := e.guards[component]
	if g == nil {
		return run()
	}
	if ok, err := g.Allow(ctx); !ok {
		msg := "collaborator unavailable"
		if err != nil {
			msg = err.Error()
		}
		e.logger.Warn("step rejected by collaborator guard",
			zap.String("guard", component),
			zap.String("reason", msg),
		)
		return failure(msg)
	}
	res := run()
	if res.Success {
		g.RecordSuccess(ctx)
	} else {
		g.RecordFailure(ctx)
	}
	return res
}

// Execute runs one step and captures its outcome. The returned result is
// always usable: failures set Err and Success=false.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now()

	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = e.config.StepTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stepType := req.Input.Type
	if stepType == "" {
		stepType = InferStepType(req.Input.Parameters)
	}

	var res Result
	switch stepType {
	case StepLLMCall:
		res = e.executeLLMCall(ctx, req)
	case StepToolCall:
		res = e.guarded(ctx, GuardToolRunner, func() Result { return e.executeToolCall(ctx, req) })
	case StepCodeExecution:
		res = e.guarded(ctx, GuardCodeSandbox, func() Result { return e.executeCode(ctx, req) })
	case StepAPICall:
		res = e.guarded(ctx, GuardHTTPClient, func() Result { return e.executeAPICall(ctx, req) })
	default:
		res = failure(fmt.Sprintf("unknown step type: %s", stepType))
	}

	res.Duration = time.Since(start)

	status := "success"
	if !res.Success {
		status = "failure"
		e.logger.Warn("step execution failed",
			zap.String("step_id", req.Input.StepID),
			zap.String("step_type", string(stepType)),
			zap.String("error", res.Err.Message),
		)
	}
	if e.metrics != nil {
		e.metrics.RecordStepExecution(string(stepType), status, res.Duration.Seconds())
	}
	return res
}

func (e *Executor) executeLLMCall(ctx context.Context, req Request) Result {
	messages := buildConversation(req.Input.Parameters)

	name := req.Input.Strategy
	if name == "" {
		if s, ok := req.Input.Parameters["strategy"].(string); ok && s != "" {
			name = s
		} else {
			name = e.config.DefaultStrategy
		}
	}
	strategy, ok := e.strategies[name]
	if !ok {
		return failure(fmt.Sprintf("unknown model strategy: %s", name))
	}

	resp, err := strategy.Respond(ctx, messages)
	if err != nil {
		return failure(err.Error())
	}

	return Result{
		Success: true,
		Result: LLMResult{
			Message:      resp.Message,
			FinishReason: resp.FinishReason,
			Strategy:     name,
			Model:        resp.Model,
		},
		ResourcesUsed: types.ResourceUsage{
			CreditsUsed:   e.config.ModelCallCredits,
			StepsExecuted: 1,
		},
	}
}

// buildConversation assembles the model conversation from, in priority
// order: an explicit messages array, a single prompt string, a nested
// parameters.messages form, and finally a generic turn serializing the
// remaining inputs.
func buildConversation(params map[string]any) []Message {
	if msgs := messagesFrom(params["messages"]); msgs != nil {
		return msgs
	}
	if prompt, ok := params["prompt"].(string); ok && prompt != "" {
		return []Message{{Role: "user", Content: prompt}}
	}
	if nested, ok := params["parameters"].(map[string]any); ok {
		if msgs := messagesFrom(nested["messages"]); msgs != nil {
			return msgs
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "strategy" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	content := ""
	for _, k := range keys {
		content += fmt.Sprintf("%s: %q\n", k, fmt.Sprint(params[k]))
	}
	return []Message{{Role: "user", Content: content}}
}

func messagesFrom(v any) []Message {
	switch t := v.(type) {
	case []Message:
		return t
	case []any:
		msgs := make([]Message, 0, len(t))
		for _, elem := range t {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			msgs = append(msgs, Message{Role: role, Content: content})
		}
		if len(msgs) == 0 {
			return nil
		}
		return msgs
	default:
		return nil
	}
}

func (e *Executor) executeToolCall(ctx context.Context, req Request) Result {
	if e.tools == nil {
		return failure("no tool runner configured")
	}

	toolName, _ := req.Input.Parameters["tool"].(string)
	if toolName == "" {
		toolName, _ = req.Input.Parameters["toolName"].(string)
	}
	if toolName == "" {
		return failure("no tool name provided for tool call")
	}
	args, _ := req.Input.Parameters["arguments"].(map[string]any)

	result, err := e.tools.Run(ctx, toolName, args, req.Options.ToolCall)
	if err != nil {
		return failure(err.Error())
	}
	if !result.OK {
		return failure(result.Error)
	}

	return Result{
		Success: true,
		Result:  result.Data.Output,
		ResourcesUsed: types.ResourceUsage{
			CreditsUsed:   result.Data.CreditsUsed,
			StepsExecuted: 1,
			ToolCalls:     1,
		},
	}
}

func (e *Executor) executeCode(ctx context.Context, req Request) Result {
	if e.sandbox == nil {
		return failure("no code sandbox configured")
	}

	code, _ := req.Input.Parameters["code"].(string)
	if code == "" {
		return failure("no code provided for execution")
	}
	language, _ := req.Input.Parameters["codeLanguage"].(string)
	if language == "" {
		language = e.config.DefaultCodeLanguage
	}
	input, _ := req.Input.Parameters["input"].(map[string]any)

	result, err := e.sandbox.RunUserCode(ctx, CodeRequest{
		Code:         code,
		CodeLanguage: language,
		Input:        input,
	})
	if err != nil {
		return failure(err.Error())
	}
	if result.Type == CodeResultError {
		return failure(result.Error)
	}

	return Result{
		Success: true,
		Result: map[string]any{
			"result": result.Output,
			"type":   CodeResultSuccess,
		},
		ResourcesUsed: types.ResourceUsage{StepsExecuted: 1},
	}
}

func (e *Executor) executeAPICall(ctx context.Context, req Request) Result {
	if e.httpClient == nil {
		return failure("no http client configured")
	}

	routineConfig, _ := req.Input.Parameters["routineConfig"].(map[string]any)
	callDataAPI, _ := routineConfig["callDataApi"].(map[string]any)
	io, ioOK := ioMappingFrom(req.Input.Parameters["ioMapping"])
	if callDataAPI == nil || !ioOK {
		return failure("api call step requires both routineConfig.callDataApi and ioMapping")
	}

	resolver := &Resolver{UserLanguages: req.Options.UserLanguages}
	resolved, err := resolver.Resolve(callDataAPI, io)
	if err != nil {
		return failure(err.Error())
	}
	callDataAPI = resolved.(map[string]any)

	httpReq := HTTPRequest{
		URL:     stringAt(callDataAPI, "endpoint"),
		Method:  stringAt(callDataAPI, "method"),
		Headers: stringMapAt(callDataAPI, "headers"),
	}
	if body, ok := callDataAPI["body"]; ok {
		raw, err := json.Marshal(body)
		if err != nil {
			return failure(fmt.Sprintf("failed to encode request body: %v", err))
		}
		httpReq.Body = raw
	}

	resp, err := e.httpClient.MakeRequest(ctx, httpReq)
	if err != nil {
		return failure(err.Error())
	}

	if outputs, ok := callDataAPI["outputMapping"].(map[string]any); ok {
		extractOutputs(io, outputs, resp)
	}

	return Result{
		Success: true,
		Result: map[string]any{
			"status":  resp.Status,
			"data":    resp.Data,
			"outputs": io.Outputs,
		},
		ResourcesUsed: types.ResourceUsage{StepsExecuted: 1},
	}
}

// extractOutputs pulls each mapped output from the response body/status
// by path and writes it back into the io mapping's output slots.
func extractOutputs(io *IOMapping, mapping map[string]any, resp *HTTPResponse) {
	source := map[string]any{
		"body":   resp.Data,
		"status": resp.Status,
	}
	if io.Outputs == nil {
		io.Outputs = make(map[string]*IOValue)
	}
	for name, pathValue := range mapping {
		path, ok := pathValue.(string)
		if !ok {
			continue
		}
		value, found := GetValueFromPath(source, path)
		if !found {
			continue
		}
		if io.Outputs[name] == nil {
			io.Outputs[name] = &IOValue{}
		}
		io.Outputs[name].Value = value
	}
}

func ioMappingFrom(v any) (*IOMapping, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case *IOMapping:
		return t, true
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		var io IOMapping
		if err := json.Unmarshal(data, &io); err != nil {
			return nil, false
		}
		return &io, true
	default:
		return nil, false
	}
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringMapAt(m map[string]any, key string) map[string]string {
	raw, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func failure(message string) Result {
	return Result{
		Success: false,
		Err:     types.NewExecutionError("execution", message),
	}
}
