package executor

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Executor-local collaborator interfaces. The real tool runner, sandbox,
// and HTTP client live outside this module; steps depend only on these
// narrow surfaces.

// ToolCallOptions carry the caller identity a tool invocation runs under.
type ToolCallOptions struct {
	ConversationID string `json:"conversationId,omitempty"`
	SessionUser    string `json:"sessionUser,omitempty"`
	CallerBotID    string `json:"callerBotId,omitempty"`
}

// ToolOutput is the payload of a successful tool invocation.
type ToolOutput struct {
	Output      any             `json:"output"`
	CreditsUsed decimal.Decimal `json:"creditsUsed"`
}

// ToolResult is the tool runner's verdict.
type ToolResult struct {
	OK    bool       `json:"ok"`
	Data  ToolOutput `json:"data,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ToolRunner executes named tools.
type ToolRunner interface {
	Run(ctx context.Context, toolName string, args map[string]any, opts ToolCallOptions) (*ToolResult, error)
}

// CodeRequest is one sandboxed execution.
type CodeRequest struct {
	Code         string         `json:"code"`
	CodeLanguage string         `json:"codeLanguage"`
	Input        map[string]any `json:"input,omitempty"`
}

// Sandbox result type discriminators.
const (
	CodeResultSuccess = "success"
	CodeResultError   = "error"
)

// CodeResult is the sandbox's verdict, discriminated by Type.
type CodeResult struct {
	Type   string `json:"__type"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CodeSandbox runs untrusted user code in isolation.
type CodeSandbox interface {
	RunUserCode(ctx context.Context, req CodeRequest) (*CodeResult, error)
}

// HTTPRequest is one outbound API call.
type HTTPRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// HTTPResponse is the HTTP client's normalized response.
type HTTPResponse struct {
	Success  bool              `json:"success"`
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers,omitempty"`
	Data     any               `json:"data,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// HTTPClient performs outbound API calls. Retry and connection pooling
// are its own concern.
type HTTPClient interface {
	MakeRequest(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
}
