package executor

// StepType is the tagged discriminator for step dispatch.
type StepType string

const (
	StepLLMCall       StepType = "llm_call"
	StepToolCall      StepType = "tool_call"
	StepCodeExecution StepType = "code_execution"
	StepAPICall       StepType = "api_call"
)

// InferStepType guesses a step's type from its parameters when no
// explicit type was given. Precedence: messages/prompt, tool name, code,
// data-API routine config, then llm_call as the default.
func InferStepType(params map[string]any) StepType {
	if _, ok := params["messages"]; ok {
		return StepLLMCall
	}
	if _, ok := params["prompt"]; ok {
		return StepLLMCall
	}
	if _, ok := params["tool"]; ok {
		return StepToolCall
	}
	if _, ok := params["toolName"]; ok {
		return StepToolCall
	}
	if _, ok := params["code"]; ok {
		return StepCodeExecution
	}
	if rc, ok := params["routineConfig"].(map[string]any); ok {
		if _, ok := rc["callDataApi"]; ok {
			return StepAPICall
		}
	}
	return StepLLMCall
}
