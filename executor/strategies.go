package executor

import (
	"context"
	"fmt"
	"strings"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelResponse is a model strategy's answer.
type ModelResponse struct {
	Message      string `json:"message"`
	FinishReason string `json:"finishReason"`
	Model        string `json:"model"`
}

// ModelStrategy is one pluggable inference backend. The built-in
// strategies are stand-ins that echo structured placeholders; production
// deployments register real backends under the same names.
type ModelStrategy interface {
	Name() string
	Respond(ctx context.Context, messages []Message) (*ModelResponse, error)
}

// Built-in strategy names.
const (
	StrategyConversational = "conversational"
	StrategyReasoning      = "reasoning"
	StrategyDeterministic  = "deterministic"
)

// DefaultStrategies returns the three built-in placeholder strategies.
func DefaultStrategies() map[string]ModelStrategy {
	return map[string]ModelStrategy{
		StrategyConversational: &conversationalStrategy{},
		StrategyReasoning:      &reasoningStrategy{},
		StrategyDeterministic:  &deterministicStrategy{},
	}
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

type conversationalStrategy struct{}

func (s *conversationalStrategy) Name() string { return StrategyConversational }

func (s *conversationalStrategy) Respond(ctx context.Context, messages []Message) (*ModelResponse, error) {
	return &ModelResponse{
		Message:      fmt.Sprintf("I understand you said: %s", lastUserContent(messages)),
		FinishReason: "stop",
		Model:        "placeholder",
	}, nil
}

type reasoningStrategy struct{}

func (s *reasoningStrategy) Name() string { return StrategyReasoning }

func (s *reasoningStrategy) Respond(ctx context.Context, messages []Message) (*ModelResponse, error) {
	return &ModelResponse{
		Message:      fmt.Sprintf("Considering the request step by step: %s", lastUserContent(messages)),
		FinishReason: "stop",
		Model:        "placeholder",
	}, nil
}

type deterministicStrategy struct{}

func (s *deterministicStrategy) Name() string { return StrategyDeterministic }

func (s *deterministicStrategy) Respond(ctx context.Context, messages []Message) (*ModelResponse, error) {
	// Deterministic output for the same input, useful in tests and replay.
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(":")
		b.WriteString(m.Content)
		b.WriteString(";")
	}
	return &ModelResponse{
		Message:      b.String(),
		FinishReason: "stop",
		Model:        "placeholder",
	}, nil
}
