// Package step implements the per-type step executors. Each executor is a
// pure function of the step configuration and a variable snapshot, plus
// explicitly injected collaborators; none of them touches execution state.
package step

import (
	"context"
	"fmt"

	"github.com/halcyonix/playbook/model"
)

// Error is a step-level failure with a taxonomy kind. The engine resolves it
// through the step's error policy; it never escapes to the caller.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a step Error.
func NewError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Outcome is the result of executing one step attempt.
type Outcome struct {
	Raw   string
	Usage TokenUsage
}

// TokenUsage reports provider token consumption for one LLM call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Params are the provider parameters for one LLM call.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// LLMResult is the successful response from an LLM provider.
type LLMResult struct {
	Text  string
	Usage TokenUsage
}

// LLMClient executes a rendered prompt against an LLM provider. Retries and
// rate limiting happen behind this interface, not in the engine.
type LLMClient interface {
	Execute(ctx context.Context, modelName, prompt string, params Params) (LLMResult, error)
}

// BudgetGuard is consulted before every LLM call and notified of actual
// usage afterwards. A denial is a BUDGET_EXCEEDED step error: never retried,
// only a configured fallback can rescue the execution.
type BudgetGuard interface {
	// CheckAndReserve admits the call and holds estimatedTokens against the
	// user's ceiling until release is invoked, so concurrent calls cannot
	// jointly overrun it. Callers must invoke release exactly when the call
	// settles; actual usage lands separately via Record.
	CheckAndReserve(ctx context.Context, userID string, estimatedTokens int) (release func(), err error)
	Record(ctx context.Context, userID string, usage TokenUsage)
}

// PromptStore resolves reusable prompt templates referenced by ID from
// prompt steps. Read-only.
type PromptStore interface {
	GetPrompt(id string) (model.PromptTemplate, error)
}
