package step

import (
	"context"
	"errors"

	"github.com/halcyonix/playbook/internal/template"
	"github.com/halcyonix/playbook/model"
)

const defaultMaxTokens = 1024

// PromptExecutor renders a prompt step's template and calls the LLM provider
// through the injected client, guarded by the budget collaborator.
type PromptExecutor struct {
	client  LLMClient
	prompts PromptStore
	budget  BudgetGuard
}

// NewPromptExecutor creates a PromptExecutor. prompts may be nil when no
// step references a prompt by ID.
func NewPromptExecutor(client LLMClient, prompts PromptStore, budget BudgetGuard) *PromptExecutor {
	return &PromptExecutor{client: client, prompts: prompts, budget: budget}
}

// Execute runs one prompt step attempt against snapshot for the given user.
func (e *PromptExecutor) Execute(ctx context.Context, def *model.StepDefinition, snapshot map[string]any, userID string) (Outcome, *Error) {
	text := def.PromptText
	modelName := def.Model

	if text == "" && def.PromptID != "" {
		if e.prompts == nil {
			return Outcome{}, NewError(model.ErrTemplateError, "step %q references prompt %q but no prompt store is configured", def.ID, def.PromptID)
		}
		tmpl, err := e.prompts.GetPrompt(def.PromptID)
		if err != nil {
			return Outcome{}, NewError(model.ErrTemplateError, "prompt %q: %v", def.PromptID, err)
		}
		text = tmpl.Text
		if modelName == "" {
			modelName = tmpl.Model
		}
	}
	if text == "" {
		return Outcome{}, NewError(model.ErrTemplateError, "step %q has no prompt text", def.ID)
	}

	rendered, err := template.Render(text, snapshot)
	if err != nil {
		return Outcome{}, NewError(model.ErrTemplateError, "step %q: %v", def.ID, err)
	}

	maxTokens := def.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if e.budget != nil {
		release, err := e.budget.CheckAndReserve(ctx, userID, estimateTokens(rendered)+maxTokens)
		if err != nil {
			return Outcome{}, NewError(model.ErrBudgetExceeded, "step %q: %v", def.ID, err)
		}
		defer release()
	}

	result, err := e.client.Execute(ctx, modelName, rendered, Params{
		Temperature: def.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return Outcome{}, se
		}
		return Outcome{}, NewError(model.ErrProviderError, "step %q: %v", def.ID, err)
	}

	if e.budget != nil {
		e.budget.Record(ctx, userID, result.Usage)
	}

	return Outcome{Raw: result.Text, Usage: result.Usage}, nil
}

// estimateTokens is a coarse pre-call estimate used only for budget
// reservation. Four bytes per token tracks English prose closely enough.
func estimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}
