package step

import (
	"github.com/halcyonix/playbook/internal/template"
	"github.com/halcyonix/playbook/model"
)

// ConditionExecutor evaluates a condition step's boolean expression against
// the variable snapshot. It never calls external services.
type ConditionExecutor struct{}

// NewConditionExecutor creates a ConditionExecutor.
func NewConditionExecutor() *ConditionExecutor {
	return &ConditionExecutor{}
}

// Execute evaluates def.ConditionExpr and returns the branch decision.
// Malformed expressions are TEMPLATE_ERROR; validation compiles them at load
// time so a failure here means an unresolved variable or a type mismatch.
func (e *ConditionExecutor) Execute(def *model.StepDefinition, snapshot map[string]any) (bool, *Error) {
	result, err := template.EvalCondition(def.ConditionExpr, snapshot)
	if err != nil {
		return false, NewError(model.ErrTemplateError, "step %q: %v", def.ID, err)
	}
	return result, nil
}
