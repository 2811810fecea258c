package definition

import (
	"fmt"
	"regexp"

	"github.com/halcyonix/playbook/internal/extract"
	"github.com/halcyonix/playbook/internal/step"
	"github.com/halcyonix/playbook/internal/template"
	"github.com/halcyonix/playbook/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks playbooks structurally and referentially. Condition
// expressions are compiled here so a malformed playbook is rejected at load
// time, never mid-execution.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var variableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validInputTypes = map[string]bool{
	model.InputTypeText:    true,
	model.InputTypeNumber:  true,
	model.InputTypeBoolean: true,
}

// Validate checks all playbooks. prompts is the set of loaded templates used
// to resolve prompt_id references.
func (v *Validator) Validate(playbooks []model.Playbook, prompts []model.PromptTemplate) []VError {
	promptIDs := make(map[string]bool, len(prompts))
	for i, p := range prompts {
		if p.ID == "" {
			return []VError{{Path: fmt.Sprintf("prompts[%d].id", i), Code: "REQUIRED", Message: "id is required"}}
		}
		promptIDs[p.ID] = true
	}

	var errs []VError
	seen := make(map[string]string, len(playbooks))
	for i, pb := range playbooks {
		prefix := fmt.Sprintf("playbooks[%d]", i)
		if pb.ID != "" {
			key := fmt.Sprintf("%s@%d", pb.ID, pb.Version)
			if prev, dup := seen[key]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("playbook %q version %d already defined in %s", pb.ID, pb.Version, prev),
				})
			}
			seen[key] = pb.SourceFile
		}
		errs = append(errs, v.validatePlaybook(prefix, pb, promptIDs)...)
	}
	return errs
}

func (v *Validator) validatePlaybook(prefix string, pb model.Playbook, promptIDs map[string]bool) []VError {
	var errs []VError

	if pb.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if pb.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if pb.Version < 1 {
		errs = append(errs, VError{Path: prefix + ".version", Code: "RANGE", Message: "version must be >= 1"})
	}
	if len(pb.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	for name, in := range pb.Inputs {
		ip := fmt.Sprintf("%s.inputs[%s]", prefix, name)
		if !variableName.MatchString(name) {
			errs = append(errs, VError{Path: ip, Code: "INVALID_NAME", Message: fmt.Sprintf("invalid input name %q", name)})
		}
		if !validInputTypes[in.Type] {
			errs = append(errs, VError{Path: ip + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid input type %q", in.Type)})
		}
	}

	stepIDs := make(map[string]bool, len(pb.Steps))
	for i, s := range pb.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		} else if stepIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate step id %q", s.ID)})
		}
		stepIDs[s.ID] = true
	}

	for i := range pb.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		errs = append(errs, v.validateStep(sp, &pb.Steps[i], stepIDs, promptIDs)...)
	}

	return errs
}

func (v *Validator) validateStep(prefix string, s *model.StepDefinition, stepIDs, promptIDs map[string]bool) []VError {
	var errs []VError

	if s.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "step type is required"})
		return errs
	}
	if !s.Type.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid step type %q", s.Type)})
		return errs
	}

	switch s.Type {
	case model.StepTypePrompt:
		if s.PromptText == "" && s.PromptID == "" {
			errs = append(errs, VError{Path: prefix + ".prompt_text", Code: "REQUIRED", Message: "prompt step requires prompt_text or prompt_id"})
		}
		if s.PromptText != "" && s.PromptID != "" {
			errs = append(errs, VError{Path: prefix + ".prompt_id", Code: "CONFLICT", Message: "prompt_text and prompt_id are mutually exclusive"})
		}
		if s.PromptID != "" && !promptIDs[s.PromptID] {
			errs = append(errs, VError{Path: prefix + ".prompt_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("prompt %q not found", s.PromptID)})
		}
		if s.Temperature < 0 || s.Temperature > 1 {
			errs = append(errs, VError{Path: prefix + ".temperature", Code: "RANGE", Message: "temperature must be 0-1"})
		}
		if s.MaxTokens < 0 {
			errs = append(errs, VError{Path: prefix + ".max_tokens", Code: "RANGE", Message: "max_tokens must be >= 0"})
		}

	case model.StepTypeReview:
		if s.ReviewPrompt == "" {
			errs = append(errs, VError{Path: prefix + ".review_prompt", Code: "REQUIRED", Message: "review step requires review_prompt"})
		}

	case model.StepTypeCondition:
		if s.ConditionExpr == "" {
			errs = append(errs, VError{Path: prefix + ".condition_expr", Code: "REQUIRED", Message: "condition step requires condition_expr"})
		} else if _, err := template.CompileCondition(s.ConditionExpr); err != nil {
			errs = append(errs, VError{Path: prefix + ".condition_expr", Code: "INVALID_EXPR", Message: err.Error()})
		}
		if s.TrueStepID != "" && !stepIDs[s.TrueStepID] {
			errs = append(errs, VError{Path: prefix + ".true_step_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("step %q not found", s.TrueStepID)})
		}
		if s.FalseStepID != "" && !stepIDs[s.FalseStepID] {
			errs = append(errs, VError{Path: prefix + ".false_step_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("step %q not found", s.FalseStepID)})
		}

	case model.StepTypeTransform:
		if err := step.ValidateTransform(s); err != nil {
			errs = append(errs, VError{Path: prefix + ".transform_type", Code: "INVALID_TRANSFORM", Message: err.Error()})
		}
	}

	if s.OutputVariable != "" && !variableName.MatchString(s.OutputVariable) {
		errs = append(errs, VError{Path: prefix + ".output_variable", Code: "INVALID_NAME", Message: fmt.Sprintf("invalid variable name %q", s.OutputVariable)})
	}

	if s.Extraction != nil {
		if s.Type != model.StepTypePrompt {
			errs = append(errs, VError{Path: prefix + ".extraction", Code: "MISPLACED", Message: "extraction applies only to prompt steps"})
		} else if err := extract.ValidateRule(s.Extraction); err != nil {
			errs = append(errs, VError{Path: prefix + ".extraction", Code: "INVALID_RULE", Message: err.Error()})
		}
	}

	if s.OnError != nil {
		errs = append(errs, v.validateErrorPolicy(prefix+".on_error", s.OnError, stepIDs)...)
	}

	return errs
}

func (v *Validator) validateErrorPolicy(prefix string, p *model.ErrorPolicy, stepIDs map[string]bool) []VError {
	var errs []VError

	switch p.Action {
	case model.OnErrorAbort:
		// nothing else to check
	case model.OnErrorRetry:
		if p.RetryCount < 1 {
			errs = append(errs, VError{Path: prefix + ".retry_count", Code: "RANGE", Message: "retry_count must be >= 1"})
		}
		// A retry policy may name a fallback to apply once retries are
		// exhausted; the reference must resolve.
		if p.FallbackStepID != "" && !stepIDs[p.FallbackStepID] {
			errs = append(errs, VError{Path: prefix + ".fallback_step_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("step %q not found", p.FallbackStepID)})
		}
	case model.OnErrorFallback:
		if p.FallbackStepID == "" {
			errs = append(errs, VError{Path: prefix + ".fallback_step_id", Code: "REQUIRED", Message: "fallback action requires fallback_step_id"})
		} else if !stepIDs[p.FallbackStepID] {
			errs = append(errs, VError{Path: prefix + ".fallback_step_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("step %q not found", p.FallbackStepID)})
		}
	default:
		errs = append(errs, VError{Path: prefix + ".action", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid error action %q", p.Action)})
	}

	return errs
}
