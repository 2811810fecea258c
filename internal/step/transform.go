package step

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/halcyonix/playbook/internal/vars"
	"github.com/halcyonix/playbook/model"
)

// TransformExecutor applies one of a fixed set of deterministic string/data
// operations to named input variables.
type TransformExecutor struct{}

// NewTransformExecutor creates a TransformExecutor.
func NewTransformExecutor() *TransformExecutor {
	return &TransformExecutor{}
}

// Execute applies def.TransformType to the step's input variables. Unknown
// transform types are rejected at playbook validation time; reaching the
// default branch here means a definition bypassed validation.
func (e *TransformExecutor) Execute(def *model.StepDefinition, snapshot map[string]any) (Outcome, *Error) {
	inputs, err := resolveInputs(def, snapshot)
	if err != nil {
		return Outcome{}, err
	}

	switch def.TransformType {
	case model.TransformUppercase:
		return Outcome{Raw: strings.ToUpper(inputs[0])}, nil

	case model.TransformLowercase:
		return Outcome{Raw: strings.ToLower(inputs[0])}, nil

	case model.TransformConcat:
		sep := def.Separator
		return Outcome{Raw: strings.Join(inputs, sep)}, nil

	case model.TransformRegexReplace:
		re, compileErr := regexp.Compile(def.Pattern)
		if compileErr != nil {
			return Outcome{}, NewError(model.ErrTemplateError, "step %q: invalid pattern: %v", def.ID, compileErr)
		}
		return Outcome{Raw: re.ReplaceAllString(inputs[0], def.Replacement)}, nil

	case model.TransformExtractJSONField:
		raw := inputs[0]
		if !gjson.Valid(raw) {
			return Outcome{}, NewError(model.ErrExtractionError, "step %q: input is not valid JSON", def.ID)
		}
		result := gjson.Get(raw, def.Field)
		if !result.Exists() {
			return Outcome{}, NewError(model.ErrExtractionError, "step %q: field %q not found", def.ID, def.Field)
		}
		return Outcome{Raw: result.String()}, nil

	default:
		return Outcome{}, NewError(model.ErrTemplateError, "step %q: unknown transform type %q", def.ID, def.TransformType)
	}
}

// resolveInputs renders the step's declared input variables from snapshot.
func resolveInputs(def *model.StepDefinition, snapshot map[string]any) ([]string, *Error) {
	if len(def.TransformInputs) == 0 {
		return nil, NewError(model.ErrTemplateError, "step %q declares no transform inputs", def.ID)
	}
	inputs := make([]string, 0, len(def.TransformInputs))
	for _, name := range def.TransformInputs {
		v, ok := snapshot[name]
		if !ok {
			return nil, NewError(model.ErrTemplateError, "step %q: unresolved variable %q", def.ID, name)
		}
		inputs = append(inputs, vars.Stringify(v))
	}
	return inputs, nil
}

// ValidateTransform checks a transform step's static configuration at
// playbook load time.
func ValidateTransform(def *model.StepDefinition) error {
	if len(def.TransformInputs) == 0 {
		return fmt.Errorf("transform step %q declares no inputs", def.ID)
	}
	switch def.TransformType {
	case model.TransformUppercase, model.TransformLowercase, model.TransformConcat:
		return nil
	case model.TransformRegexReplace:
		if def.Pattern == "" {
			return fmt.Errorf("transform step %q requires a pattern", def.ID)
		}
		if _, err := regexp.Compile(def.Pattern); err != nil {
			return fmt.Errorf("transform step %q pattern: %w", def.ID, err)
		}
		return nil
	case model.TransformExtractJSONField:
		if def.Field == "" {
			return fmt.Errorf("transform step %q requires a field", def.ID)
		}
		return nil
	default:
		return fmt.Errorf("transform step %q has unknown type %q", def.ID, def.TransformType)
	}
}
