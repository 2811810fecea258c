package model

// StepType identifies the kind of work a step performs. The set is closed;
// the engine dispatches with an exhaustive switch so an unhandled type is a
// programming error, not a runtime surprise.
type StepType string

const (
	StepTypePrompt    StepType = "prompt"
	StepTypeReview    StepType = "review"
	StepTypeCondition StepType = "condition"
	StepTypeTransform StepType = "transform"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypePrompt, StepTypeReview, StepTypeCondition, StepTypeTransform:
		return true
	}
	return false
}

// Error policy actions.
const (
	OnErrorAbort    = "abort"
	OnErrorRetry    = "retry"
	OnErrorFallback = "fallback"
)

// Transform operation names.
const (
	TransformUppercase        = "uppercase"
	TransformLowercase        = "lowercase"
	TransformConcat           = "concat"
	TransformRegexReplace     = "regex_replace"
	TransformExtractJSONField = "extract_json_field"
)

// Extraction rule types.
const (
	ExtractNone     = "none"
	ExtractRegex    = "regex"
	ExtractJSONPath = "json_path"
)

// Input variable types accepted by Start.
const (
	InputTypeText    = "text"
	InputTypeNumber  = "number"
	InputTypeBoolean = "boolean"
)

// Playbook is an immutable, named, ordered workflow template. Updates create
// a new version; a running execution always sees the version it started with.
type Playbook struct {
	ID         string                   `yaml:"id" json:"id"`
	Name       string                   `yaml:"name" json:"name"`
	Version    int                      `yaml:"version" json:"version"`
	OwnerID    string                   `yaml:"owner_id" json:"owner_id"`
	Visibility string                   `yaml:"visibility" json:"visibility"`
	Inputs     map[string]InputVariable `yaml:"inputs" json:"inputs"`
	Steps      []StepDefinition         `yaml:"steps" json:"steps"`

	// Populated by the definition loader.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// InputVariable declares one initial input a caller must (or may) supply
// when starting an execution.
type InputVariable struct {
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Label    string `yaml:"label" json:"label"`
}

// StepDefinition is a single unit of work in a playbook. Only the fields for
// its declared type are meaningful; the definition validator rejects
// playbooks that mix them up.
type StepDefinition struct {
	ID   string   `yaml:"id" json:"id"`
	Type StepType `yaml:"type" json:"type"`
	Name string   `yaml:"name" json:"name"`

	// prompt
	PromptText  string  `yaml:"prompt_text,omitempty" json:"prompt_text,omitempty"`
	PromptID    string  `yaml:"prompt_id,omitempty" json:"prompt_id,omitempty"`
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// review
	ReviewPrompt    string   `yaml:"review_prompt,omitempty" json:"review_prompt,omitempty"`
	ReviewVariables []string `yaml:"review_variables,omitempty" json:"review_variables,omitempty"`

	// condition
	ConditionExpr string `yaml:"condition_expr,omitempty" json:"condition_expr,omitempty"`
	TrueStepID    string `yaml:"true_step_id,omitempty" json:"true_step_id,omitempty"`
	FalseStepID   string `yaml:"false_step_id,omitempty" json:"false_step_id,omitempty"`

	// transform
	TransformType   string   `yaml:"transform_type,omitempty" json:"transform_type,omitempty"`
	TransformInputs []string `yaml:"transform_inputs,omitempty" json:"transform_inputs,omitempty"`
	Pattern         string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement     string   `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Separator       string   `yaml:"separator,omitempty" json:"separator,omitempty"`
	Field           string   `yaml:"field,omitempty" json:"field,omitempty"`

	OutputVariable string          `yaml:"output_variable,omitempty" json:"output_variable,omitempty"`
	Extraction     *ExtractionRule `yaml:"extraction,omitempty" json:"extraction,omitempty"`
	OnError        *ErrorPolicy    `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// ExtractionRule converts a step's raw output into the value stored under
// OutputVariable.
type ExtractionRule struct {
	Type    string `yaml:"type" json:"type"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// ErrorPolicy controls how a step failure is resolved. The zero value means
// abort on first error.
type ErrorPolicy struct {
	Action         string `yaml:"action" json:"action"`
	RetryCount     int    `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	FallbackStepID string `yaml:"fallback_step_id,omitempty" json:"fallback_step_id,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (p *Playbook) Step(stepID string) *StepDefinition {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepIndex returns the position of the step with the given ID, or -1.
func (p *Playbook) StepIndex(stepID string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// NextStepID returns the ID of the step following stepID in declaration
// order, or "" when stepID is the last step.
func (p *Playbook) NextStepID(stepID string) string {
	idx := p.StepIndex(stepID)
	if idx < 0 || idx+1 >= len(p.Steps) {
		return ""
	}
	return p.Steps[idx+1].ID
}

// PromptTemplate is a reusable prompt addressable by ID from prompt steps.
type PromptTemplate struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Text  string `yaml:"text" json:"text"`
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}
