package step

import (
	"testing"

	"github.com/halcyonix/playbook/model"
)

func TestTransformExecutor_Execute(t *testing.T) {
	exec := NewTransformExecutor()

	tests := []struct {
		name     string
		def      model.StepDefinition
		snapshot map[string]any
		want     string
		wantKind string
	}{
		{
			name: "uppercase",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformUppercase,
				TransformInputs: []string{"text"},
			},
			snapshot: map[string]any{"text": "hello"},
			want:     "HELLO",
		},
		{
			name: "lowercase",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformLowercase,
				TransformInputs: []string{"text"},
			},
			snapshot: map[string]any{"text": "HeLLo"},
			want:     "hello",
		},
		{
			name: "concat with separator",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformConcat,
				TransformInputs: []string{"a", "b", "c"}, Separator: ", ",
			},
			snapshot: map[string]any{"a": "one", "b": "two", "c": "three"},
			want:     "one, two, three",
		},
		{
			name: "concat stringifies numbers",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformConcat,
				TransformInputs: []string{"a", "b"}, Separator: "-",
			},
			snapshot: map[string]any{"a": 1, "b": 2},
			want:     "1-2",
		},
		{
			name: "regex replace",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformRegexReplace,
				TransformInputs: []string{"text"}, Pattern: `\s+`, Replacement: " ",
			},
			snapshot: map[string]any{"text": "a  b\t c"},
			want:     "a b c",
		},
		{
			name: "extract json field",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformExtractJSONField,
				TransformInputs: []string{"doc"}, Field: "result.score",
			},
			snapshot: map[string]any{"doc": `{"result":{"score":42}}`},
			want:     "42",
		},
		{
			name: "extract json field invalid json",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformExtractJSONField,
				TransformInputs: []string{"doc"}, Field: "x",
			},
			snapshot: map[string]any{"doc": "not json"},
			wantKind: model.ErrExtractionError,
		},
		{
			name: "extract json field missing path",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformExtractJSONField,
				TransformInputs: []string{"doc"}, Field: "absent",
			},
			snapshot: map[string]any{"doc": `{"x":1}`},
			wantKind: model.ErrExtractionError,
		},
		{
			name: "unresolved input variable",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformUppercase,
				TransformInputs: []string{"missing"},
			},
			snapshot: map[string]any{},
			wantKind: model.ErrTemplateError,
		},
		{
			name: "no inputs declared",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformUppercase,
			},
			snapshot: map[string]any{},
			wantKind: model.ErrTemplateError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcome, serr := exec.Execute(&tc.def, tc.snapshot)
			if tc.wantKind != "" {
				if serr == nil {
					t.Fatal("expected error")
				}
				if serr.Kind != tc.wantKind {
					t.Errorf("Kind = %q, want %q", serr.Kind, tc.wantKind)
				}
				return
			}
			if serr != nil {
				t.Fatalf("Execute error: %v", serr)
			}
			if outcome.Raw != tc.want {
				t.Errorf("Raw = %q, want %q", outcome.Raw, tc.want)
			}
		})
	}
}

func TestValidateTransform(t *testing.T) {
	tests := []struct {
		name    string
		def     model.StepDefinition
		wantErr bool
	}{
		{
			name: "valid uppercase",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformUppercase,
				TransformInputs: []string{"a"},
			},
		},
		{
			name: "regex replace without pattern",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformRegexReplace,
				TransformInputs: []string{"a"},
			},
			wantErr: true,
		},
		{
			name: "regex replace bad pattern",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformRegexReplace,
				TransformInputs: []string{"a"}, Pattern: "(",
			},
			wantErr: true,
		},
		{
			name: "extract without field",
			def: model.StepDefinition{
				ID: "t1", TransformType: model.TransformExtractJSONField,
				TransformInputs: []string{"a"},
			},
			wantErr: true,
		},
		{
			name: "unknown type",
			def: model.StepDefinition{
				ID: "t1", TransformType: "rot13",
				TransformInputs: []string{"a"},
			},
			wantErr: true,
		},
		{
			name:    "no inputs",
			def:     model.StepDefinition{ID: "t1", TransformType: model.TransformConcat},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTransform(&tc.def)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateTransform() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
