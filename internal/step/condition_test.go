package step

import (
	"testing"

	"github.com/halcyonix/playbook/model"
)

func TestConditionExecutor_Execute(t *testing.T) {
	exec := NewConditionExecutor()

	tests := []struct {
		name     string
		expr     string
		snapshot map[string]any
		want     bool
		wantErr  bool
	}{
		{
			name:     "numeric comparison true",
			expr:     "score > 5",
			snapshot: map[string]any{"score": 7},
			want:     true,
		},
		{
			name:     "numeric comparison false",
			expr:     "score > 5",
			snapshot: map[string]any{"score": 3},
			want:     false,
		},
		{
			name:     "string equality with placeholder",
			expr:     `"{{verdict}}" == "approved"`,
			snapshot: map[string]any{"verdict": "approved"},
			want:     true,
		},
		{
			name:     "boolean conjunction",
			expr:     "ready && score >= 2",
			snapshot: map[string]any{"ready": true, "score": 2},
			want:     true,
		},
		{
			name:     "non-boolean result",
			expr:     "score + 1",
			snapshot: map[string]any{"score": 1},
			wantErr:  true,
		},
		{
			name:     "malformed expression",
			expr:     "score >",
			snapshot: map[string]any{"score": 1},
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def := &model.StepDefinition{ID: "cond", Type: model.StepTypeCondition, ConditionExpr: tc.expr}
			got, serr := exec.Execute(def, tc.snapshot)
			if tc.wantErr {
				if serr == nil {
					t.Fatal("expected error")
				}
				if serr.Kind != model.ErrTemplateError {
					t.Errorf("Kind = %q, want %q", serr.Kind, model.ErrTemplateError)
				}
				return
			}
			if serr != nil {
				t.Fatalf("Execute error: %v", serr)
			}
			if got != tc.want {
				t.Errorf("result = %v, want %v", got, tc.want)
			}
		})
	}
}
