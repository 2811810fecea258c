package extract

import (
	"errors"
	"testing"

	"github.com/halcyonix/playbook/model"
)

func TestApply_none(t *testing.T) {
	got, err := Apply(nil, "raw output")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if got != "raw output" {
		t.Errorf("Apply(nil) = %v", got)
	}

	got, err = Apply(&model.ExtractionRule{Type: model.ExtractNone}, "raw output")
	if err != nil || got != "raw output" {
		t.Errorf("Apply(none) = %v, %v", got, err)
	}
}

func TestApply_regex(t *testing.T) {
	rule := &model.ExtractionRule{Type: model.ExtractRegex, Pattern: `score: (\d+)`}
	got, err := Apply(rule, "final score: 42 points")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if got != "42" {
		t.Errorf("Apply = %v, want 42", got)
	}
}

func TestApply_regex_noMatch(t *testing.T) {
	rule := &model.ExtractionRule{Type: model.ExtractRegex, Pattern: `score: (\d+)`}
	_, err := Apply(rule, "no numbers here")
	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want *Error", err)
	}
}

func TestApply_regex_noCaptureGroup(t *testing.T) {
	rule := &model.ExtractionRule{Type: model.ExtractRegex, Pattern: `\d+`}
	if _, err := Apply(rule, "42"); err == nil {
		t.Error("expected error for pattern without capture group")
	}
}

func TestApply_jsonPath(t *testing.T) {
	raw := `{"result": {"summary": "brief", "tokens": 12}}`

	rule := &model.ExtractionRule{Type: model.ExtractJSONPath, Path: "result.summary"}
	got, err := Apply(rule, raw)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if got != "brief" {
		t.Errorf("Apply = %v, want brief", got)
	}

	rule = &model.ExtractionRule{Type: model.ExtractJSONPath, Path: "result.tokens"}
	got, err = Apply(rule, raw)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if got != float64(12) {
		t.Errorf("Apply = %v (%T), want 12", got, got)
	}
}

func TestApply_jsonPath_missingPath(t *testing.T) {
	rule := &model.ExtractionRule{Type: model.ExtractJSONPath, Path: "result.absent"}
	if _, err := Apply(rule, `{"result": {}}`); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestApply_jsonPath_invalidJSON(t *testing.T) {
	rule := &model.ExtractionRule{Type: model.ExtractJSONPath, Path: "a"}
	if _, err := Apply(rule, "not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    *model.ExtractionRule
		wantErr bool
	}{
		{"nil rule", nil, false},
		{"none", &model.ExtractionRule{Type: model.ExtractNone}, false},
		{"valid regex", &model.ExtractionRule{Type: model.ExtractRegex, Pattern: `(\d+)`}, false},
		{"bad regex", &model.ExtractionRule{Type: model.ExtractRegex, Pattern: `([`}, true},
		{"regex without pattern", &model.ExtractionRule{Type: model.ExtractRegex}, true},
		{"valid json_path", &model.ExtractionRule{Type: model.ExtractJSONPath, Path: "a.b"}, false},
		{"json_path without path", &model.ExtractionRule{Type: model.ExtractJSONPath}, true},
		{"unknown type", &model.ExtractionRule{Type: "xpath"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
