// Package extract applies output extraction rules to a step's raw result,
// producing the value stored in the execution's variable store.
package extract

import (
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/halcyonix/playbook/model"
)

// Error reports a failed extraction. It flows through the owning step's
// error policy like any other step failure.
type Error struct {
	Rule    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction (%s): %s", e.Rule, e.Message)
}

// Apply runs rule against raw and returns the value to store. A nil rule or
// type "none" stores the raw text unchanged.
func Apply(rule *model.ExtractionRule, raw string) (any, error) {
	if rule == nil || rule.Type == "" || rule.Type == model.ExtractNone {
		return raw, nil
	}

	switch rule.Type {
	case model.ExtractRegex:
		return applyRegex(rule.Pattern, raw)
	case model.ExtractJSONPath:
		return applyJSONPath(rule.Path, raw)
	default:
		return nil, &Error{Rule: rule.Type, Message: fmt.Sprintf("unknown extraction type %q", rule.Type)}
	}
}

// ValidateRule checks a rule's static configuration. Called at playbook load
// time so bad patterns never reach dispatch.
func ValidateRule(rule *model.ExtractionRule) error {
	if rule == nil || rule.Type == "" || rule.Type == model.ExtractNone {
		return nil
	}
	switch rule.Type {
	case model.ExtractRegex:
		if rule.Pattern == "" {
			return fmt.Errorf("regex extraction requires a pattern")
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("regex extraction pattern: %w", err)
		}
	case model.ExtractJSONPath:
		if rule.Path == "" {
			return fmt.Errorf("json_path extraction requires a path")
		}
	default:
		return fmt.Errorf("unknown extraction type %q", rule.Type)
	}
	return nil
}

// applyRegex returns the first capture group of the first match.
func applyRegex(pattern, raw string) (any, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &Error{Rule: model.ExtractRegex, Message: fmt.Sprintf("invalid pattern: %v", err)}
	}
	if re.NumSubexp() < 1 {
		return nil, &Error{Rule: model.ExtractRegex, Message: "pattern has no capture group"}
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return nil, &Error{Rule: model.ExtractRegex, Message: fmt.Sprintf("pattern %q matched nothing", pattern)}
	}
	return m[1], nil
}

// applyJSONPath navigates a dotted path into a parsed JSON payload.
func applyJSONPath(path, raw string) (any, error) {
	if !gjson.Valid(raw) {
		return nil, &Error{Rule: model.ExtractJSONPath, Message: "output is not valid JSON"}
	}
	result := gjson.Get(raw, path)
	if !result.Exists() {
		return nil, &Error{Rule: model.ExtractJSONPath, Message: fmt.Sprintf("path %q not found", path)}
	}
	return result.Value(), nil
}
