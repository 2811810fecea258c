// Package template implements {{var}} interpolation and condition-expression
// evaluation over an execution's variable snapshot. Both operate only on the
// snapshot passed in; they never reach into ambient execution state.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/halcyonix/playbook/internal/vars"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// UnresolvedError reports a placeholder referencing a variable that is not
// present in the snapshot.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved variable %q", e.Name)
}

// Render substitutes every {{name}} placeholder in s with the named value
// from snapshot. The first missing variable aborts with UnresolvedError.
func Render(s string, snapshot map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil // fast path for literals
	}

	var missing *UnresolvedError
	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if missing != nil {
			return match
		}
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := snapshot[name]
		if !ok {
			missing = &UnresolvedError{Name: name}
			return match
		}
		return vars.Stringify(v)
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// Referenced returns the variable names referenced by placeholders in s, in
// order of first appearance.
func Referenced(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// CompileCondition parses a condition expression without evaluating it.
// Playbook validation calls this so malformed expressions fail fast at load
// time rather than mid-execution. The expression language is expr with a
// boolean result requirement; variables resolve against the snapshot at
// evaluation time.
func CompileCondition(exprStr string) (*vm.Program, error) {
	if strings.TrimSpace(exprStr) == "" {
		return nil, fmt.Errorf("empty condition expression")
	}
	program, err := expr.Compile(exprStr, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	return program, nil
}

// EvalCondition compiles and evaluates a condition expression against the
// snapshot. Placeholders of the form {{name}} are rendered before
// compilation so playbooks can mix both reference styles.
func EvalCondition(exprStr string, snapshot map[string]any) (bool, error) {
	rendered, err := Render(exprStr, snapshot)
	if err != nil {
		return false, err
	}

	program, err := CompileCondition(rendered)
	if err != nil {
		return false, err
	}

	output, err := expr.Run(program, snapshot)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", exprStr, output)
	}
	return result, nil
}
