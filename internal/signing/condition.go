package signing

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Variables available to rule conditions.
var conditionVars = []string{"action", "destination", "sender", "request_id", "event_tracking_id"}

// condition is a compiled CEL expression over an exchange's attributes.
type condition struct {
	expr    string
	program cel.Program
}

// compileCondition parses and type-checks expr. An empty expression yields
// a nil condition, which always matches.
func compileCondition(expr string) (*condition, error) {
	if expr == "" {
		return nil, nil
	}

	opts := make([]cel.EnvOption, 0, len(conditionVars))
	for _, v := range conditionVars {
		opts = append(opts, cel.Variable(v, cel.StringType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("cel compile %q: result must be bool, got %v", expr, ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return &condition{expr: expr, program: prog}, nil
}

// match evaluates the condition. Evaluation errors count as no match.
func (c *condition) match(attrs map[string]any) bool {
	if c == nil {
		return true
	}
	out, _, err := c.program.Eval(attrs)
	if err != nil || out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
