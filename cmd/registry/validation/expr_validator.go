package validation

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/lyzr/plugin-registry/cmd/registry/models"
)

// ExprValidator evaluates an operator-configured CEL expression against
// each candidate record. The expression sees the record as a 'plugin'
// map variable and must evaluate to true for the record to pass.
//
// Example rule: plugin.releases.all(r, has(r.url) && r.url.startsWith("https://"))
type ExprValidator struct {
	source  string
	program cel.Program
}

// NewExprValidator compiles a CEL rule. Returns an error when the
// expression does not compile or does not produce a bool.
func NewExprValidator(expression string) (*ExprValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("plugin", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %q: %w", expression, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}

	return &ExprValidator{
		source:  expression,
		program: program,
	}, nil
}

// Validate implements Validator
func (v *ExprValidator) Validate(pluginInfo *models.PluginInfo, errs *Errors) {
	record, err := toMap(pluginInfo)
	if err != nil {
		errs.Reject("plugin.rule.error", "failed to evaluate rule: %v", err)
		return
	}

	out, _, err := v.program.Eval(map[string]any{"plugin": record})
	if err != nil {
		errs.Reject("plugin.rule.error", "rule %q evaluation failed: %v", v.source, err)
		return
	}

	if out != types.True {
		errs.Reject("plugin.rule.failed", "plugin rejected by rule %q", v.source)
	}
}

// toMap converts the record to the generic form CEL operates on
func toMap(pluginInfo *models.PluginInfo) (map[string]any, error) {
	data, err := json.Marshal(pluginInfo)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}
