package services

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

var newValidationCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("value", cel.DynType))
}

var validationProgramCache sync.Map

// compileValidationRule compiles a field's validation attribute. The rule sees
// the candidate value as `value` and must return bool.
func compileValidationRule(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := validationProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newValidationCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("validation rule must return bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	validationProgramCache.Store(expr, program)
	return program, nil
}

func evalValidationRule(expr string, value any) (bool, error) {
	program, err := compileValidationRule(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"value": celValue(value)})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("validation rule must return bool")
	}
	return v, nil
}

// celValue converts decoded JSON numbers into CEL-native int64/float64.
func celValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int:
		return int64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = celValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = celValue(t[i])
		}
		return out
	default:
		return v
	}
}
