package graphie

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Eval compiles and runs an expr-lang expression against the given context.
// Missing variables evaluate to nil instead of failing compilation, so
// conditions over not-yet-populated steps degrade instead of erroring.
func Eval(expression string, context map[string]any) (any, error) {
	// null as alias for nil keeps JSON-authored expressions working.
	context["null"] = nil

	// defined() distinguishes a missing path from a null value.
	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			path, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects string path argument, got %T", params[0])
			}
			_, exists := context[FormatKey(path)]
			return exists, nil
		},
		new(func(string) bool),
	)

	// NOTE: expr.Env MUST come before AllowUndefinedVariables for it to work
	opts := []expr.Option{
		expr.Env(context),
		expr.AllowUndefinedVariables(),
		definedFn,
	}

	program, err := expr.Compile(FormatExpression(expression), opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, context)
}

// conditionEnv flattens a session's latest outputs into the namespace that
// expression conditions evaluate against. Every level is stored so both leaf
// access (classify_result_category) and presence checks (classify_result !=
// null) work.
func conditionEnv(sess *Session) map[string]any {
	env := map[string]any{
		"session_id": sess.ID,
		"status":     string(sess.Status),
	}
	for stepID := range sess.Memory {
		if latest, ok := sess.LatestOutput(stepID); ok {
			flattenInto(env, FormatKey(stepID), latest)
		}
	}
	return env
}

func flattenInto(env map[string]any, prefix string, value any) {
	env[prefix] = value

	if m, ok := value.(map[string]any); ok {
		for k, v := range m {
			flattenInto(env, prefix+"_"+FormatKey(k), v)
		}
	}
	if arr, ok := value.([]any); ok {
		for i, v := range arr {
			flattenInto(env, fmt.Sprintf("%s_%d", prefix, i), v)
		}
	}
}
