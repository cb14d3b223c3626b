package graphie

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// PathEvaluator decides which steps become eligible after a completed step:
// it fetches outgoing NEXT edges, evaluates each edge's conditions against
// current memory, and collects the targets of all active edges. All satisfied
// edges fire (fan-out); de-duplication keeps a doubly-reachable target from
// being scheduled twice.
type PathEvaluator struct {
	store    GraphStore
	resolver *Resolver
	registry *Registry
	l        *slog.Logger
}

func NewPathEvaluator(store GraphStore, resolver *Resolver, registry *Registry, l *slog.Logger) *PathEvaluator {
	return &PathEvaluator{store: store, resolver: resolver, registry: registry, l: l}
}

// NextSteps returns the de-duplicated targets of all active edges leaving the
// completed step. Store failures log and return no targets; the session keeps
// its recorded state and the caller sees a stalled workflow, not a crash.
func (p *PathEvaluator) NextSteps(ctx context.Context, sess *Session, completedStepID string) []string {
	edges, err := p.store.OutgoingEdges(ctx, completedStepID)
	if err != nil {
		p.l.Error("failed to fetch outgoing edges", "step", completedStepID, "error", err)
		return nil
	}

	var targets []string
	for _, edge := range edges {
		if p.edgeActive(ctx, sess, edge) {
			p.l.Info("edge active", "from", edge.From, "to", edge.To, "session", sess.ID)
			targets = append(targets, edge.To)
		} else {
			p.l.Info("edge inactive", "from", edge.From, "to", edge.To, "session", sess.ID)
		}
	}
	return dedupe(targets)
}

// edgeActive evaluates one edge. An edge with no conditions and no legacy
// condition function is unconditional.
func (p *PathEvaluator) edgeActive(ctx context.Context, sess *Session, edge Edge) bool {
	if edge.Function != "" {
		return p.legacyCondition(ctx, sess, edge)
	}
	if len(edge.Conditions) == 0 {
		return true
	}

	var results []bool
	for _, cond := range edge.Conditions {
		if result, counted := p.evalCondition(ctx, sess, cond); counted {
			results = append(results, result)
		}
	}
	if len(results) == 0 {
		return true
	}

	operator := edge.Operator
	if operator == "" {
		operator = OperatorAnd
	}
	switch operator {
	case OperatorAnd:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	default:
		p.l.Warn("unknown edge operator", "operator", operator, "from", edge.From, "to", edge.To)
		return false
	}
}

// evalCondition evaluates one clause. The second return value is false when
// the clause is malformed enough to be skipped entirely (no variable and no
// expression, or no expected value). Evaluation errors are fail-closed.
func (p *PathEvaluator) evalCondition(ctx context.Context, sess *Session, cond Condition) (bool, bool) {
	if cond.Expression != "" {
		result, err := Eval(cond.Expression, conditionEnv(sess))
		if err != nil {
			p.l.Warn("condition expression failed, treating as false", "expression", cond.Expression, "error", err)
			return false, true
		}
		b, ok := result.(bool)
		if !ok {
			p.l.Warn("condition expression is not boolean, treating as false", "expression", cond.Expression, "result_type", fmt.Sprintf("%T", result))
			return false, true
		}
		return b, true
	}

	if cond.Variable == "" || cond.Value == nil {
		return false, false
	}

	resolved := p.resolver.Resolve(ctx, sess.ID, cond.Variable)
	operator := cond.Operator
	if operator == "" {
		operator = "=="
	}
	return compare(resolved, cond.Value, operator), true
}

// legacyCondition dispatches an edge's condition callable like a step
// function and reads its boolean verdict. Any failure is condition == false.
func (p *PathEvaluator) legacyCondition(ctx context.Context, sess *Session, edge Edge) bool {
	input := map[string]any{}
	if edge.Input != "" {
		if err := json.Unmarshal([]byte(edge.Input), &input); err != nil {
			p.l.Warn("legacy condition input is not valid JSON", "from", edge.From, "to", edge.To, "error", err)
			return false
		}
	}
	resolved, _ := p.resolver.Process(ctx, sess.ID, input).(map[string]any)

	fn, err := p.registry.Resolve(edge.Function)
	if err != nil {
		p.l.Warn("legacy condition function not registered", "function", edge.Function)
		return false
	}

	act := &Activation{session: sess, resolver: p.resolver, l: p.l}
	output, err := dispatch(ctx, fn, act, resolved)
	if err != nil {
		p.l.Warn("legacy condition function failed, treating as false", "function", edge.Function, "error", err)
		return false
	}
	if output == nil {
		return false
	}
	if verdict, ok := output["result"]; ok {
		return truthy(verdict)
	}
	// A non-nil output without an explicit result key counts as satisfied.
	return true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return v != nil
	}
}

// compare applies the coercion rule: booleans compare as booleans with the
// expected side parsed case-insensitively, numbers compare as floats, and
// everything else compares as strings.
func compare(resolved, expected any, operator string) bool {
	if b, ok := resolved.(bool); ok {
		return compareBool(b, expected, operator)
	}
	if f, ok := numericValue(resolved); ok {
		if ef, ok := toFloat(expected); ok {
			return compareFloat(f, ef, operator)
		}
		return false
	}
	return compareString(fmt.Sprint(resolved), expected, operator)
}

func compareBool(resolved bool, expected any, operator string) bool {
	var expectedBool bool
	switch e := expected.(type) {
	case bool:
		expectedBool = e
	case string:
		expectedBool = strings.EqualFold(e, "true")
	default:
		return false
	}
	switch operator {
	case "==":
		return resolved == expectedBool
	case "!=":
		return resolved != expectedBool
	default:
		return false
	}
}

func compareFloat(resolved, expected float64, operator string) bool {
	switch operator {
	case "==":
		return resolved == expected
	case "!=":
		return resolved != expected
	case ">":
		return resolved > expected
	case ">=":
		return resolved >= expected
	case "<":
		return resolved < expected
	case "<=":
		return resolved <= expected
	default:
		return false
	}
}

func compareString(resolved string, expected any, operator string) bool {
	switch operator {
	case "in", "not in":
		return compareMembership(resolved, expected, operator)
	}

	expectedStr := fmt.Sprint(expected)
	switch operator {
	case "==":
		return resolved == expectedStr
	case "!=":
		return resolved != expectedStr
	case ">":
		return resolved > expectedStr
	case ">=":
		return resolved >= expectedStr
	case "<":
		return resolved < expectedStr
	case "<=":
		return resolved <= expectedStr
	default:
		return false
	}
}

func compareMembership(resolved string, expected any, operator string) bool {
	found := false
	switch e := expected.(type) {
	case []any:
		for _, item := range e {
			if fmt.Sprint(item) == resolved {
				found = true
				break
			}
		}
	case string:
		found = strings.Contains(e, resolved)
	}
	if operator == "not in" {
		return !found
	}
	return found
}

// numericValue accepts only genuinely numeric resolved values; numeric
// strings stay strings so "007" == "007" is not collapsed to 7 == 7.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64, float32, int, int64, json.Number:
		return toFloat(n)
	default:
		return 0, false
	}
}

// toFloat parses the expected side of a numeric comparison, where string
// literals like "42" are legitimate authored values.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
