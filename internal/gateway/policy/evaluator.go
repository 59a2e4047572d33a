package policy

import (
	"sort"
	"strings"
	"time"
)

// Evaluate runs the two-pass rule evaluation against the context:
//
//  1. deny rules in ascending priority — first match denies;
//  2. allow rules in ascending priority — first match allows with
//     allowedActions = requested ∩ rule.actions;
//  3. no match — default deny.
//
// The context maps dot-notation field paths to values (credential
// attributes plus runtime context). Missing fields make any condition
// evaluate false.
func Evaluate(p *Policy, context map[string]any, requestedActions []string) Result {
	start := time.Now()

	res := Result{
		Decision:      DecisionDeny,
		PolicyID:      p.ID,
		PolicyVersion: p.Version,
		PolicyHash:    p.Hash,
		EvaluatedAt:   start.UTC(),
	}

	ordered := make([]Rule, len(p.Rules))
	copy(ordered, p.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	finish := func(r Result) Result {
		r.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
		return r
	}

	// First pass: deny rules win outright.
	for _, rule := range ordered {
		if rule.Effect != EffectDeny {
			continue
		}
		if ruleMatches(rule, context, requestedActions) {
			res.MatchedRuleID = rule.ID
			res.Reason = "matched deny rule"
			return finish(res)
		}
	}

	// Second pass: first matching allow rule grants the intersection.
	for _, rule := range ordered {
		if rule.Effect != EffectAllow {
			continue
		}
		if ruleMatches(rule, context, requestedActions) {
			res.Decision = DecisionAllow
			res.MatchedRuleID = rule.ID
			res.AllowedActions = intersectActions(requestedActions, rule.Actions)
			return finish(res)
		}
	}

	res.Reason = "no matching rule"
	return finish(res)
}

// ruleMatches requires a non-empty action intersection and every condition
// to hold.
func ruleMatches(rule Rule, context map[string]any, requested []string) bool {
	if len(intersectActions(requested, rule.Actions)) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !evalCondition(cond, context) {
			return false
		}
	}
	return true
}

func intersectActions(requested, ruleActions []string) []string {
	allowed := make(map[string]bool, len(ruleActions))
	for _, a := range ruleActions {
		allowed[a] = true
	}
	var out []string
	for _, a := range requested {
		if allowed[a] {
			out = append(out, a)
		}
	}
	return out
}

func evalCondition(cond Condition, context map[string]any) bool {
	val, ok := resolveField(context, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEq:
		return valuesEqual(val, cond.Value)
	case OpNeq:
		return !valuesEqual(val, cond.Value)
	case OpIn:
		seq, ok := asSequence(cond.Value)
		if !ok {
			return false
		}
		for _, item := range seq {
			if valuesEqual(val, item) {
				return true
			}
		}
		return false
	case OpGt, OpLt, OpGte, OpLte:
		a, aok := asFloat(val)
		b, bok := asFloat(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		case OpGte:
			return a >= b
		default:
			return a <= b
		}
	case OpContains:
		// substring on strings, element membership on sequences
		if s, ok := val.(string); ok {
			needle, ok := cond.Value.(string)
			return ok && strings.Contains(s, needle)
		}
		if seq, ok := asSequence(val); ok {
			for _, item := range seq {
				if valuesEqual(item, cond.Value) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// resolveField walks a dot-notation path through nested maps.
func resolveField(context map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = context
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares scalars, coercing numeric types so YAML ints and
// JSON floats compare equal.
func valuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
