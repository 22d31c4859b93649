// ABOUTME: Declared condition mini-language for router routes and until-condition loops.
// ABOUTME: Evaluates clauses like "elpaLevel < 3 && learningStyle = visual" against run bindings.
package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// conditionOps in match order: two-character operators first so "<=" is not
// read as "<".
var conditionOps = []string{"<=", ">=", "!=", "<", ">", "="}

// EvaluateCondition evaluates a condition expression against the run's
// bindings. Grammar: Clause ('&&' Clause)*; Clause: Key Op Literal;
// Op: = != < <= > >=. Keys resolve against bindings, with dotted paths
// reaching into map-valued outputs (e.g. "quiz.score"). Comparison is numeric
// when both sides parse as numbers, string equality otherwise; ordering
// operators on non-numeric values are false. An empty condition is true.
// This is deliberately an enumerable language, not an expression evaluator:
// route conditions must be declarable and auditable by the authoring side.
func EvaluateCondition(condition string, rc *RunContext) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}
	for _, clause := range strings.Split(trimmed, "&&") {
		if !evaluateClause(strings.TrimSpace(clause), rc) {
			return false
		}
	}
	return true
}

// evaluateClause evaluates a single "key op literal" clause. Malformed
// clauses evaluate to false.
func evaluateClause(clause string, rc *RunContext) bool {
	key, op, literal, ok := splitClause(clause)
	if !ok {
		return false
	}

	resolved, found := resolveBinding(key, rc)
	if !found {
		// a missing key only satisfies inequality against any literal
		return op == "!="
	}

	lhs := fmt.Sprintf("%v", resolved)
	lnum, lerr := strconv.ParseFloat(lhs, 64)
	rnum, rerr := strconv.ParseFloat(literal, 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case "=":
		if numeric {
			return lnum == rnum
		}
		return lhs == literal
	case "!=":
		if numeric {
			return lnum != rnum
		}
		return lhs != literal
	case "<":
		return numeric && lnum < rnum
	case "<=":
		return numeric && lnum <= rnum
	case ">":
		return numeric && lnum > rnum
	case ">=":
		return numeric && lnum >= rnum
	}
	return false
}

// splitClause breaks a clause into key, operator, and literal.
func splitClause(clause string) (key, op, literal string, ok bool) {
	for _, candidate := range conditionOps {
		idx := strings.Index(clause, candidate)
		if idx < 0 {
			continue
		}
		key = strings.TrimSpace(clause[:idx])
		literal = strings.TrimSpace(clause[idx+len(candidate):])
		if key == "" || literal == "" {
			return "", "", "", false
		}
		return key, candidate, literal, true
	}
	return "", "", "", false
}

// resolveBinding looks a key up in the bindings, following dotted paths into
// map-valued node outputs.
func resolveBinding(key string, rc *RunContext) (any, bool) {
	if v, ok := rc.Read(key); ok {
		return v, true
	}

	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return nil, false
	}
	v, ok := rc.Read(parts[0])
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, isMap := v.(map[string]any)
		if !isMap {
			return nil, false
		}
		v, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return v, true
}

// ValidateConditionSyntax checks whether a condition string parses, so route
// declarations can be rejected eagerly rather than at dispatch time.
func ValidateConditionSyntax(condition string) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}
	for _, clause := range strings.Split(trimmed, "&&") {
		if _, _, _, ok := splitClause(strings.TrimSpace(clause)); !ok {
			return false
		}
	}
	return true
}
