package ruleset

import (
	"fmt"
	"regexp"
)

type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpLt          Operator = "lt"
	OpLe          Operator = "le"
	OpGt          Operator = "gt"
	OpGe          Operator = "ge"
	OpBetween     Operator = "between"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpContainsAny Operator = "contains_any"
	OpContainsAll Operator = "contains_all"
	OpMatches     Operator = "matches"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpBetween: true, OpContains: true, OpNotContains: true,
	OpContainsAny: true, OpContainsAll: true, OpMatches: true,
}

// Predicate compares a prior answer, optionally a sub-field of it, against
// Value. Build with NewPredicate so matches patterns are compiled once.
type Predicate struct {
	QID   string
	Field string
	Op    Operator
	Value any

	pattern *regexp.Regexp
}

func NewPredicate(qid, field string, op Operator, value any) (Predicate, error) {
	if qid == "" {
		return Predicate{}, fmt.Errorf("predicate: qid is required")
	}
	if !knownOperators[op] {
		return Predicate{}, fmt.Errorf("predicate on %s: unknown operator %q", qid, op)
	}
	p := Predicate{QID: qid, Field: field, Op: op, Value: value}

	switch op {
	case OpMatches:
		re, err := regexp.Compile(fmt.Sprint(value))
		if err != nil {
			return Predicate{}, fmt.Errorf("predicate on %s: bad pattern: %w", qid, err)
		}
		p.pattern = re
	case OpBetween:
		bounds, ok := value.([]any)
		if !ok || len(bounds) != 2 {
			return Predicate{}, fmt.Errorf("predicate on %s: between needs a [min, max] list", qid)
		}
	case OpContainsAny, OpContainsAll:
		if _, ok := value.([]any); !ok {
			return Predicate{}, fmt.Errorf("predicate on %s: %s needs a list value", qid, op)
		}
	}
	return p, nil
}

// Pattern is the compiled expression of a matches predicate.
func (p Predicate) Pattern() *regexp.Regexp {
	return p.pattern
}

// Rule fires Then when every predicate in When holds.
type Rule struct {
	When []Predicate
	Then Action
}
