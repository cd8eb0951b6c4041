// Package evaluator resolves the auto-evaluated question kinds (gender
// filter, age filter, conditional) into an action without user input.
package evaluator

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
)

var (
	ageOptionID    = regexp.MustCompile(`^(lt|lte|le|gt|gte|ge)_(\d+(?:\.\d+)?)$`)
	ageOptionLabel = regexp.MustCompile(`^([<>]=?)\s*(\d+(?:\.\d+)?)$`)
)

type Evaluator struct {
	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Evaluator {
	return &Evaluator{log: log}
}

// Evaluate returns the action an auto-evaluated question resolves to, or nil
// when nothing matches. answers maps qid to raw answer value; demographics
// carries at least gender and, when known, age.
func (e *Evaluator) Evaluate(q ruleset.Question, answers, demographics map[string]any) ruleset.Action {
	switch v := q.(type) {
	case *ruleset.Conditional:
		return e.evalConditional(v, answers)
	case *ruleset.AgeFilter:
		return e.evalAgeFilter(v, demographics["age"])
	case *ruleset.GenderFilter:
		gender, _ := demographics["gender"].(string)
		return e.evalGenderFilter(v, gender)
	default:
		e.log.WithField("qid", q.QID()).Warn("evaluate called with a user-facing question")
		return nil
	}
}

func (e *Evaluator) evalConditional(q *ruleset.Conditional, answers map[string]any) ruleset.Action {
	for _, rule := range q.Rules {
		if e.allHold(rule.When, answers) {
			return rule.Then
		}
	}
	return q.Default
}

func (e *Evaluator) allHold(preds []ruleset.Predicate, answers map[string]any) bool {
	for _, p := range preds {
		if !EvalPredicate(p, answers) {
			return false
		}
	}
	return true
}

// evalAgeFilter picks the first option whose threshold holds. Options are
// read from the id (lt_15, gte_15) and, failing that, the label (<15, >=15).
// When no option holds the last option wins.
func (e *Evaluator) evalAgeFilter(q *ruleset.AgeFilter, rawAge any) ruleset.Action {
	age, ok := toFloat(rawAge)
	if !ok {
		e.log.WithField("qid", q.QID()).Warn("age filter skipped: age is unknown")
		return nil
	}

	for _, opt := range q.Options {
		op, threshold, ok := parseAgeOption(opt.Option)
		if !ok {
			continue
		}
		if compareAge(op, age, threshold) {
			return opt.Action
		}
	}

	if len(q.Options) == 0 {
		return nil
	}
	e.log.WithFields(logrus.Fields{"qid": q.QID(), "age": age}).Warn("age filter matched no option, using last option")
	return q.Options[len(q.Options)-1].Action
}

func parseAgeOption(opt ruleset.Option) (string, float64, bool) {
	if m := ageOptionID.FindStringSubmatch(strings.ToLower(opt.ID)); m != nil {
		threshold, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return "", 0, false
		}
		switch m[1] {
		case "lte":
			return "le", threshold, true
		case "gte":
			return "ge", threshold, true
		default:
			return m[1], threshold, true
		}
	}
	if m := ageOptionLabel.FindStringSubmatch(strings.TrimSpace(opt.Label)); m != nil {
		threshold, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return "", 0, false
		}
		switch m[1] {
		case "<":
			return "lt", threshold, true
		case "<=":
			return "le", threshold, true
		case ">":
			return "gt", threshold, true
		default:
			return "ge", threshold, true
		}
	}
	return "", 0, false
}

func compareAge(op string, age, threshold float64) bool {
	switch op {
	case "lt":
		return age < threshold
	case "le":
		return age <= threshold
	case "gt":
		return age > threshold
	case "ge":
		return age >= threshold
	}
	return false
}

func (e *Evaluator) evalGenderFilter(q *ruleset.GenderFilter, gender string) ruleset.Action {
	gender = strings.ToLower(strings.TrimSpace(gender))
	for _, opt := range q.Options {
		if strings.ToLower(opt.ID) == gender || strings.ToLower(opt.Label) == gender {
			return opt.Action
		}
	}
	e.log.WithFields(logrus.Fields{"qid": q.QID(), "gender": gender}).Warn("gender filter matched no option")
	return nil
}

// EvalPredicate reports whether p holds against answers. A missing answer or
// missing sub-field never holds.
func EvalPredicate(p ruleset.Predicate, answers map[string]any) bool {
	answer, ok := answers[p.QID]
	if !ok || answer == nil {
		return false
	}
	if p.Field != "" {
		fields, ok := asMap(answer)
		if !ok {
			return false
		}
		answer, ok = fields[p.Field]
		if !ok || answer == nil {
			return false
		}
	}
	return compare(p, answer)
}

func compare(p ruleset.Predicate, answer any) bool {
	switch p.Op {
	case ruleset.OpEq:
		return valuesEqual(answer, p.Value)
	case ruleset.OpNe:
		return !valuesEqual(answer, p.Value)

	case ruleset.OpLt, ruleset.OpLe, ruleset.OpGt, ruleset.OpGe:
		a, ok := toFloat(answer)
		if !ok {
			return false
		}
		b, ok := toFloat(p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case ruleset.OpLt:
			return a < b
		case ruleset.OpLe:
			return a <= b
		case ruleset.OpGt:
			return a > b
		default:
			return a >= b
		}

	case ruleset.OpBetween:
		a, ok := toFloat(answer)
		if !ok {
			return false
		}
		bounds, ok := asList(p.Value)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, lok := toFloat(bounds[0])
		hi, hok := toFloat(bounds[1])
		return lok && hok && lo <= a && a <= hi

	case ruleset.OpContains:
		return contains(answer, p.Value)
	case ruleset.OpNotContains:
		return !contains(answer, p.Value)

	case ruleset.OpContainsAny, ruleset.OpContainsAll:
		wanted, ok := asList(p.Value)
		if !ok {
			return false
		}
		all := p.Op == ruleset.OpContainsAll
		for _, w := range wanted {
			hit := contains(answer, w)
			if all && !hit {
				return false
			}
			if !all && hit {
				return true
			}
		}
		return all

	case ruleset.OpMatches:
		re := p.Pattern()
		if re == nil {
			var err error
			if re, err = regexp.Compile(fmt.Sprint(p.Value)); err != nil {
				return false
			}
		}
		return re.MatchString(toText(answer))
	}
	return false
}

// contains is list membership for list answers and substring search otherwise.
func contains(answer, value any) bool {
	if items, ok := asList(answer); ok {
		for _, item := range items {
			if valuesEqual(item, value) {
				return true
			}
		}
		return false
	}
	return strings.Contains(toText(answer), toText(value))
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// toFloat coerces numbers and numeric strings. Booleans are not numbers.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// ToFloat is toFloat for callers outside the package.
func ToFloat(v any) (float64, bool) { return toFloat(v) }

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize folds every numeric type to float64 so values decoded from YAML
// and JSON compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case string, bool, nil:
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case []string:
		items, _ := asList(t)
		return normalize(items)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}
