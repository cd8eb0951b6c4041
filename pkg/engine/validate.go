package engine

import (
	"fmt"
	"time"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/evaluator"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{apperrors.ErrValidation}, args...)...)
}

// validateDemographics checks every declared field. Keys without a
// declaration (such as age) are accepted as is.
func (e *Engine) validateDemographics(values map[string]any) error {
	diseases := map[string]bool{}
	for _, d := range e.catalog.UnderlyingDiseases() {
		diseases[d.Name] = true
	}
	today := e.clock()

	for _, f := range e.catalog.Demographics() {
		val, present := values[f.Key]
		if !present || val == nil {
			if !f.Optional {
				return invalidf("missing required demographic field %q", f.Key)
			}
			continue
		}

		switch f.Type {
		case ruleset.FieldDatetime:
			raw, ok := val.(string)
			if !ok {
				return invalidf("field %q must be a date string (YYYY-MM-DD), got %T", f.Key, val)
			}
			parsed, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return invalidf("field %q has invalid date %q, expected YYYY-MM-DD", f.Key, raw)
			}
			if parsed.After(today) {
				return invalidf("field %q must not be in the future: %q", f.Key, raw)
			}
		case ruleset.FieldEnum:
			raw, ok := val.(string)
			if !ok || !containsString(f.Values, raw) {
				return invalidf("field %q must be one of %v, got %v", f.Key, f.Values, val)
			}
		case ruleset.FieldFloat:
			if _, isBool := val.(bool); isBool {
				return invalidf("field %q must be a number, got bool", f.Key)
			}
			if _, isString := val.(string); isString {
				return invalidf("field %q must be a number, got string", f.Key)
			}
			n, ok := evaluator.ToFloat(val)
			if !ok {
				return invalidf("field %q must be a number, got %T", f.Key, val)
			}
			if n <= 0 {
				return invalidf("field %q must be positive, got %v", f.Key, n)
			}
		case ruleset.FieldFromYAML:
			names, ok := stringSlice(val)
			if !ok {
				return invalidf("field %q must be a list of strings, got %T", f.Key, val)
			}
			for _, name := range names {
				if !diseases[name] {
					return invalidf("field %q contains unknown value %q", f.Key, name)
				}
			}
		case ruleset.FieldString:
			if _, ok := val.(string); !ok {
				return invalidf("field %q must be a string, got %T", f.Key, val)
			}
		}
	}
	return nil
}

// validateAnswer checks a sequential answer against its question kind.
func validateAnswer(q ruleset.Question, value any) error {
	qid := q.QID()
	switch v := q.(type) {
	case *ruleset.SingleSelect, *ruleset.ImageSingleSelect:
		id, ok := value.(string)
		if !ok {
			return invalidf("answer to %s must be an option id string, got %T", qid, value)
		}
		if !containsString(ruleset.OptionIDs(v), id) {
			return invalidf("answer to %s: unknown option %q", qid, id)
		}
	case *ruleset.MultiSelect, *ruleset.ImageMultiSelect:
		ids, ok := stringSlice(value)
		if !ok {
			return invalidf("answer to %s must be a list of option ids, got %T", qid, value)
		}
		allowed := ruleset.OptionIDs(v)
		for _, id := range ids {
			if !containsString(allowed, id) {
				return invalidf("answer to %s: unknown option %q", qid, id)
			}
		}
	case *ruleset.FreeText:
		if _, ok := value.(string); !ok {
			return invalidf("answer to %s must be a string, got %T", qid, value)
		}
	case *ruleset.FreeTextWithFields:
		fields, ok := value.(map[string]any)
		if !ok {
			return invalidf("answer to %s must be an object of strings, got %T", qid, value)
		}
		known := make(map[string]bool, len(v.Fields))
		for _, f := range v.Fields {
			known[f.ID] = true
		}
		for id, fv := range fields {
			if !known[id] {
				return invalidf("answer to %s: unknown field %q", qid, id)
			}
			if _, ok := fv.(string); !ok {
				return invalidf("answer to %s: field %q must be a string", qid, id)
			}
		}
	case *ruleset.NumberRange:
		if _, isBool := value.(bool); isBool {
			return invalidf("answer to %s must be a number, got bool", qid)
		}
		if _, isString := value.(string); isString {
			return invalidf("answer to %s must be a number, got string", qid)
		}
		n, ok := evaluator.ToFloat(value)
		if !ok {
			return invalidf("answer to %s must be a number, got %T", qid, value)
		}
		if n < v.Min || n > v.Max {
			return invalidf("answer to %s must be within [%v, %v], got %v", qid, v.Min, v.Max, n)
		}
	default:
		return invalidf("%s is not answerable", qid)
	}
	return nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
