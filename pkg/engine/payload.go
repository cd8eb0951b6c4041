package engine

import (
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
)

const (
	QuestionTypeYesNo = "yes_no"

	PrimarySymptomKey       = "primary_symptom"
	SecondarySymptomsKey    = "secondary_symptoms"
	PrimarySymptomPrompt    = "อาการหลัก"
	SecondarySymptomsPrompt = "อาการร่วม (ถ้ามี)"
)

var booleanSchema = Schema{"type": "boolean"}

func stringEnum(values []string) Schema {
	return Schema{"type": "string", "enum": values}
}

func objectSchema(properties map[string]any, required []string) Schema {
	if required == nil {
		required = []string{}
	}
	return Schema{"type": "object", "properties": properties, "required": required}
}

func demographicSchema(f ruleset.DemographicField) Schema {
	switch f.Type {
	case ruleset.FieldDatetime:
		return Schema{"type": "string", "format": "date"}
	case ruleset.FieldEnum:
		return stringEnum(nonNil(f.Values))
	case ruleset.FieldFloat:
		return Schema{"type": "number"}
	case ruleset.FieldFromYAML:
		if f.Values != nil {
			return stringEnum(f.Values)
		}
		return Schema{"type": "string"}
	default:
		return Schema{"type": "string"}
	}
}

func (e *Engine) demographicsStep() *QuestionsStep {
	fields := e.catalog.Demographics()
	questions := make([]QuestionPayload, 0, len(fields))
	properties := make(map[string]any, len(fields))
	var required []string

	for _, f := range fields {
		p := QuestionPayload{
			QID:          f.QID,
			Question:     f.FieldNameTH,
			QuestionType: f.Type,
			AnswerSchema: demographicSchema(f),
			Metadata: map[string]any{
				"key":        f.Key,
				"field_name": f.FieldName,
				"optional":   f.Optional,
			},
		}
		for _, v := range f.Values {
			p.Options = append(p.Options, OptionPayload{ID: v, Label: v})
		}
		if f.ValuesSource != "" {
			p.Metadata["values_source"] = f.ValuesSource
		}
		if !f.Optional {
			required = append(required, f.Key)
		}
		properties[f.Key] = p.AnswerSchema
		questions = append(questions, p)
	}
	return questionsStep(0, questions, objectSchema(properties, required))
}

func (e *Engine) erCriticalStep() *QuestionsStep {
	items := e.catalog.ERCritical()
	questions := make([]QuestionPayload, 0, len(items))
	properties := make(map[string]any, len(items))
	required := make([]string, 0, len(items))
	for _, item := range items {
		questions = append(questions, QuestionPayload{
			QID:          item.QID,
			Question:     item.Text,
			QuestionType: QuestionTypeYesNo,
			AnswerSchema: booleanSchema,
		})
		properties[item.QID] = booleanSchema
		required = append(required, item.QID)
	}
	return questionsStep(1, questions, objectSchema(properties, required))
}

func (e *Engine) symptomStep() *QuestionsStep {
	symptoms := e.catalog.Symptoms()
	options := make([]OptionPayload, 0, len(symptoms))
	ids := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		options = append(options, OptionPayload{ID: s.Name, Label: s.NameTH})
		ids = append(ids, s.Name)
	}

	primary := stringEnum(ids)
	secondary := Schema{"type": "array", "items": stringEnum(ids)}
	questions := []QuestionPayload{
		{
			QID:          PrimarySymptomKey,
			Question:     PrimarySymptomPrompt,
			QuestionType: string(ruleset.KindSingleSelect),
			Options:      options,
			AnswerSchema: primary,
		},
		{
			QID:          SecondarySymptomsKey,
			Question:     SecondarySymptomsPrompt,
			QuestionType: string(ruleset.KindMultiSelect),
			Options:      options,
			Metadata:     map[string]any{"optional": true},
			AnswerSchema: secondary,
		},
	}
	schema := objectSchema(map[string]any{
		PrimarySymptomKey:    primary,
		SecondarySymptomsKey: secondary,
	}, []string{PrimarySymptomKey})
	return questionsStep(2, questions, schema)
}

func (e *Engine) checklistStep(items []ChecklistEntry) *QuestionsStep {
	questions := make([]QuestionPayload, 0, len(items))
	properties := make(map[string]any, len(items))
	required := make([]string, 0, len(items))
	for _, entry := range items {
		questions = append(questions, QuestionPayload{
			QID:          entry.Item.QID,
			Question:     entry.Item.Text,
			QuestionType: QuestionTypeYesNo,
			AnswerSchema: booleanSchema,
			Metadata:     map[string]any{"symptom": entry.Symptom},
		})
		properties[entry.Item.QID] = booleanSchema
		required = append(required, entry.Item.QID)
	}
	return questionsStep(3, questions, objectSchema(properties, required))
}

// questionPayload flattens a user-facing tree question.
func questionPayload(q ruleset.Question) QuestionPayload {
	p := QuestionPayload{
		QID:          q.QID(),
		Question:     q.Prompt(),
		QuestionType: string(q.Kind()),
	}
	switch v := q.(type) {
	case *ruleset.SingleSelect:
		p.Options = actionOptionPayloads(v.Options)
		p.AnswerSchema = stringEnum(ruleset.OptionIDs(v))
	case *ruleset.ImageSingleSelect:
		p.Options = actionOptionPayloads(v.Options)
		p.Image = v.Image
		p.AnswerSchema = stringEnum(ruleset.OptionIDs(v))
	case *ruleset.MultiSelect:
		p.Options = optionPayloads(v.Options)
		p.AnswerSchema = Schema{"type": "array", "items": stringEnum(ruleset.OptionIDs(v))}
	case *ruleset.ImageMultiSelect:
		p.Options = optionPayloads(v.Options)
		p.Image = v.Image
		p.AnswerSchema = Schema{"type": "array", "items": stringEnum(ruleset.OptionIDs(v))}
	case *ruleset.NumberRange:
		p.Constraints = &Constraints{Min: v.Min, Max: v.Max, Step: v.Step, Default: v.Default}
		p.AnswerSchema = Schema{"type": "number", "minimum": v.Min, "maximum": v.Max}
	case *ruleset.FreeTextWithFields:
		properties := make(map[string]any, len(v.Fields))
		required := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			p.Fields = append(p.Fields, FieldPayload{ID: f.ID, Label: f.Label, Kind: f.Kind})
			properties[f.ID] = Schema{"type": "string"}
			required = append(required, f.ID)
		}
		p.AnswerSchema = objectSchema(properties, required)
	case *ruleset.FreeText:
		p.AnswerSchema = Schema{"type": "string"}
	}
	return p
}

func actionOptionPayloads(opts []ruleset.ActionOption) []OptionPayload {
	out := make([]OptionPayload, 0, len(opts))
	for _, o := range opts {
		out = append(out, OptionPayload{ID: o.ID, Label: o.Label})
	}
	return out
}

func optionPayloads(opts []ruleset.Option) []OptionPayload {
	out := make([]OptionPayload, 0, len(opts))
	for _, o := range opts {
		out = append(out, OptionPayload{ID: o.ID, Label: o.Label})
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
