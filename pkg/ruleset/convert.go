package ruleset

import (
	"fmt"
)

type rawAction struct {
	Action   string     `yaml:"action"`
	QID      stringList `yaml:"qid"`
	Reason   string     `yaml:"reason"`
	Metadata struct {
		Department []rawRef `yaml:"department"`
		Severity   []rawRef `yaml:"severity"`
	} `yaml:"metadata"`
}

type rawOption struct {
	ID     string     `yaml:"id"`
	Label  string     `yaml:"label"`
	Action *rawAction `yaml:"action"`
}

type rawField struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"`
}

type rawPredicate struct {
	QID   string `yaml:"qid"`
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

type rawRule struct {
	When []rawPredicate `yaml:"when"`
	Then *rawAction     `yaml:"then"`
}

type rawQuestion struct {
	QID          string      `yaml:"qid"`
	Question     string      `yaml:"question"`
	QuestionType string      `yaml:"question_type"`
	Options      []rawOption `yaml:"options"`
	Fields       []rawField  `yaml:"fields"`
	MinValue     *float64    `yaml:"min_value"`
	MaxValue     *float64    `yaml:"max_value"`
	Step         *float64    `yaml:"step"`
	DefaultValue *float64    `yaml:"default_value"`
	Image        string      `yaml:"image"`
	OnSubmit     *rawAction  `yaml:"on_submit"`
	Next         *rawAction  `yaml:"next"`
	Rules        []rawRule   `yaml:"rules"`
	Default      *rawAction  `yaml:"default"`
}

func (c *Catalog) convertAction(raw *rawAction, what string) (Action, error) {
	if raw == nil {
		return nil, fmt.Errorf("%s: action is required", what)
	}
	switch raw.Action {
	case "goto":
		if len(raw.QID) == 0 {
			return nil, fmt.Errorf("%s: goto without targets", what)
		}
		return &Goto{QIDs: append([]string(nil), raw.QID...)}, nil
	case "opd":
		return &OPD{}, nil
	case "terminate":
		t := &Terminate{Reason: raw.Reason}
		for _, d := range raw.Metadata.Department {
			t.Departments = append(t.Departments, d.ID)
		}
		for _, s := range raw.Metadata.Severity {
			t.Severities = append(t.Severities, s.ID)
		}
		if err := c.checkRefs(t.Departments, t.Severities); err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%s: unknown action %q", what, raw.Action)
	}
}

func (c *Catalog) convertActionOptions(raws []rawOption) ([]ActionOption, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("options are required")
	}
	out := make([]ActionOption, 0, len(raws))
	for _, raw := range raws {
		action, err := c.convertAction(raw.Action, "option "+raw.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ActionOption{Option: Option{ID: raw.ID, Label: raw.Label}, Action: action})
	}
	return out, nil
}

func convertOptions(raws []rawOption) ([]Option, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("options are required")
	}
	out := make([]Option, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Option{ID: raw.ID, Label: raw.Label})
	}
	return out, nil
}

func (c *Catalog) convertQuestion(raw rawQuestion) (Question, error) {
	header := Header{ID: raw.QID, Text: raw.Question}

	switch Kind(raw.QuestionType) {
	case KindFreeText:
		action, err := c.convertAction(raw.OnSubmit, "on_submit")
		if err != nil {
			return nil, err
		}
		return &FreeText{Header: header, OnSubmit: action}, nil

	case KindFreeTextWithFields:
		if len(raw.Fields) == 0 {
			return nil, fmt.Errorf("fields are required")
		}
		action, err := c.convertAction(raw.OnSubmit, "on_submit")
		if err != nil {
			return nil, err
		}
		fields := make([]Field, 0, len(raw.Fields))
		for _, f := range raw.Fields {
			fields = append(fields, Field{ID: f.ID, Label: f.Label, Kind: f.Kind})
		}
		return &FreeTextWithFields{Header: header, Fields: fields, OnSubmit: action}, nil

	case KindNumberRange:
		if raw.MinValue == nil || raw.MaxValue == nil {
			return nil, fmt.Errorf("min_value and max_value are required")
		}
		if *raw.MinValue >= *raw.MaxValue {
			return nil, fmt.Errorf("min_value must be < max_value")
		}
		action, err := c.convertAction(raw.OnSubmit, "on_submit")
		if err != nil {
			return nil, err
		}
		q := &NumberRange{Header: header, Min: *raw.MinValue, Max: *raw.MaxValue, Step: defaultNumberStep, Default: *raw.MinValue, OnSubmit: action}
		if raw.Step != nil {
			q.Step = *raw.Step
		}
		if raw.DefaultValue != nil {
			q.Default = *raw.DefaultValue
		}
		return q, nil

	case KindSingleSelect:
		options, err := c.convertActionOptions(raw.Options)
		if err != nil {
			return nil, err
		}
		return &SingleSelect{Header: header, Options: options}, nil

	case KindImageSingleSelect:
		options, err := c.convertActionOptions(raw.Options)
		if err != nil {
			return nil, err
		}
		return &ImageSingleSelect{Header: header, Image: raw.Image, Options: options}, nil

	case KindMultiSelect, KindImageMultiSelect:
		options, err := convertOptions(raw.Options)
		if err != nil {
			return nil, err
		}
		next, err := c.convertAction(raw.Next, "next")
		if err != nil {
			return nil, err
		}
		if Kind(raw.QuestionType) == KindImageMultiSelect {
			return &ImageMultiSelect{Header: header, Image: raw.Image, Options: options, Next: next}, nil
		}
		return &MultiSelect{Header: header, Options: options, Next: next}, nil

	case KindGenderFilter:
		options, err := c.convertActionOptions(raw.Options)
		if err != nil {
			return nil, err
		}
		return &GenderFilter{Header: header, Options: options}, nil

	case KindAgeFilter:
		options, err := c.convertActionOptions(raw.Options)
		if err != nil {
			return nil, err
		}
		return &AgeFilter{Header: header, Options: options}, nil

	case KindConditional:
		q := &Conditional{Header: header}
		for i, rr := range raw.Rules {
			rule := Rule{}
			for _, rp := range rr.When {
				p, err := NewPredicate(rp.QID, rp.Field, Operator(rp.Op), rp.Value)
				if err != nil {
					return nil, fmt.Errorf("rule %d: %w", i, err)
				}
				rule.When = append(rule.When, p)
			}
			then, err := c.convertAction(rr.Then, fmt.Sprintf("rule %d", i))
			if err != nil {
				return nil, err
			}
			rule.Then = then
			q.Rules = append(q.Rules, rule)
		}
		if raw.Default != nil {
			def, err := c.convertAction(raw.Default, "default")
			if err != nil {
				return nil, err
			}
			q.Default = def
		}
		return q, nil

	default:
		return nil, fmt.Errorf("unknown question_type %q", raw.QuestionType)
	}
}
