package dlp

import (
	"regexp"
	"sort"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Finding is one matched span in a text.
type Finding struct {
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Detector masks personal identifiers before text leaves the service.
// A nil Detector passes text through unchanged.
type Detector struct {
	rules []compiledRule
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// Detect lists every match in text ordered by position.
func (d *Detector) Detect(text string) []Finding {
	if d == nil {
		return nil
	}
	var findings []Finding
	for _, rule := range d.rules {
		for _, m := range rule.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{Type: rule.rule.Type, Start: m[0], End: m[1]})
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return findings
}

// Redact replaces matches with each rule's mask, rules applied in order.
func (d *Detector) Redact(text string) string {
	if d == nil {
		return text
	}
	for _, rule := range d.rules {
		text = rule.re.ReplaceAllString(text, rule.rule.Mask)
	}
	return text
}

// RedactValue masks strings nested anywhere in a decoded JSON value.
func (d *Detector) RedactValue(value any) any {
	if d == nil {
		return value
	}
	switch v := value.(type) {
	case string:
		return d.Redact(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			out[k] = d.RedactValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			out[i] = d.RedactValue(nested)
		}
		return out
	default:
		return value
	}
}
