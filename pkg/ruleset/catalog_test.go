package ruleset

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/common/logger"
)

func loadSample(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadDir("../../rulesets/v1", "v1", logger.Discard())
	if err != nil {
		t.Fatalf("load sample ruleset: %v", err)
	}
	return c
}

func minimalFS(oldcarts, opd string) fstest.MapFS {
	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }
	return fstest.MapFS{
		"const/departments.yaml":               file("- {id: dept001, name: General}\n- {id: dept002, name: ER}\n"),
		"const/severity_levels.yaml":           file("- {id: sev003, name: Emergency}\n- {id: sev001, name: Home}\n"),
		"const/nhso_symptoms.yaml":             file("- {name: Headache, name_th: x}\n"),
		"const/underlying_diseases.yaml":       file("[]\n"),
		"rules/demographic.yaml":               file("- {qid: d1, key: gender, type: enum, values: [Male, Female]}\n"),
		"rules/er/er_symptom.yaml":             file("- {qid: er_001, text: unconscious}\n"),
		"rules/er/er_adult_checklist.yaml":     file("{}\n"),
		"rules/er/er_pediatric_checklist.yaml": file("{}\n"),
		"rules/oldcarts.yaml":                  file(oldcarts),
		"rules/opd.yaml":                       file(opd),
	}
}

func TestLoadSampleRuleset(t *testing.T) {
	c := loadSample(t)

	first, err := c.FirstQID(SourceOLDCARTS, "Headache")
	if err != nil || first != "hea_o_001" {
		t.Fatalf("expected hea_o_001, got %q (%v)", first, err)
	}
	first, err = c.FirstQID(SourceOPD, "Headache")
	if err != nil || first != "hea_opd_001" {
		t.Fatalf("expected hea_opd_001, got %q (%v)", first, err)
	}

	q, err := c.Question(SourceOLDCARTS, "Headache", "hea_s_001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	nr, ok := q.(*NumberRange)
	if !ok {
		t.Fatalf("expected number range, got %T", q)
	}
	if nr.Step != 1 || nr.Default != 0 || nr.Max != 10 {
		t.Fatalf("unexpected number range defaults: %+v", nr)
	}

	questions := c.Questions(SourceOLDCARTS, "Headache")
	if len(questions) != 9 || questions[0].QID() != "hea_o_001" || questions[8].QID() != "hea_t_001" {
		t.Fatalf("unexpected declaration order: %d questions", len(questions))
	}

	if !AutoEvaluated(questions[1]) || AutoEvaluated(questions[0]) {
		t.Fatalf("auto-evaluated classification is wrong")
	}
}

func TestLookupNotFound(t *testing.T) {
	c := loadSample(t)

	if _, err := c.FirstQID(SourceOLDCARTS, "Dizziness"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for missing tree, got %v", err)
	}
	if _, err := c.Question(SourceOLDCARTS, "Headache", "nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for missing qid, got %v", err)
	}
	if _, err := c.Department("dept999"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for department, got %v", err)
	}
	if _, err := c.Severity("sev999"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for severity, got %v", err)
	}
	if items := c.ERChecklist("Dizziness", false); len(items) != 0 {
		t.Fatalf("expected empty checklist, got %v", items)
	}
}

func TestReferenceData(t *testing.T) {
	c := loadSample(t)

	sevs := c.Severities()
	if len(sevs) != 4 || sevs[0].ID != "sev001" || sevs[3].ID != "sev003" {
		t.Fatalf("unexpected severity order: %+v", sevs)
	}
	if d, _ := c.Department("dept005"); d.Genders != "female" {
		t.Fatalf("expected female-only department, got %q", d.Genders)
	}
	if d, _ := c.Department("dept001"); d.Genders != "any" {
		t.Fatalf("expected genders default any, got %q", d.Genders)
	}
	if !c.HasSymptom("Fever") || c.HasSymptom("Cough") {
		t.Fatalf("symptom index is wrong")
	}

	var dob DemographicField
	for _, f := range c.Demographics() {
		if f.Key == "underlying_diseases" {
			dob = f
		}
	}
	if dob.ValuesSource != "underlying_diseases.yaml" || !dob.Optional {
		t.Fatalf("unexpected from_yaml field: %+v", dob)
	}

	adult := c.ERChecklist("Headache", false)
	if len(adult) != 2 || adult[1].MinSeverity != "sev002_5" || adult[1].Departments[0] != "dept003" {
		t.Fatalf("unexpected adult checklist: %+v", adult)
	}
	ped := c.ERChecklist("Fever", true)
	if len(ped) != 1 || ped[0].Severity != "sev003" {
		t.Fatalf("unexpected pediatric checklist: %+v", ped)
	}
}

func TestSeveritiesOrderIgnoresDocumentOrder(t *testing.T) {
	c, err := Load(minimalFS("{}\n", "{}\n"), "test", logger.Discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sevs := c.Severities()
	if sevs[0].ID != "sev001" || sevs[1].ID != "sev003" {
		t.Fatalf("expected urgency order, got %+v", sevs)
	}
}

func TestLoadFailsFast(t *testing.T) {
	cases := []struct {
		name     string
		oldcarts string
		opd      string
		want     string
	}{
		{
			name:     "unknown kind",
			oldcarts: "Headache:\n  - {qid: a, question: q, question_type: slider}\n",
			want:     "unknown question_type",
		},
		{
			name: "duplicate qid",
			oldcarts: `Headache:
  - {qid: a, question: q, question_type: free_text, on_submit: {action: opd}}
  - {qid: a, question: q, question_type: free_text, on_submit: {action: opd}}
`,
			want: "duplicate qid",
		},
		{
			name:     "dangling goto",
			oldcarts: "Headache:\n  - {qid: a, question: q, question_type: free_text, on_submit: {action: goto, qid: [missing]}}\n",
			want:     "goto target missing",
		},
		{
			name:     "unknown department",
			oldcarts: "Headache:\n  - {qid: a, question: q, question_type: free_text, on_submit: {action: terminate, metadata: {department: [{id: dept404}]}}}\n",
			want:     "unknown department",
		},
		{
			name:     "bad range",
			oldcarts: "Headache:\n  - {qid: a, question: q, question_type: number_range, min_value: 5, max_value: 5, on_submit: {action: opd}}\n",
			want:     "min_value must be < max_value",
		},
		{
			name: "bad operator",
			oldcarts: `Headache:
  - qid: a
    question: q
    question_type: conditional
    rules:
      - when: [{qid: b, op: approx, value: 1}]
        then: {action: opd}
`,
			want: "unknown operator",
		},
		{
			name: "bad regex",
			oldcarts: `Headache:
  - qid: a
    question: q
    question_type: conditional
    rules:
      - when: [{qid: b, op: matches, value: "(unclosed"}]
        then: {action: opd}
`,
			want: "bad pattern",
		},
		{
			name:     "qid shared across trees",
			oldcarts: "Headache:\n  - {qid: a, question: q, question_type: free_text, on_submit: {action: opd}}\n",
			opd:      "Headache:\n  - {qid: a, question: q, question_type: free_text, on_submit: {action: opd}}\n",
			want:     "also declared",
		},
		{
			name:     "missing action",
			oldcarts: "Headache:\n  - {qid: a, question: q, question_type: single_select, options: [{id: x, label: X}]}\n",
			want:     "action is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opd := tc.opd
			if opd == "" {
				opd = "{}\n"
			}
			_, err := Load(minimalFS(tc.oldcarts, opd), "test", logger.Discard())
			if err == nil {
				t.Fatalf("expected load failure")
			}
			if !errors.Is(err, ErrInvalidRuleset) {
				t.Fatalf("expected ErrInvalidRuleset, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestGotoAcceptsScalarTarget(t *testing.T) {
	oldcarts := `Headache:
  - {qid: a, question: q, question_type: free_text, on_submit: {action: goto, qid: b}}
  - {qid: b, question: q, question_type: free_text, on_submit: {action: opd}}
`
	c, err := Load(minimalFS(oldcarts, "{}\n"), "test", logger.Discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	q, _ := c.Question(SourceOLDCARTS, "Headache", "a")
	g, ok := q.(*FreeText).OnSubmit.(*Goto)
	if !ok || len(g.QIDs) != 1 || g.QIDs[0] != "b" {
		t.Fatalf("unexpected goto: %+v", q.(*FreeText).OnSubmit)
	}
}
