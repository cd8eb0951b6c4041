package engine

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/common/logger"
	"github.com/synaptica-ai/prescreen/pkg/evaluator"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

type tickClock struct{ t time.Time }

func (c *tickClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *tickClock {
	return &tickClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func newEngine(t *testing.T, catalog *ruleset.Catalog, opts Options) *Engine {
	t.Helper()
	log := logger.Discard()
	e := New(catalog, evaluator.New(log), session.NewMemoryRepository(), opts, log)
	e.SetClock(newClock().now)
	return e
}

func sampleEngine(t *testing.T) *Engine {
	t.Helper()
	catalog, err := ruleset.LoadDir("../../rulesets/v1", "v1", logger.Discard())
	if err != nil {
		t.Fatalf("load ruleset: %v", err)
	}
	return newEngine(t, catalog, Options{})
}

func adultMale() map[string]any {
	return map[string]any{
		"date_of_birth": "1990-05-10",
		"gender":        "Male",
		"height":        175.0,
		"weight":        70.0,
	}
}

func noFlags(qids ...string) map[string]any {
	out := map[string]any{}
	for _, q := range qids {
		out[q] = false
	}
	return out
}

func mustQuestions(t *testing.T, step Step, phase int) *QuestionsStep {
	t.Helper()
	qs, ok := step.(*QuestionsStep)
	if !ok {
		t.Fatalf("expected questions step, got %#v", step)
	}
	if qs.Phase != phase {
		t.Fatalf("expected phase %d, got %d", phase, qs.Phase)
	}
	return qs
}

func mustTermination(t *testing.T, step Step, kind string) *TerminationStep {
	t.Helper()
	ts, ok := step.(*TerminationStep)
	if !ok {
		t.Fatalf("expected termination step, got %#v", step)
	}
	if ts.Type != kind {
		t.Fatalf("expected %s, got %s (%s)", kind, ts.Type, ts.Reason)
	}
	return ts
}

func presented(t *testing.T, step Step) string {
	t.Helper()
	qs, ok := step.(*QuestionsStep)
	if !ok || len(qs.Questions) != 1 {
		t.Fatalf("expected a single presented question, got %#v", step)
	}
	return qs.Questions[0].QID
}

func deptIDs(ds []ruleset.Department) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

// toOLDCARTS drives a fresh session to its first tree question.
func toOLDCARTS(t *testing.T, e *Engine, demographics map[string]any, primary string) (*session.Session, Step) {
	t.Helper()
	s := session.New("u1", "s1", "v1", time.Now())
	if _, err := e.Submit(s, "", demographics); err != nil {
		t.Fatalf("demographics: %v", err)
	}
	if _, err := e.Submit(s, "", noFlags("er_001", "er_002", "er_003")); err != nil {
		t.Fatalf("er critical: %v", err)
	}
	step, err := e.Submit(s, "", map[string]any{"primary_symptom": primary})
	if err != nil {
		t.Fatalf("symptoms: %v", err)
	}
	var qids []string
	for _, q := range mustQuestions(t, step, session.PhaseERChecklist).Questions {
		qids = append(qids, q.QID)
	}
	step, err = e.Submit(s, "", noFlags(qids...))
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}
	return s, step
}

func TestHeadacheEndToEnd(t *testing.T) {
	e := sampleEngine(t)
	ctx := context.Background()

	if _, err := e.CreateSession(ctx, "u1", "s1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	step, err := e.CurrentStep(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	mustQuestions(t, step, session.PhaseDemographics)

	submit := func(qid string, value any) Step {
		t.Helper()
		step, err := e.SubmitAnswer(ctx, "u1", "s1", qid, value)
		if err != nil {
			t.Fatalf("submit %s: %v", qid, err)
		}
		return step
	}

	mustQuestions(t, submit("", adultMale()), session.PhaseERCritical)
	mustQuestions(t, submit("", noFlags("er_001", "er_002", "er_003")), session.PhaseSymptoms)
	checklist := mustQuestions(t, submit("", map[string]any{"primary_symptom": "Headache"}), session.PhaseERChecklist)
	if len(checklist.Questions) != 2 || checklist.Questions[0].QID != "er_adult_hea_001" {
		t.Fatalf("unexpected checklist %+v", checklist.Questions)
	}

	step = submit("", noFlags("er_adult_hea_001", "er_adult_hea_002"))
	if got := presented(t, step); got != "hea_o_001" {
		t.Fatalf("expected hea_o_001, got %s", got)
	}

	// gender and age filters resolve without being shown
	if got := presented(t, submit("", "sudden")); got != "hea_s_001" {
		t.Fatalf("expected hea_s_001, got %s", got)
	}
	if got := presented(t, submit("hea_s_001", 5)); got != "hea_t_001" {
		t.Fatalf("expected hea_t_001, got %s", got)
	}
	step = submit("", map[string]any{"name": "paracetamol", "dose": "500mg"})
	opd := mustQuestions(t, step, session.PhaseOPD)
	if opd.Questions[0].QID != "hea_opd_002" {
		t.Fatalf("expected hea_opd_002, got %s", opd.Questions[0].QID)
	}

	final := mustTermination(t, submit("", "no"), StepCompleted)
	if got := deptIDs(final.Departments); len(got) != 2 || got[0] != "dept001" || got[1] != "dept003" {
		t.Fatalf("unexpected departments %v", got)
	}
	if final.Severity == nil || final.Severity.ID != "sev002" || final.Reason != "New headache pattern" {
		t.Fatalf("unexpected outcome %+v", final)
	}

	s, err := e.GetSession(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Status != session.StatusCompleted || s.Phase != session.PhaseOPD || s.Result == nil {
		t.Fatalf("unexpected stored session %+v", s)
	}
	if len(s.Pending) != 0 {
		t.Fatalf("expected empty pending, got %v", s.Pending)
	}
	for _, qid := range []string{"hea_o_001", "hea_s_001", "hea_t_001", "hea_opd_002"} {
		if !s.HasAnswer(qid) {
			t.Fatalf("missing response %s", qid)
		}
	}
	if s.HasAnswer("hea_gf_001") || s.HasAnswer("hea_cd_001") {
		t.Fatalf("auto-evaluated questions must not be recorded")
	}
	if s.Responses["hea_s_001"].Value != 5 {
		t.Fatalf("expected stored answer 5, got %v", s.Responses["hea_s_001"].Value)
	}

	replay, err := e.CurrentStep(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	mustTermination(t, replay, StepCompleted)

	if _, err := e.SubmitAnswer(ctx, "u1", "s1", "", "yes"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected invalid state after completion, got %v", err)
	}
}

func TestSeverePainShowsAssociatedSymptoms(t *testing.T) {
	e := sampleEngine(t)
	s, _ := toOLDCARTS(t, e, adultMale(), "Headache")

	if _, err := e.Submit(s, "", "gradual"); err != nil {
		t.Fatalf("onset: %v", err)
	}
	step, err := e.Submit(s, "", 9)
	if err != nil {
		t.Fatalf("severity: %v", err)
	}
	if got := presented(t, step); got != "hea_a_001" {
		t.Fatalf("expected hea_a_001, got %s", got)
	}
	if _, err := e.Submit(s, "", []any{"vision"}); err != nil {
		t.Fatalf("associated: %v", err)
	}
	step, err = e.Submit(s, "", map[string]any{"name": "none"})
	if err != nil {
		t.Fatalf("treatment: %v", err)
	}
	final := mustTermination(t, step, StepCompleted)
	if got := deptIDs(final.Departments); len(got) != 1 || got[0] != "dept003" {
		t.Fatalf("unexpected departments %v", got)
	}
}

func TestFemaleTerminatesInOLDCARTS(t *testing.T) {
	e := sampleEngine(t)
	demo := adultMale()
	demo["gender"] = "Female"
	s, _ := toOLDCARTS(t, e, demo, "Headache")

	step, err := e.Submit(s, "", "sudden")
	if err != nil {
		t.Fatalf("onset: %v", err)
	}
	if got := presented(t, step); got != "hea_f_001" {
		t.Fatalf("expected hea_f_001, got %s", got)
	}
	step, err = e.Submit(s, "", "yes")
	if err != nil {
		t.Fatalf("pregnancy: %v", err)
	}
	final := mustTermination(t, step, StepTerminated)
	if final.Phase != session.PhaseOLDCARTS || deptIDs(final.Departments)[0] != "dept005" {
		t.Fatalf("unexpected outcome %+v", final)
	}
	if s.Status != session.StatusTerminated || *s.TerminatedAtPhase != session.PhaseOLDCARTS {
		t.Fatalf("unexpected session state %s", s.Status)
	}
}

func TestExplicitAgeRoutesPediatric(t *testing.T) {
	e := sampleEngine(t)
	demo := adultMale()
	demo["age"] = 10
	s, _ := toOLDCARTS(t, e, demo, "Headache")

	step, err := e.Submit(s, "", "sudden")
	if err != nil {
		t.Fatalf("onset: %v", err)
	}
	if got := presented(t, step); got != "hea_ped_001" {
		t.Fatalf("expected hea_ped_001, got %s", got)
	}
}

func TestFeverOPDResolvesWithoutQuestions(t *testing.T) {
	e := sampleEngine(t)
	s, step := toOLDCARTS(t, e, adultMale(), "Fever")
	q := mustQuestions(t, step, session.PhaseOLDCARTS).Questions[0]
	if q.Constraints == nil || q.Constraints.Default != 37 || q.Constraints.Step != 0.1 {
		t.Fatalf("unexpected constraints %+v", q.Constraints)
	}

	for _, answer := range []any{38.2, "gte_3"} {
		if _, err := e.Submit(s, "", answer); err != nil {
			t.Fatalf("submit %v: %v", answer, err)
		}
	}
	step, err := e.Submit(s, "", []any{"back"})
	if err != nil {
		t.Fatalf("rash: %v", err)
	}
	final := mustTermination(t, step, StepCompleted)
	if final.Reason != "Persistent fever with rash" || final.Phase != session.PhaseOPD {
		t.Fatalf("unexpected outcome %+v", final)
	}
}

func TestPendingKeepsPresentedQuestion(t *testing.T) {
	e := sampleEngine(t)
	s, _ := toOLDCARTS(t, e, adultMale(), "Headache")
	if len(s.Pending) == 0 || s.Pending[0] != "hea_o_001" {
		t.Fatalf("expected hea_o_001 at the front, got %v", s.Pending)
	}
	step, err := e.Step(s)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if presented(t, step) != "hea_o_001" {
		t.Fatalf("read step must match the persisted queue")
	}
}

func TestSequentialAnswerValidation(t *testing.T) {
	e := sampleEngine(t)
	s, _ := toOLDCARTS(t, e, adultMale(), "Headache")

	cases := []struct {
		name  string
		qid   string
		value any
	}{
		{"other qid", "hea_s_001", 3},
		{"unknown option", "", "maybe"},
		{"wrong type", "", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.Submit(s, tc.qid, tc.value); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if s.HasAnswer("hea_o_001") {
		t.Fatalf("rejected answers must not be recorded")
	}

	if _, err := e.Submit(s, "", "sudden"); err != nil {
		t.Fatalf("onset: %v", err)
	}
	if _, err := e.Submit(s, "", 11); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected out of range to fail, got %v", err)
	}
	if _, err := e.Submit(s, "", true); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected bool to fail, got %v", err)
	}
}

func TestERCritical(t *testing.T) {
	cases := []struct {
		name   string
		flags  map[string]any
		reason string
	}{
		{"custom reason", map[string]any{"er_001": true, "er_002": false, "er_003": false}, "Patient is unresponsive (er_001)"},
		{"default reason", map[string]any{"er_001": false, "er_002": true, "er_003": true}, "ER critical positive: er_002, er_003 (default response)"},
		{"mixed reasons", map[string]any{"er_001": true, "er_002": true, "er_003": false}, "Patient is unresponsive (er_001, er_002)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := sampleEngine(t)
			s := session.New("u1", "s1", "v1", time.Now())
			if _, err := e.Submit(s, "", adultMale()); err != nil {
				t.Fatalf("demographics: %v", err)
			}
			step, err := e.Submit(s, "", tc.flags)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			final := mustTermination(t, step, StepTerminated)
			if final.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, final.Reason)
			}
			if deptIDs(final.Departments)[0] != "dept002" || final.Severity.ID != "sev003" || final.Phase != 1 {
				t.Fatalf("unexpected outcome %+v", final)
			}
			if err := s.Validate(); err != nil {
				t.Fatalf("invariants: %v", err)
			}
		})
	}
}

func TestERCriticalRejectsBadInput(t *testing.T) {
	e := sampleEngine(t)
	s := session.New("u1", "s1", "v1", time.Now())
	_, _ = e.Submit(s, "", adultMale())

	for _, bad := range []any{"yes", map[string]any{"er_001": "true"}, map[string]any{"er_999": true}} {
		if _, err := e.Submit(s, "", bad); !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", bad, err)
		}
	}
	if s.Phase != session.PhaseERCritical {
		t.Fatalf("phase must not move on rejected input")
	}
}

func TestERChecklistScanOrder(t *testing.T) {
	cases := []struct {
		name      string
		primary   string
		secondary []any
		dept      string
		severity  string
		reason    string
	}{
		{"fever first", "Fever", []any{"Headache"}, "dept001", "sev003", "ER checklist positive: er_adult_fev_001 (default response)"},
		{"headache first", "Headache", []any{"Fever"}, "dept003", "sev002_5", "Possible stroke"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := sampleEngine(t)
			s := session.New("u1", "s1", "v1", time.Now())
			_, _ = e.Submit(s, "", adultMale())
			_, _ = e.Submit(s, "", noFlags("er_001", "er_002", "er_003"))
			if _, err := e.Submit(s, "", map[string]any{"primary_symptom": tc.primary, "secondary_symptoms": tc.secondary}); err != nil {
				t.Fatalf("symptoms: %v", err)
			}
			step, err := e.Submit(s, "", map[string]any{
				"er_adult_hea_001": false,
				"er_adult_hea_002": true,
				"er_adult_fev_001": true,
			})
			if err != nil {
				t.Fatalf("checklist: %v", err)
			}
			final := mustTermination(t, step, StepTerminated)
			if deptIDs(final.Departments)[0] != tc.dept || final.Severity.ID != tc.severity || final.Reason != tc.reason {
				t.Fatalf("unexpected outcome %+v", final)
			}
			if s.ERFlags["er_adult_fev_001"] != true {
				t.Fatalf("flags not stored")
			}
		})
	}
}

func TestPediatricChecklist(t *testing.T) {
	e := sampleEngine(t)
	s := session.New("u1", "s1", "v1", time.Now())
	demo := adultMale()
	demo["date_of_birth"] = "2016-06-01"
	_, _ = e.Submit(s, "", demo)
	_, _ = e.Submit(s, "", noFlags("er_001", "er_002", "er_003"))
	step, err := e.Submit(s, "", map[string]any{"primary_symptom": "Headache"})
	if err != nil {
		t.Fatalf("symptoms: %v", err)
	}
	qs := mustQuestions(t, step, session.PhaseERChecklist)
	if len(qs.Questions) != 1 || qs.Questions[0].QID != "er_ped_hea_001" {
		t.Fatalf("expected pediatric checklist, got %+v", qs.Questions)
	}
	if qs.Questions[0].Metadata["symptom"] != "Headache" {
		t.Fatalf("expected symptom metadata")
	}

	step, err = e.Submit(s, "", map[string]any{"er_ped_hea_001": true})
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}
	final := mustTermination(t, step, StepTerminated)
	if final.Severity.ID != "sev002_5" || deptIDs(final.Departments)[0] != "dept004" {
		t.Fatalf("unexpected outcome %+v", final)
	}
}

func TestAnsweredChecklistSurvivesBirthday(t *testing.T) {
	e := sampleEngine(t)
	s := session.New("u1", "s1", "v1", time.Now())
	demo := adultMale()
	demo["date_of_birth"] = "2011-06-01"
	_, _ = e.Submit(s, "", demo)
	_, _ = e.Submit(s, "", noFlags("er_001", "er_002", "er_003"))
	_, _ = e.Submit(s, "", map[string]any{"primary_symptom": "Fever"})
	if _, err := e.Submit(s, "", map[string]any{"er_ped_fev_001": false}); err != nil {
		t.Fatalf("checklist: %v", err)
	}

	e.SetClock(func() time.Time { return time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC) })
	if got := e.Checklist(s); len(got) != 1 || got[0].Item.QID != "er_adult_fev_001" {
		t.Fatalf("expected adult checklist after birthday, got %+v", got)
	}
	answered := e.AnsweredChecklist(s)
	if len(answered) != 1 || answered[0].Item.QID != "er_ped_fev_001" || answered[0].Symptom != "Fever" {
		t.Fatalf("expected recorded pediatric entry, got %+v", answered)
	}
}

func TestUnknownAgeUsesAdultChecklist(t *testing.T) {
	e := sampleEngine(t)
	s := session.New("u1", "s1", "v1", time.Now())
	s.Demographics = map[string]any{"gender": "Male"}
	s.Phase = session.PhaseERChecklist
	s.PrimarySymptom = "Fever"

	step, err := e.Step(s)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	qs := mustQuestions(t, step, session.PhaseERChecklist)
	if len(qs.Questions) != 1 || qs.Questions[0].QID != "er_adult_fev_001" {
		t.Fatalf("expected adult checklist, got %+v", qs.Questions)
	}
}

func TestUnknownSymptomIsNotFound(t *testing.T) {
	e := sampleEngine(t)
	s := session.New("u1", "s1", "v1", time.Now())
	_, _ = e.Submit(s, "", adultMale())
	_, _ = e.Submit(s, "", noFlags("er_001", "er_002", "er_003"))

	if _, err := e.Submit(s, "", map[string]any{"primary_symptom": "Cough"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.Submit(s, "", map[string]any{}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSymptomWithoutTreesCompletes(t *testing.T) {
	e := sampleEngine(t)
	s, step := toOLDCARTS(t, e, adultMale(), "Dizziness")
	final := mustTermination(t, step, StepCompleted)
	if final.Reason != completedWithoutTermination || len(final.Departments) != 0 {
		t.Fatalf("unexpected outcome %+v", final)
	}
	if s.Phase != session.PhaseOPD || s.Status != session.StatusCompleted {
		t.Fatalf("expected completed at phase 5, got %d %s", s.Phase, s.Status)
	}
}

func TestDemographicsValidation(t *testing.T) {
	e := sampleEngine(t)
	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing gender", func(m map[string]any) { delete(m, "gender") }},
		{"null gender", func(m map[string]any) { m["gender"] = nil }},
		{"bad enum", func(m map[string]any) { m["gender"] = "Other" }},
		{"bad date", func(m map[string]any) { m["date_of_birth"] = "10/05/1990" }},
		{"future date", func(m map[string]any) { m["date_of_birth"] = "2030-01-01" }},
		{"negative height", func(m map[string]any) { m["height"] = -1.0 }},
		{"bool weight", func(m map[string]any) { m["weight"] = true }},
		{"unknown disease", func(m map[string]any) { m["underlying_diseases"] = []any{"Gout"} }},
		{"occupation number", func(m map[string]any) { m["occupation"] = 3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			demo := adultMale()
			tc.mutate(demo)
			s := session.New("u1", "s1", "v1", time.Now())
			if _, err := e.Submit(s, "", demo); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	demo := adultMale()
	demo["underlying_diseases"] = []any{"Asthma"}
	demo["age"] = 36
	s := session.New("u1", "s1", "v1", time.Now())
	if _, err := e.Submit(s, "", demo); err != nil {
		t.Fatalf("valid demographics rejected: %v", err)
	}
	if s.Status != session.StatusInProgress || s.Phase != session.PhaseERCritical {
		t.Fatalf("unexpected session state %s/%d", s.Status, s.Phase)
	}
}

func TestDemographicsStepPayload(t *testing.T) {
	e := sampleEngine(t)
	step := e.demographicsStep()
	schema := step.SubmissionSchema
	required, _ := schema["required"].([]string)
	if len(required) != 4 {
		t.Fatalf("expected 4 required keys, got %v", required)
	}
	var gender, diseases *QuestionPayload
	for i := range step.Questions {
		switch step.Questions[i].Metadata["key"] {
		case "gender":
			gender = &step.Questions[i]
		case "underlying_diseases":
			diseases = &step.Questions[i]
		}
	}
	if gender == nil || len(gender.Options) != 2 || gender.Options[1].ID != "Female" {
		t.Fatalf("unexpected gender payload %+v", gender)
	}
	if diseases == nil || diseases.Metadata["values_source"] != "underlying_diseases.yaml" || diseases.Metadata["optional"] != true {
		t.Fatalf("unexpected diseases payload %+v", diseases)
	}
}

func TestPatientAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		demo  map[string]any
		age   int
		known bool
	}{
		{"birthday passed", map[string]any{"date_of_birth": "2000-02-28"}, 26, true},
		{"birthday today", map[string]any{"date_of_birth": "2000-03-01"}, 26, true},
		{"birthday ahead", map[string]any{"date_of_birth": "2000-03-02"}, 25, true},
		{"explicit age wins", map[string]any{"age": "12", "date_of_birth": "2000-03-02"}, 12, true},
		{"bool age ignored", map[string]any{"age": true}, 0, false},
		{"no data", map[string]any{}, 0, false},
		{"bad date", map[string]any{"date_of_birth": "yesterday"}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			age, known := PatientAge(tc.demo, now)
			if age != tc.age || known != tc.known {
				t.Fatalf("PatientAge = %d, %v; want %d, %v", age, known, tc.age, tc.known)
			}
		})
	}
}

const loopOLDCARTS = `Headache:
  - {qid: c1, question: r1, question_type: conditional, default: {action: goto, qid: [c2]}}
  - {qid: c2, question: r2, question_type: conditional, default: {action: goto, qid: [c1]}}
`

const loopOPD = `Headache:
  - qid: o1
    question: Again?
    question_type: single_select
    options:
      - {id: "yes", label: "Yes", action: {action: goto, qid: [o1]}}
`

func fixtureCatalog(t *testing.T, oldcarts, opd string) *ruleset.Catalog {
	t.Helper()
	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }
	fsys := fstest.MapFS{
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
	c, err := ruleset.Load(fsys, "test", logger.Discard())
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return c
}

func fixtureToOLDCARTS(t *testing.T, e *Engine) (*session.Session, Step, error) {
	t.Helper()
	s := session.New("u1", "s1", "test", time.Now())
	if _, err := e.Submit(s, "", map[string]any{"gender": "Male"}); err != nil {
		t.Fatalf("demographics: %v", err)
	}
	if _, err := e.Submit(s, "", map[string]any{"er_001": false}); err != nil {
		t.Fatalf("er critical: %v", err)
	}
	if _, err := e.Submit(s, "", map[string]any{"primary_symptom": "Headache"}); err != nil {
		t.Fatalf("symptoms: %v", err)
	}
	step, err := e.Submit(s, "", map[string]any{})
	return s, step, err
}

func TestGotoCyclesTerminate(t *testing.T) {
	e := newEngine(t, fixtureCatalog(t, loopOLDCARTS, loopOPD), Options{})
	s, step, err := fixtureToOLDCARTS(t, e)
	if err != nil {
		t.Fatalf("checklist: %v", err)
	}
	// the conditional loop is cut and the OLDCARTS queue runs dry
	if got := presented(t, step); got != "o1" || s.Phase != session.PhaseOPD {
		t.Fatalf("expected o1 in phase 5, got %s in phase %d", got, s.Phase)
	}

	// goto back to an answered qid is skipped
	step, err = e.Submit(s, "", "yes")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := mustTermination(t, step, StepCompleted)
	if final.Reason != completedWithoutTermination {
		t.Fatalf("unexpected reason %q", final.Reason)
	}
}

func TestAutoEvalStepLimit(t *testing.T) {
	chain := `Headache:
  - {qid: c1, question: r, question_type: conditional, default: {action: goto, qid: [c2]}}
  - {qid: c2, question: r, question_type: conditional, default: {action: goto, qid: [c3]}}
  - {qid: c3, question: r, question_type: conditional, default: {action: goto, qid: [c4]}}
  - {qid: c4, question: r, question_type: conditional, default: {action: goto, qid: [c5]}}
  - {qid: c5, question: r, question_type: conditional, default: {action: opd}}
`
	e := newEngine(t, fixtureCatalog(t, chain, loopOPD), Options{MaxAutoEvalSteps: 3})
	_, _, err := fixtureToOLDCARTS(t, e)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected step limit error, got %v", err)
	}
}
