package pipeline

import (
	"github.com/synaptica-ai/prescreen/pkg/engine"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

func phase(n int) *int { return &n }

// History rebuilds the rule-based question/answer pairs of s in phase
// order. Auto-evaluated questions never appear.
func (p *Pipeline) History(s *session.Session) []QAPair {
	catalog := p.engine.Catalog()
	var pairs []QAPair
	add := func(question string, answer any, qid, kind string, ph int) {
		pairs = append(pairs, QAPair{
			Question:     question,
			Answer:       answer,
			Source:       SourceRuleBased,
			QID:          qid,
			QuestionType: kind,
			Phase:        phase(ph),
		})
	}

	for _, f := range catalog.Demographics() {
		if v, ok := s.Demographics[f.Key]; ok && v != nil {
			add(f.FieldNameTH, v, f.QID, f.Type, session.PhaseDemographics)
		}
	}

	for _, item := range catalog.ERCritical() {
		if r, ok := s.Responses[item.QID]; ok {
			add(item.Text, r.Value, item.QID, engine.QuestionTypeYesNo, session.PhaseERCritical)
		}
	}

	if s.PrimarySymptom != "" {
		add(engine.PrimarySymptomPrompt, s.PrimarySymptom, engine.PrimarySymptomKey, string(ruleset.KindSingleSelect), session.PhaseSymptoms)
	}
	if len(s.SecondarySymptoms) > 0 {
		add(engine.SecondarySymptomsPrompt, append([]string(nil), s.SecondarySymptoms...), engine.SecondarySymptomsKey, string(ruleset.KindMultiSelect), session.PhaseSymptoms)
	}

	for _, entry := range p.engine.AnsweredChecklist(s) {
		if r, ok := s.Responses[entry.Item.QID]; ok {
			add(entry.Item.Text, r.Value, entry.Item.QID, engine.QuestionTypeYesNo, session.PhaseERChecklist)
		}
	}

	trees := []struct {
		source ruleset.Source
		phase  int
	}{
		{ruleset.SourceOLDCARTS, session.PhaseOLDCARTS},
		{ruleset.SourceOPD, session.PhaseOPD},
	}
	if s.PrimarySymptom != "" {
		for _, tree := range trees {
			for _, q := range catalog.Questions(tree.source, s.PrimarySymptom) {
				if ruleset.AutoEvaluated(q) {
					continue
				}
				if r, ok := s.Responses[q.QID()]; ok {
					add(q.Prompt(), r.Value, q.QID(), string(q.Kind()), tree.phase)
				}
			}
		}
	}
	return pairs
}

// FullHistory is History plus the answered follow-up questions.
func (p *Pipeline) FullHistory(s *session.Session) []QAPair {
	pairs := p.History(s)
	for _, a := range s.LLMResponses {
		pairs = append(pairs, QAPair{Question: a.Question, Answer: a.Answer, Source: SourceLLMGenerated})
	}
	return pairs
}
