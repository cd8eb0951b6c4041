package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

// Back reverts s by one step: the previous bulk phase, or the most recently
// answered tree question.
func (e *Engine) Back(s *session.Session) (Step, error) {
	if s.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot step back, session is %s", apperrors.ErrInvalidState, s.Status)
	}
	phase, qid, err := e.previousStep(s)
	if err != nil {
		return nil, err
	}
	return e.Revert(s, phase, qid)
}

func (e *Engine) previousStep(s *session.Session) (int, string, error) {
	switch s.Phase {
	case session.PhaseDemographics:
		return 0, "", fmt.Errorf("%w: already at the first step", apperrors.ErrInvalidState)
	case session.PhaseERCritical, session.PhaseSymptoms, session.PhaseERChecklist:
		return s.Phase - 1, "", nil
	case session.PhaseOLDCARTS:
		if qid := e.lastAnswered(s, ruleset.SourceOLDCARTS); qid != "" {
			return session.PhaseOLDCARTS, qid, nil
		}
		return session.PhaseERChecklist, "", nil
	case session.PhaseOPD:
		if qid := e.lastAnswered(s, ruleset.SourceOPD); qid != "" {
			return session.PhaseOPD, qid, nil
		}
		if qid := e.lastAnswered(s, ruleset.SourceOLDCARTS); qid != "" {
			return session.PhaseOLDCARTS, qid, nil
		}
		return session.PhaseERChecklist, "", nil
	}
	return 0, "", fmt.Errorf("%w: phase %d", apperrors.ErrInvalidState, s.Phase)
}

// lastAnswered returns the tree qid with the latest answer time, or "".
func (e *Engine) lastAnswered(s *session.Session, source ruleset.Source) string {
	var (
		latest   string
		latestAt time.Time
	)
	for _, qid := range e.treeQIDs(source, s.PrimarySymptom) {
		r, ok := s.Responses[qid]
		if !ok {
			continue
		}
		if latest == "" || r.AnsweredAt.After(latestAt) {
			latest, latestAt = qid, r.AnsweredAt
		}
	}
	return latest
}

func (e *Engine) treeQIDs(source ruleset.Source, symptom string) []string {
	if symptom == "" {
		return nil
	}
	questions := e.catalog.Questions(source, symptom)
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.QID())
	}
	return out
}

// Revert moves s back to targetPhase, clearing what was answered from there
// on. targetQID selects a question inside a sequential phase.
func (e *Engine) Revert(s *session.Session, targetPhase int, targetQID string) (Step, error) {
	if s.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot back-edit, session is %s", apperrors.ErrInvalidState, s.Status)
	}
	if targetPhase < session.PhaseDemographics || targetPhase > session.PhaseOPD {
		return nil, invalidf("target_phase must be 0-5, got %d", targetPhase)
	}
	sequential := targetPhase == session.PhaseOLDCARTS || targetPhase == session.PhaseOPD
	if targetQID != "" && !sequential {
		return nil, invalidf("target_qid is only valid for phases 4-5, got phase %d", targetPhase)
	}
	if targetPhase > s.Phase {
		return nil, invalidf("target_phase %d is after current phase %d", targetPhase, s.Phase)
	}
	if targetPhase == s.Phase && targetQID == "" {
		return nil, invalidf("target_phase %d is the current phase, target_qid is required", targetPhase)
	}
	if targetQID != "" {
		if !s.HasAnswer(targetQID) || !e.catalog.HasQuestion(sourceFor(targetPhase), s.PrimarySymptom, targetQID) {
			return nil, invalidf("target_qid %q was not answered in phase %d", targetQID, targetPhase)
		}
	}

	previous := e.previousValues(s, targetPhase)
	remove := e.revertedQIDs(s, targetPhase, targetQID)

	switch targetPhase {
	case session.PhaseDemographics:
		s.Reset(true, true, true)
	case session.PhaseERCritical, session.PhaseSymptoms:
		s.Reset(false, true, true)
	case session.PhaseERChecklist:
		s.Reset(false, false, true)
	}
	s.RemoveResponses(remove)
	if err := s.SetPhase(targetPhase); err != nil {
		return nil, err
	}
	if targetQID != "" {
		s.SetPending([]string{targetQID})
	} else {
		s.SetPending(nil)
	}

	e.log.WithFields(logrus.Fields{
		"session":      s.Key(),
		"target_phase": targetPhase,
		"target_qid":   targetQID,
		"removed":      len(remove),
	}).Info("Session reverted")

	var step Step
	var err error
	if sequential {
		step, err = e.settle(s, nil)
	} else {
		step, err = e.Step(s)
	}
	if err != nil {
		return nil, err
	}
	if qs, ok := step.(*QuestionsStep); ok && len(previous) > 0 {
		injectPrevious(qs, previous)
	}
	return step, nil
}

// previousValues snapshots a bulk phase's answers so the form can be
// pre-filled.
func (e *Engine) previousValues(s *session.Session, phase int) map[string]any {
	out := map[string]any{}
	switch phase {
	case session.PhaseDemographics:
		for k, v := range s.Demographics {
			out[k] = v
		}
	case session.PhaseERCritical:
		for _, item := range e.catalog.ERCritical() {
			if r, ok := s.Responses[item.QID]; ok {
				out[item.QID] = r.Value
			}
		}
	case session.PhaseSymptoms:
		if s.PrimarySymptom != "" {
			out[PrimarySymptomKey] = s.PrimarySymptom
		}
		if len(s.SecondarySymptoms) > 0 {
			out[SecondarySymptomsKey] = append([]string(nil), s.SecondarySymptoms...)
		}
	case session.PhaseERChecklist:
		for k, v := range s.ERFlags {
			out[k] = v
		}
	}
	return out
}

func injectPrevious(step *QuestionsStep, previous map[string]any) {
	for i := range step.Questions {
		q := &step.Questions[i]
		key := q.QID
		if k, ok := q.Metadata["key"].(string); ok {
			key = k
		}
		prev, ok := previous[key]
		if !ok || prev == nil {
			continue
		}
		if q.Metadata == nil {
			q.Metadata = map[string]any{}
		}
		q.Metadata["previous_value"] = prev
	}
}

// revertedQIDs lists the response qids a revert to targetPhase removes.
func (e *Engine) revertedQIDs(s *session.Session, targetPhase int, targetQID string) []string {
	oldcarts := e.treeQIDs(ruleset.SourceOLDCARTS, s.PrimarySymptom)
	opd := e.treeQIDs(ruleset.SourceOPD, s.PrimarySymptom)

	var checklist []string
	for _, entry := range e.Checklist(s) {
		checklist = append(checklist, entry.Item.QID)
	}

	var candidates []string
	switch {
	case targetQID != "":
		tree := oldcarts
		if targetPhase == session.PhaseOPD {
			tree = opd
		}
		at := s.Responses[targetQID].AnsweredAt
		for _, qid := range tree {
			r, ok := s.Responses[qid]
			if qid == targetQID || (ok && !r.AnsweredAt.Before(at)) {
				candidates = append(candidates, qid)
			}
		}
		if targetPhase == session.PhaseOLDCARTS {
			candidates = append(candidates, opd...)
		}
	case targetPhase == session.PhaseDemographics:
		for qid := range s.Responses {
			candidates = append(candidates, qid)
		}
	case targetPhase == session.PhaseERCritical:
		for _, item := range e.catalog.ERCritical() {
			candidates = append(candidates, item.QID)
		}
		candidates = append(candidates, checklist...)
		candidates = append(candidates, oldcarts...)
		candidates = append(candidates, opd...)
	case targetPhase == session.PhaseSymptoms, targetPhase == session.PhaseERChecklist:
		candidates = append(candidates, checklist...)
		candidates = append(candidates, oldcarts...)
		candidates = append(candidates, opd...)
	case targetPhase == session.PhaseOLDCARTS:
		candidates = append(candidates, oldcarts...)
		candidates = append(candidates, opd...)
	case targetPhase == session.PhaseOPD:
		candidates = append(candidates, opd...)
	}

	out := make([]string, 0, len(candidates))
	for _, qid := range candidates {
		if s.HasAnswer(qid) {
			out = append(out, qid)
		}
	}
	return out
}
