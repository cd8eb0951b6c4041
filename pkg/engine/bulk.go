package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/evaluator"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

// ChecklistEntry is a phase 3 item with the symptom that selected it.
type ChecklistEntry struct {
	Symptom string
	Item    ruleset.ERChecklistItem
}

func (e *Engine) submitDemographics(s *session.Session, value any) (Step, error) {
	values, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: demographics must be an object, got %T", apperrors.ErrValidation, value)
	}
	if err := e.validateDemographics(values); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(s.Demographics)+len(values))
	for k, v := range s.Demographics {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	s.SetDemographics(merged)
	if err := s.SetPhase(session.PhaseERCritical); err != nil {
		return nil, err
	}
	return e.Step(s)
}

func (e *Engine) submitERCritical(s *session.Session, value any) (Step, error) {
	items := e.catalog.ERCritical()
	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.QID] = true
	}
	flags, err := boolFlags(value, known, "ER critical")
	if err != nil {
		return nil, err
	}

	now := e.clock()
	var positive, reasons []string
	for _, item := range items {
		answer, ok := flags[item.QID]
		if !ok {
			continue
		}
		s.RecordResponse(item.QID, answer, now)
		if !answer {
			continue
		}
		positive = append(positive, item.QID)
		if item.Reason != "" {
			reasons = append(reasons, item.Reason)
		}
	}

	if len(positive) > 0 {
		qids := strings.Join(positive, ", ")
		reason := fmt.Sprintf("ER critical positive: %s (default response)", qids)
		if len(reasons) > 0 {
			reason = fmt.Sprintf("%s (%s)", strings.Join(reasons, "; "), qids)
		}
		return e.terminate(s, []string{e.opts.DefaultERDepartment}, e.opts.DefaultERSeverity, reason)
	}
	if err := s.SetPhase(session.PhaseSymptoms); err != nil {
		return nil, err
	}
	return e.Step(s)
}

func (e *Engine) submitSymptoms(s *session.Session, value any) (Step, error) {
	values, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: symptom selection must be an object, got %T", apperrors.ErrValidation, value)
	}
	primary, ok := values[PrimarySymptomKey].(string)
	if !ok || primary == "" {
		return nil, fmt.Errorf("%w: %s is required", apperrors.ErrValidation, PrimarySymptomKey)
	}
	if !e.catalog.HasSymptom(primary) {
		return nil, fmt.Errorf("%w: symptom %q", apperrors.ErrNotFound, primary)
	}

	var secondary []string
	if raw, present := values[SecondarySymptomsKey]; present && raw != nil {
		names, ok := stringSlice(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a list of symptom names", apperrors.ErrValidation, SecondarySymptomsKey)
		}
		seen := map[string]bool{primary: true}
		for _, name := range names {
			if !e.catalog.HasSymptom(name) {
				return nil, fmt.Errorf("%w: symptom %q", apperrors.ErrNotFound, name)
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			secondary = append(secondary, name)
		}
	}

	s.SetSymptoms(primary, secondary)
	if err := s.SetPhase(session.PhaseERChecklist); err != nil {
		return nil, err
	}
	return e.Step(s)
}

func (e *Engine) submitERChecklist(s *session.Session, value any) (Step, error) {
	entries := e.Checklist(s)
	known := make(map[string]bool, len(entries))
	for _, entry := range entries {
		known[entry.Item.QID] = true
	}
	flags, err := boolFlags(value, known, "ER checklist")
	if err != nil {
		return nil, err
	}

	s.SetERFlags(flags)
	now := e.clock()
	for _, entry := range entries {
		if answer, ok := flags[entry.Item.QID]; ok {
			s.RecordResponse(entry.Item.QID, answer, now)
		}
	}

	pediatric := e.isPediatric(s)
	for _, entry := range entries {
		if !flags[entry.Item.QID] {
			continue
		}
		item := entry.Item
		severity := item.MinSeverity
		if pediatric {
			severity = item.Severity
		}
		if severity == "" {
			severity = e.opts.DefaultERSeverity
		}
		department := e.opts.DefaultERDepartment
		if len(item.Departments) > 0 {
			department = item.Departments[0]
		}
		reason := item.Reason
		if reason == "" {
			reason = fmt.Sprintf("ER checklist positive: %s (default response)", item.QID)
		}
		return e.terminate(s, []string{department}, severity, reason)
	}

	if err := s.SetPhase(session.PhaseOLDCARTS); err != nil {
		return nil, err
	}
	s.SetPending(nil)
	return e.settle(s, nil)
}

// Checklist lists the applicable checklist items: symptoms in selection
// order, items in catalog order within each symptom.
func (e *Engine) Checklist(s *session.Session) []ChecklistEntry {
	pediatric := e.isPediatric(s)
	var out []ChecklistEntry
	seen := map[string]bool{}
	for _, symptom := range s.SelectedSymptoms() {
		for _, item := range e.catalog.ERChecklist(symptom, pediatric) {
			if seen[item.QID] {
				continue
			}
			seen[item.QID] = true
			out = append(out, ChecklistEntry{Symptom: symptom, Item: item})
		}
	}
	return out
}

// AnsweredChecklist returns the checklist entries recorded in ERFlags. Both
// age groups are searched so answers survive an age change after phase 3.
func (e *Engine) AnsweredChecklist(s *session.Session) []ChecklistEntry {
	if len(s.ERFlags) == 0 {
		return nil
	}
	pediatric := e.isPediatric(s)
	var out []ChecklistEntry
	seen := map[string]bool{}
	for _, group := range []bool{pediatric, !pediatric} {
		for _, symptom := range s.SelectedSymptoms() {
			for _, item := range e.catalog.ERChecklist(symptom, group) {
				if _, answered := s.ERFlags[item.QID]; !answered || seen[item.QID] {
					continue
				}
				seen[item.QID] = true
				out = append(out, ChecklistEntry{Symptom: symptom, Item: item})
			}
		}
	}
	return out
}

// isPediatric is false when the age is unknown.
func (e *Engine) isPediatric(s *session.Session) bool {
	age, ok := PatientAge(s.Demographics, e.clock())
	return ok && age < e.opts.PediatricAgeThreshold
}

// PatientAge reads an explicit age field, else derives it from
// date_of_birth as of now.
func PatientAge(demographics map[string]any, now time.Time) (int, bool) {
	if raw, ok := demographics["age"]; ok {
		if _, isBool := raw.(bool); !isBool {
			if f, ok := evaluator.ToFloat(raw); ok {
				return int(f), true
			}
		}
	}
	raw, ok := demographics["date_of_birth"].(string)
	if !ok || raw == "" {
		return 0, false
	}
	dob, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age, true
}

func boolFlags(value any, known map[string]bool, what string) (map[string]bool, error) {
	raw, ok := value.(map[string]any)
	if !ok {
		if typed, isTyped := value.(map[string]bool); isTyped {
			raw = make(map[string]any, len(typed))
			for k, v := range typed {
				raw[k] = v
			}
		} else {
			return nil, fmt.Errorf("%w: %s answers must be an object of booleans, got %T", apperrors.ErrValidation, what, value)
		}
	}
	flags := make(map[string]bool, len(raw))
	for qid, v := range raw {
		if !known[qid] {
			return nil, fmt.Errorf("%w: unknown %s item %q", apperrors.ErrValidation, what, qid)
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s item %q must be a boolean", apperrors.ErrValidation, what, qid)
		}
		flags[qid] = b
	}
	return flags, nil
}

func stringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
