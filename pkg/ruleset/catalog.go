package ruleset

import (
	"fmt"
	"sort"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
)

// Source names a decision tree document.
type Source string

const (
	SourceOLDCARTS Source = "oldcarts"
	SourceOPD      Source = "opd"
)

type tree struct {
	order     []string
	questions map[string]Question
}

// Catalog is the loaded rule set. It is never mutated after Load returns
// and is safe for concurrent use.
type Catalog struct {
	version string

	departments     map[string]Department
	departmentOrder []string
	severities      map[string]Severity
	severityOrder   []string
	symptoms        []Symptom
	symptomIndex    map[string]struct{}
	diseases        []UnderlyingDisease
	demographics    []DemographicField
	erCritical      []ERCriticalItem
	erAdult         map[string][]ERChecklistItem
	erPediatric     map[string][]ERChecklistItem
	trees           map[Source]map[string]*tree
}

func (c *Catalog) Version() string { return c.version }

func (c *Catalog) lookupTree(source Source, symptom string) (*tree, error) {
	t, ok := c.trees[source][symptom]
	if !ok || len(t.order) == 0 {
		return nil, fmt.Errorf("%w: no %s tree for symptom %q", apperrors.ErrNotFound, source, symptom)
	}
	return t, nil
}

// FirstQID returns the first question of the symptom's tree in declared order.
func (c *Catalog) FirstQID(source Source, symptom string) (string, error) {
	t, err := c.lookupTree(source, symptom)
	if err != nil {
		return "", err
	}
	return t.order[0], nil
}

func (c *Catalog) Question(source Source, symptom, qid string) (Question, error) {
	t, err := c.lookupTree(source, symptom)
	if err != nil {
		return nil, err
	}
	q, ok := t.questions[qid]
	if !ok {
		return nil, fmt.Errorf("%w: question %s in %s/%s", apperrors.ErrNotFound, qid, source, symptom)
	}
	return q, nil
}

// Questions returns the symptom's tree in declared order, or nil.
func (c *Catalog) Questions(source Source, symptom string) []Question {
	t, ok := c.trees[source][symptom]
	if !ok {
		return nil
	}
	out := make([]Question, 0, len(t.order))
	for _, qid := range t.order {
		out = append(out, t.questions[qid])
	}
	return out
}

// HasQuestion reports whether qid belongs to the symptom's tree.
func (c *Catalog) HasQuestion(source Source, symptom, qid string) bool {
	t, ok := c.trees[source][symptom]
	if !ok {
		return false
	}
	_, ok = t.questions[qid]
	return ok
}

// ERChecklist returns the checklist for a symptom, or an empty list.
func (c *Catalog) ERChecklist(symptom string, pediatric bool) []ERChecklistItem {
	if pediatric {
		return c.erPediatric[symptom]
	}
	return c.erAdult[symptom]
}

func (c *Catalog) Department(id string) (Department, error) {
	d, ok := c.departments[id]
	if !ok {
		return Department{}, fmt.Errorf("%w: department %q", apperrors.ErrNotFound, id)
	}
	return d, nil
}

func (c *Catalog) Severity(id string) (Severity, error) {
	s, ok := c.severities[id]
	if !ok {
		return Severity{}, fmt.Errorf("%w: severity %q", apperrors.ErrNotFound, id)
	}
	return s, nil
}

func (c *Catalog) Departments() []Department {
	out := make([]Department, 0, len(c.departmentOrder))
	for _, id := range c.departmentOrder {
		out = append(out, c.departments[id])
	}
	return out
}

// Severities returns severities from least to most urgent. Ids missing from
// SeverityOrder keep their document order after the known ones.
func (c *Catalog) Severities() []Severity {
	rank := make(map[string]int, len(SeverityOrder))
	for i, id := range SeverityOrder {
		rank[id] = i
	}
	ids := append([]string(nil), c.severityOrder...)
	sort.SliceStable(ids, func(i, j int) bool {
		ri, iok := rank[ids[i]]
		rj, jok := rank[ids[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	out := make([]Severity, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.severities[id])
	}
	return out
}

func (c *Catalog) Symptoms() []Symptom {
	return append([]Symptom(nil), c.symptoms...)
}

func (c *Catalog) HasSymptom(name string) bool {
	_, ok := c.symptomIndex[name]
	return ok
}

func (c *Catalog) UnderlyingDiseases() []UnderlyingDisease {
	return append([]UnderlyingDisease(nil), c.diseases...)
}

func (c *Catalog) Demographics() []DemographicField {
	return append([]DemographicField(nil), c.demographics...)
}

func (c *Catalog) ERCritical() []ERCriticalItem {
	return append([]ERCriticalItem(nil), c.erCritical...)
}
