package ruleset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRuleset wraps every load failure.
var ErrInvalidRuleset = errors.New("invalid ruleset")

const (
	departmentsFile   = "const/departments.yaml"
	severitiesFile    = "const/severity_levels.yaml"
	symptomsFile      = "const/nhso_symptoms.yaml"
	diseasesFile      = "const/underlying_diseases.yaml"
	demographicFile   = "rules/demographic.yaml"
	erCriticalFile    = "rules/er/er_symptom.yaml"
	erAdultFile       = "rules/er/er_adult_checklist.yaml"
	erPediatricFile   = "rules/er/er_pediatric_checklist.yaml"
	oldcartsTreeFile  = "rules/oldcarts.yaml"
	opdTreeFile       = "rules/opd.yaml"
	defaultNumberStep = 1.0
)

// LoadDir loads a rule set rooted at dir on the local filesystem.
func LoadDir(dir, version string, log logrus.FieldLogger) (*Catalog, error) {
	return Load(os.DirFS(dir), version, log)
}

// Load parses and cross-checks every rule document under fsys. Any unknown
// question kind, duplicate qid, dangling goto target or unknown reference
// id fails the whole load.
func Load(fsys fs.FS, version string, log logrus.FieldLogger) (*Catalog, error) {
	c := &Catalog{
		version:      version,
		departments:  map[string]Department{},
		severities:   map[string]Severity{},
		symptomIndex: map[string]struct{}{},
		erAdult:      map[string][]ERChecklistItem{},
		erPediatric:  map[string][]ERChecklistItem{},
		trees: map[Source]map[string]*tree{
			SourceOLDCARTS: {},
			SourceOPD:      {},
		},
	}

	steps := []func(fs.FS) error{
		c.loadConstants,
		c.loadDemographics,
		c.loadER,
		c.loadTrees,
	}
	for _, step := range steps {
		if err := step(fsys); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"version":      version,
		"departments":  len(c.departments),
		"symptoms":     len(c.symptoms),
		"oldcarts":     len(c.trees[SourceOLDCARTS]),
		"opd":          len(c.trees[SourceOPD]),
		"demographics": len(c.demographics),
	}).Info("Ruleset loaded")
	return c, nil
}

func invalid(file, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRuleset, file, fmt.Sprintf(format, args...))
}

func decodeFile(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrInvalidRuleset, name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidRuleset, name, err)
	}
	return nil
}

func (c *Catalog) loadConstants(fsys fs.FS) error {
	var departments []Department
	if err := decodeFile(fsys, departmentsFile, &departments); err != nil {
		return err
	}
	for _, d := range departments {
		if d.ID == "" {
			return invalid(departmentsFile, "department without id")
		}
		if _, dup := c.departments[d.ID]; dup {
			return invalid(departmentsFile, "duplicate department %s", d.ID)
		}
		if d.Genders == "" {
			d.Genders = "any"
		}
		c.departments[d.ID] = d
		c.departmentOrder = append(c.departmentOrder, d.ID)
	}

	var severities []Severity
	if err := decodeFile(fsys, severitiesFile, &severities); err != nil {
		return err
	}
	for _, s := range severities {
		if s.ID == "" {
			return invalid(severitiesFile, "severity without id")
		}
		if _, dup := c.severities[s.ID]; dup {
			return invalid(severitiesFile, "duplicate severity %s", s.ID)
		}
		c.severities[s.ID] = s
		c.severityOrder = append(c.severityOrder, s.ID)
	}

	var symptoms []Symptom
	if err := decodeFile(fsys, symptomsFile, &symptoms); err != nil {
		return err
	}
	for _, s := range symptoms {
		if _, dup := c.symptomIndex[s.Name]; dup {
			return invalid(symptomsFile, "duplicate symptom %s", s.Name)
		}
		c.symptomIndex[s.Name] = struct{}{}
		c.symptoms = append(c.symptoms, s)
	}

	return decodeFile(fsys, diseasesFile, &c.diseases)
}

// stringList accepts either a scalar or a sequence.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = []string{node.Value}
		return nil
	}
	var items []string
	if err := node.Decode(&items); err != nil {
		return err
	}
	*l = items
	return nil
}

type rawDemographic struct {
	QID         string    `yaml:"qid"`
	Key         string    `yaml:"key"`
	FieldName   string    `yaml:"field_name"`
	FieldNameTH string    `yaml:"field_name_th"`
	Type        string    `yaml:"type"`
	Values      yaml.Node `yaml:"values"`
	Optional    bool      `yaml:"optional"`
}

func (c *Catalog) loadDemographics(fsys fs.FS) error {
	var raws []rawDemographic
	if err := decodeFile(fsys, demographicFile, &raws); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, raw := range raws {
		if raw.Key == "" || raw.QID == "" {
			return invalid(demographicFile, "field without key or qid")
		}
		if seen[raw.Key] {
			return invalid(demographicFile, "duplicate field %s", raw.Key)
		}
		seen[raw.Key] = true

		field := DemographicField{
			QID:         raw.QID,
			Key:         raw.Key,
			FieldName:   raw.FieldName,
			FieldNameTH: raw.FieldNameTH,
			Type:        raw.Type,
			Optional:    raw.Optional,
		}
		switch raw.Values.Kind {
		case 0:
		case yaml.ScalarNode:
			if raw.Values.Tag != "!!null" {
				field.ValuesSource = raw.Values.Value
			}
		default:
			if err := raw.Values.Decode(&field.Values); err != nil {
				return invalid(demographicFile, "field %s values: %v", raw.Key, err)
			}
		}

		switch field.Type {
		case FieldEnum:
			if len(field.Values) == 0 {
				return invalid(demographicFile, "enum field %s has no values", raw.Key)
			}
		case FieldDatetime, FieldFloat, FieldFromYAML, FieldString:
		default:
			return invalid(demographicFile, "field %s has unknown type %q", raw.Key, field.Type)
		}
		c.demographics = append(c.demographics, field)
	}
	return nil
}

type rawRef struct {
	ID string `yaml:"id"`
}

type rawChecklistItem struct {
	QID         string   `yaml:"qid"`
	Text        string   `yaml:"text"`
	Severity    *rawRef  `yaml:"severity"`
	MinSeverity *rawRef  `yaml:"min_severity"`
	Department  []rawRef `yaml:"department"`
	Reason      string   `yaml:"reason"`
}

func (c *Catalog) loadER(fsys fs.FS) error {
	var critical []ERCriticalItem
	var rawCritical []struct {
		QID    string `yaml:"qid"`
		Text   string `yaml:"text"`
		Reason string `yaml:"reason"`
	}
	if err := decodeFile(fsys, erCriticalFile, &rawCritical); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, raw := range rawCritical {
		if raw.QID == "" || seen[raw.QID] {
			return invalid(erCriticalFile, "missing or duplicate qid %q", raw.QID)
		}
		seen[raw.QID] = true
		critical = append(critical, ERCriticalItem{QID: raw.QID, Text: raw.Text, Reason: raw.Reason})
	}
	c.erCritical = critical

	if err := c.loadChecklist(fsys, erAdultFile, c.erAdult); err != nil {
		return err
	}
	return c.loadChecklist(fsys, erPediatricFile, c.erPediatric)
}

func (c *Catalog) loadChecklist(fsys fs.FS, file string, into map[string][]ERChecklistItem) error {
	var raw map[string][]rawChecklistItem
	if err := decodeFile(fsys, file, &raw); err != nil {
		return err
	}
	for symptom, items := range raw {
		seen := map[string]bool{}
		list := make([]ERChecklistItem, 0, len(items))
		for _, it := range items {
			if it.QID == "" || seen[it.QID] {
				return invalid(file, "%s: missing or duplicate qid %q", symptom, it.QID)
			}
			seen[it.QID] = true
			item := ERChecklistItem{QID: it.QID, Text: it.Text, Reason: it.Reason}
			if it.Severity != nil {
				item.Severity = it.Severity.ID
			}
			if it.MinSeverity != nil {
				item.MinSeverity = it.MinSeverity.ID
			}
			for _, d := range it.Department {
				item.Departments = append(item.Departments, d.ID)
			}
			if err := c.checkRefs(item.Departments, nonEmpty(item.Severity, item.MinSeverity)); err != nil {
				return invalid(file, "%s/%s: %v", symptom, it.QID, err)
			}
			list = append(list, item)
		}
		into[symptom] = list
	}
	return nil
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Catalog) checkRefs(departments, severities []string) error {
	for _, id := range departments {
		if _, ok := c.departments[id]; !ok {
			return fmt.Errorf("unknown department %s", id)
		}
	}
	for _, id := range severities {
		if _, ok := c.severities[id]; !ok {
			return fmt.Errorf("unknown severity %s", id)
		}
	}
	return nil
}

func (c *Catalog) loadTrees(fsys fs.FS) error {
	files := []struct {
		source Source
		file   string
	}{
		{SourceOLDCARTS, oldcartsTreeFile},
		{SourceOPD, opdTreeFile},
	}
	for _, f := range files {
		var raw map[string][]rawQuestion
		if err := decodeFile(fsys, f.file, &raw); err != nil {
			return err
		}
		for symptom, questions := range raw {
			t, err := c.buildTree(questions)
			if err != nil {
				return invalid(f.file, "%s: %v", symptom, err)
			}
			c.trees[f.source][symptom] = t
		}
	}

	// answers share one log per session, so a qid must be unique across the
	// two trees of a symptom
	for symptom, old := range c.trees[SourceOLDCARTS] {
		opd, ok := c.trees[SourceOPD][symptom]
		if !ok {
			continue
		}
		for qid := range opd.questions {
			if _, dup := old.questions[qid]; dup {
				return invalid(opdTreeFile, "%s: qid %s also declared in %s", symptom, qid, oldcartsTreeFile)
			}
		}
	}
	return nil
}

func (c *Catalog) buildTree(raws []rawQuestion) (*tree, error) {
	t := &tree{questions: make(map[string]Question, len(raws))}
	for _, raw := range raws {
		if raw.QID == "" {
			return nil, fmt.Errorf("question without qid")
		}
		if _, dup := t.questions[raw.QID]; dup {
			return nil, fmt.Errorf("duplicate qid %s", raw.QID)
		}
		q, err := c.convertQuestion(raw)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", raw.QID, err)
		}
		t.questions[raw.QID] = q
		t.order = append(t.order, raw.QID)
	}

	for _, qid := range t.order {
		for _, target := range gotoTargets(t.questions[qid]) {
			if _, ok := t.questions[target]; !ok {
				return nil, fmt.Errorf("question %s: goto target %s is not declared", qid, target)
			}
		}
	}
	return t, nil
}

// gotoTargets lists every qid a question can jump to.
func gotoTargets(q Question) []string {
	var actions []Action
	switch v := q.(type) {
	case *FreeText:
		actions = append(actions, v.OnSubmit)
	case *FreeTextWithFields:
		actions = append(actions, v.OnSubmit)
	case *NumberRange:
		actions = append(actions, v.OnSubmit)
	case *SingleSelect:
		for _, o := range v.Options {
			actions = append(actions, o.Action)
		}
	case *ImageSingleSelect:
		for _, o := range v.Options {
			actions = append(actions, o.Action)
		}
	case *MultiSelect:
		actions = append(actions, v.Next)
	case *ImageMultiSelect:
		actions = append(actions, v.Next)
	case *GenderFilter:
		for _, o := range v.Options {
			actions = append(actions, o.Action)
		}
	case *AgeFilter:
		for _, o := range v.Options {
			actions = append(actions, o.Action)
		}
	case *Conditional:
		for _, r := range v.Rules {
			actions = append(actions, r.Then)
		}
		if v.Default != nil {
			actions = append(actions, v.Default)
		}
	}

	var targets []string
	for _, a := range actions {
		if g, ok := a.(*Goto); ok {
			targets = append(targets, g.QIDs...)
		}
	}
	return targets
}
