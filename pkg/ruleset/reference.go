package ruleset

type Department struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	NameTH      string `json:"name_th" yaml:"name_th"`
	Description string `json:"description" yaml:"description"`
	Genders     string `json:"genders,omitempty" yaml:"genders"`
}

type Severity struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	NameTH      string `json:"name_th" yaml:"name_th"`
	Description string `json:"description" yaml:"description"`
}

type Symptom struct {
	Name   string `json:"name" yaml:"name"`
	NameTH string `json:"name_th" yaml:"name_th"`
}

type UnderlyingDisease struct {
	Name   string `json:"name" yaml:"name"`
	NameTH string `json:"name_th" yaml:"name_th"`
}

// Demographic field types.
const (
	FieldDatetime = "datetime"
	FieldEnum     = "enum"
	FieldFloat    = "float"
	FieldFromYAML = "from_yaml"
	FieldString   = "str"
)

// DemographicField is one phase 0 input. Values holds enum choices; for
// from_yaml fields ValuesSource names the reference file instead.
type DemographicField struct {
	QID          string
	Key          string
	FieldName    string
	FieldNameTH  string
	Type         string
	Values       []string
	ValuesSource string
	Optional     bool
}

type ERCriticalItem struct {
	QID    string
	Text   string
	Reason string
}

// ERChecklistItem is a phase 3 red flag. Pediatric items set Severity,
// adult items set MinSeverity; either may be empty.
type ERChecklistItem struct {
	QID         string
	Text        string
	Severity    string
	MinSeverity string
	Departments []string
	Reason      string
}

// SeverityOrder lists severity ids from least to most urgent.
var SeverityOrder = []string{"sev001", "sev002", "sev002_5", "sev003"}
