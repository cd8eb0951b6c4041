package ruleset

// Kind is the question_type discriminator used in rule documents.
type Kind string

const (
	KindFreeText           Kind = "free_text"
	KindFreeTextWithFields Kind = "free_text_with_fields"
	KindNumberRange        Kind = "number_range"
	KindSingleSelect       Kind = "single_select"
	KindMultiSelect        Kind = "multi_select"
	KindImageSingleSelect  Kind = "image_single_select"
	KindImageMultiSelect   Kind = "image_multi_select"
	KindGenderFilter       Kind = "gender_filter"
	KindAgeFilter          Kind = "age_filter"
	KindConditional        Kind = "conditional"
)

// Question is a node of a decision tree. The concrete types below are the
// only implementations.
type Question interface {
	QID() string
	Prompt() string
	Kind() Kind
	isQuestion()
}

// Header carries the fields every question shares.
type Header struct {
	ID   string
	Text string
}

func (h Header) QID() string    { return h.ID }
func (h Header) Prompt() string { return h.Text }
func (Header) isQuestion()      {}

type Option struct {
	ID    string
	Label string
}

// ActionOption is an option that carries its own action.
type ActionOption struct {
	Option
	Action Action
}

type Field struct {
	ID    string
	Label string
	Kind  string
}

type FreeText struct {
	Header
	OnSubmit Action
}

type FreeTextWithFields struct {
	Header
	Fields   []Field
	OnSubmit Action
}

type NumberRange struct {
	Header
	Min      float64
	Max      float64
	Step     float64
	Default  float64
	OnSubmit Action
}

type SingleSelect struct {
	Header
	Options []ActionOption
}

type MultiSelect struct {
	Header
	Options []Option
	Next    Action
}

type ImageSingleSelect struct {
	Header
	Image   string
	Options []ActionOption
}

type ImageMultiSelect struct {
	Header
	Image   string
	Options []Option
	Next    Action
}

// GenderFilter routes on the patient's gender. Never shown to the patient.
type GenderFilter struct {
	Header
	Options []ActionOption
}

// AgeFilter routes on the patient's age. Never shown to the patient.
type AgeFilter struct {
	Header
	Options []ActionOption
}

// Conditional fires the first rule whose predicates all hold, else Default.
// Default may be nil. Never shown to the patient.
type Conditional struct {
	Header
	Rules   []Rule
	Default Action
}

func (*FreeText) Kind() Kind           { return KindFreeText }
func (*FreeTextWithFields) Kind() Kind { return KindFreeTextWithFields }
func (*NumberRange) Kind() Kind        { return KindNumberRange }
func (*SingleSelect) Kind() Kind       { return KindSingleSelect }
func (*MultiSelect) Kind() Kind        { return KindMultiSelect }
func (*ImageSingleSelect) Kind() Kind  { return KindImageSingleSelect }
func (*ImageMultiSelect) Kind() Kind   { return KindImageMultiSelect }
func (*GenderFilter) Kind() Kind       { return KindGenderFilter }
func (*AgeFilter) Kind() Kind          { return KindAgeFilter }
func (*Conditional) Kind() Kind        { return KindConditional }

// AutoEvaluated reports whether q is resolved internally instead of being
// presented to the patient.
func AutoEvaluated(q Question) bool {
	switch q.(type) {
	case *GenderFilter, *AgeFilter, *Conditional:
		return true
	default:
		return false
	}
}

// OptionIDs returns the option ids of a select question in declared order,
// or nil for kinds without options.
func OptionIDs(q Question) []string {
	var ids []string
	switch v := q.(type) {
	case *SingleSelect:
		for _, o := range v.Options {
			ids = append(ids, o.ID)
		}
	case *ImageSingleSelect:
		for _, o := range v.Options {
			ids = append(ids, o.ID)
		}
	case *MultiSelect:
		for _, o := range v.Options {
			ids = append(ids, o.ID)
		}
	case *ImageMultiSelect:
		for _, o := range v.Options {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
