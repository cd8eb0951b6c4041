package engine

import (
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
)

// Step is what a caller sees after reading or advancing a session.
type Step interface {
	StepType() string
}

const (
	StepQuestions  = "questions"
	StepTerminated = "terminated"
	StepCompleted  = "completed"
)

var phaseNames = map[int]string{
	0: "Demographics",
	1: "ER Critical Screen",
	2: "Symptom Selection",
	3: "ER Checklist",
	4: "OLDCARTS",
	5: "OPD",
}

// PhaseName returns the display name of a phase.
func PhaseName(phase int) string { return phaseNames[phase] }

// Schema is a JSON-schema-like description of an expected answer.
type Schema map[string]any

type OptionPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type FieldPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

type Constraints struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// QuestionPayload is a question flattened for rendering. Routing details
// are never exposed.
type QuestionPayload struct {
	QID          string          `json:"qid"`
	Question     string          `json:"question"`
	QuestionType string          `json:"question_type"`
	Options      []OptionPayload `json:"options,omitempty"`
	Fields       []FieldPayload  `json:"fields,omitempty"`
	Constraints  *Constraints    `json:"constraints,omitempty"`
	Image        string          `json:"image,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	AnswerSchema Schema          `json:"answer_schema,omitempty"`
}

type QuestionsStep struct {
	Type             string            `json:"type"`
	Phase            int               `json:"phase"`
	PhaseName        string            `json:"phase_name"`
	Questions        []QuestionPayload `json:"questions"`
	SubmissionSchema Schema            `json:"submission_schema,omitempty"`
}

func (*QuestionsStep) StepType() string { return StepQuestions }

// TerminationStep reports a finished session. Type is "terminated" for an
// early exit and "completed" otherwise.
type TerminationStep struct {
	Type        string               `json:"type"`
	Phase       int                  `json:"phase"`
	Departments []ruleset.Department `json:"departments"`
	Severity    *ruleset.Severity    `json:"severity"`
	Reason      string               `json:"reason,omitempty"`
}

func (t *TerminationStep) StepType() string { return t.Type }

func questionsStep(phase int, questions []QuestionPayload, schema Schema) *QuestionsStep {
	return &QuestionsStep{
		Type:             StepQuestions,
		Phase:            phase,
		PhaseName:        PhaseName(phase),
		Questions:        questions,
		SubmissionSchema: schema,
	}
}
