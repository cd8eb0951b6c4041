package pipeline

import (
	"context"

	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

const (
	SourceRuleBased    = "rule_based"
	SourceLLMGenerated = "llm_generated"

	StepLLMQuestions   = "llm_questions"
	StepPipelineResult = "pipeline_result"
)

// QAPair is one question and its answer in the reconstructed history.
// Phase, QID and QuestionType are empty for generated follow-ups.
type QAPair struct {
	Question     string `json:"question"`
	Answer       any    `json:"answer"`
	Source       string `json:"source"`
	QID          string `json:"qid,omitempty"`
	QuestionType string `json:"question_type,omitempty"`
	Phase        *int   `json:"phase,omitempty"`
}

// Prediction is what a Predictor returns. Departments and Severity are ids.
type Prediction struct {
	Diagnoses   []session.Diagnosis `json:"diagnoses"`
	Departments []string            `json:"departments"`
	Severity    string              `json:"severity"`
}

// QuestionGenerator proposes follow-up questions from the rule-based history.
type QuestionGenerator interface {
	Generate(ctx context.Context, history []QAPair) ([]string, error)
}

// Predictor turns the full history into diagnoses and routing.
type Predictor interface {
	Predict(ctx context.Context, history []QAPair) (Prediction, error)
}

type LLMQuestionsStep struct {
	Type      string   `json:"type"`
	Questions []string `json:"questions"`
}

func (*LLMQuestionsStep) StepType() string { return StepLLMQuestions }

type Result struct {
	Type            string               `json:"type"`
	Departments     []ruleset.Department `json:"departments"`
	Severity        *ruleset.Severity    `json:"severity"`
	Diagnoses       []session.Diagnosis  `json:"diagnoses"`
	Reason          string               `json:"reason,omitempty"`
	TerminatedEarly bool                 `json:"terminated_early"`
}

func (*Result) StepType() string { return StepPipelineResult }
