// Package pipeline layers follow-up questioning and prediction over the
// rule-based engine: rule_based -> llm_questioning -> done.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/engine"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

// Pipeline drives a session through its macro-stages. Generator and
// predictor are optional: without a generator the questioning stage is
// skipped, without a predictor results carry no diagnoses.
type Pipeline struct {
	engine    *engine.Engine
	repo      session.Repository
	generator QuestionGenerator
	predictor Predictor
	log       logrus.FieldLogger
}

func New(eng *engine.Engine, generator QuestionGenerator, predictor Predictor, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		engine:    eng,
		repo:      eng.Repository(),
		generator: generator,
		predictor: predictor,
		log:       log,
	}
}

func (p *Pipeline) Engine() *engine.Engine { return p.engine }

func stageError(op string, want, got session.Stage) error {
	return fmt.Errorf("%w: %s is only valid during %s stage, session is in %s", apperrors.ErrInvalidState, op, want, got)
}

// CurrentStep returns the step for the session's macro-stage without
// writing anything.
func (p *Pipeline) CurrentStep(ctx context.Context, userID, sessionID string) (engine.Step, error) {
	s, err := p.repo.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return p.Step(s)
}

func (p *Pipeline) Step(s *session.Session) (engine.Step, error) {
	switch s.Stage {
	case session.StageRuleBased:
		return p.engine.Step(s)
	case session.StageLLMQuestioning:
		return &LLMQuestionsStep{Type: StepLLMQuestions, Questions: nonNil(s.LLMQuestions)}, nil
	case session.StageDone:
		return p.result(s), nil
	default:
		return nil, fmt.Errorf("%w: unknown pipeline stage %q", apperrors.ErrInvalidState, s.Stage)
	}
}

// SubmitAnswer forwards a rule-based answer to the engine and, when the
// engine reports an outcome, hands the session to the next stage.
func (p *Pipeline) SubmitAnswer(ctx context.Context, userID, sessionID, qid string, value any) (engine.Step, error) {
	return p.mutate(ctx, userID, sessionID, func(s *session.Session) (engine.Step, error) {
		if s.Stage != session.StageRuleBased {
			return nil, stageError("submit_answer", session.StageRuleBased, s.Stage)
		}
		step, err := p.engine.Submit(s, qid, value)
		if err != nil {
			return nil, err
		}
		if _, ok := step.(*engine.TerminationStep); !ok {
			return step, nil
		}
		return p.ruleBasedEnd(ctx, s)
	})
}

// BackEdit rewinds a session that is still in the rule-based stage.
func (p *Pipeline) BackEdit(ctx context.Context, userID, sessionID string, targetPhase int, targetQID string) (engine.Step, error) {
	return p.mutate(ctx, userID, sessionID, func(s *session.Session) (engine.Step, error) {
		if s.Stage != session.StageRuleBased {
			return nil, stageError("back_edit", session.StageRuleBased, s.Stage)
		}
		return p.engine.Revert(s, targetPhase, targetQID)
	})
}

func (p *Pipeline) StepBack(ctx context.Context, userID, sessionID string) (engine.Step, error) {
	return p.mutate(ctx, userID, sessionID, func(s *session.Session) (engine.Step, error) {
		if s.Stage != session.StageRuleBased {
			return nil, stageError("step_back", session.StageRuleBased, s.Stage)
		}
		return p.engine.Back(s)
	})
}

// SubmitLLMAnswers records the follow-up answers, runs prediction over the
// combined history and finishes the session.
func (p *Pipeline) SubmitLLMAnswers(ctx context.Context, userID, sessionID string, answers []session.LLMAnswer) (engine.Step, error) {
	return p.mutate(ctx, userID, sessionID, func(s *session.Session) (engine.Step, error) {
		if s.Stage != session.StageLLMQuestioning {
			return nil, stageError("submit_llm_answers", session.StageLLMQuestioning, s.Stage)
		}
		for i, a := range answers {
			if a.Question == "" {
				return nil, fmt.Errorf("%w: answers[%d].question is required", apperrors.ErrValidation, i)
			}
		}
		s.SetLLMResponses(append([]session.LLMAnswer{}, answers...))
		if err := p.finalize(ctx, s, p.FullHistory(s)); err != nil {
			return nil, err
		}
		s.SetStage(session.StageDone)
		p.log.WithFields(logrus.Fields{"session": s.Key(), "answers": len(answers)}).Info("Follow-up answers recorded")
		return p.result(s), nil
	})
}

// HistoryFor loads a session and returns its question/answer history.
func (p *Pipeline) HistoryFor(ctx context.Context, userID, sessionID string) ([]QAPair, error) {
	s, err := p.repo.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return p.FullHistory(s), nil
}

func (p *Pipeline) mutate(ctx context.Context, userID, sessionID string, fn func(*session.Session) (engine.Step, error)) (engine.Step, error) {
	s, err := p.repo.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	step, err := fn(s)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := p.repo.Update(ctx, s); err != nil {
		return nil, err
	}
	return step, nil
}

func (p *Pipeline) ruleBasedEnd(ctx context.Context, s *session.Session) (engine.Step, error) {
	fields := logrus.Fields{"session": s.Key(), "status": s.Status}

	if s.Status == session.StatusTerminated {
		result := p.storedResult(s)
		result.Diagnoses = []session.Diagnosis{}
		s.SetResult(result)
		s.SetStage(session.StageDone)
		p.log.WithFields(fields).Info("Pipeline finished after early termination")
		return p.result(s), nil
	}

	history := p.History(s)
	if p.generator != nil {
		questions, err := p.generator.Generate(ctx, history)
		if err != nil {
			return nil, fmt.Errorf("generate follow-up questions: %w", err)
		}
		if len(questions) > 0 {
			s.SetLLMQuestions(questions)
			s.SetStage(session.StageLLMQuestioning)
			p.log.WithFields(fields).WithField("questions", len(questions)).Info("Follow-up questions generated")
			return &LLMQuestionsStep{Type: StepLLMQuestions, Questions: questions}, nil
		}
	}

	if err := p.finalize(ctx, s, history); err != nil {
		return nil, err
	}
	s.SetStage(session.StageDone)
	p.log.WithFields(fields).Info("Pipeline finished")
	return p.result(s), nil
}

// finalize merges a prediction into the stored result. Diagnoses are
// always replaced; departments and severity only fill gaps.
func (p *Pipeline) finalize(ctx context.Context, s *session.Session, history []QAPair) error {
	result := p.storedResult(s)
	if p.predictor == nil {
		if result.Diagnoses == nil {
			result.Diagnoses = []session.Diagnosis{}
		}
		s.SetResult(result)
		return nil
	}

	prediction, err := p.predictor.Predict(ctx, history)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	result.Diagnoses = append([]session.Diagnosis{}, prediction.Diagnoses...)
	if len(result.Departments) == 0 && len(prediction.Departments) > 0 {
		result.Departments = append([]string{}, prediction.Departments...)
	}
	if result.Severity == "" && prediction.Severity != "" {
		result.Severity = prediction.Severity
	}
	s.SetResult(result)
	return nil
}

func (p *Pipeline) storedResult(s *session.Session) session.Result {
	if s.Result == nil {
		return session.Result{}
	}
	return *s.Result
}

func (p *Pipeline) result(s *session.Session) *Result {
	stored := p.storedResult(s)
	out := &Result{
		Type:            StepPipelineResult,
		Departments:     p.engine.ResolveDepartments(stored.Departments),
		Diagnoses:       stored.Diagnoses,
		Reason:          stored.Reason,
		TerminatedEarly: s.Status == session.StatusTerminated,
	}
	if out.Diagnoses == nil {
		out.Diagnoses = []session.Diagnosis{}
	}
	if out.Reason == "" {
		out.Reason = s.TerminationReason
	}
	if stored.Severity != "" {
		out.Severity = p.engine.ResolveSeverity(stored.Severity)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
