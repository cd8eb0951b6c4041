// Package prescreen exposes the pre-screening pipeline as an application
// service and HTTP API.
package prescreen

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/engine"
	"github.com/synaptica-ai/prescreen/pkg/observability/metrics"
	"github.com/synaptica-ai/prescreen/pkg/pipeline"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

const publishTimeout = 5 * time.Second

// Service serialises mutations per session, then records metrics and
// lifecycle events for every state change.
type Service struct {
	pipeline *pipeline.Pipeline
	engine   *engine.Engine
	locker   session.Locker
	events   Publisher
	metrics  *metrics.Counters
	log      logrus.FieldLogger
}

func NewService(p *pipeline.Pipeline, locker session.Locker, events Publisher, counters *metrics.Counters, log logrus.FieldLogger) *Service {
	if events == nil {
		events = NoopPublisher{}
	}
	if counters == nil {
		counters = metrics.New()
	}
	return &Service{
		pipeline: p,
		engine:   p.Engine(),
		locker:   locker,
		events:   events,
		metrics:  counters,
		log:      log,
	}
}

func (s *Service) Metrics() *metrics.Counters { return s.metrics }

func (s *Service) Catalog() *ruleset.Catalog { return s.engine.Catalog() }

func (s *Service) CreateSession(ctx context.Context, userID, sessionID, rulesetVersion string) (*session.Session, error) {
	created, err := s.engine.CreateSession(ctx, userID, sessionID, rulesetVersion)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsCreated.Add(1)
	s.publish(ctx, created, EventSessionCreated, map[string]interface{}{"ruleset_version": created.RulesetVersion})
	return created, nil
}

func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	return s.engine.GetSession(ctx, userID, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*session.Session, error) {
	return s.engine.ListSessions(ctx, userID, limit, offset)
}

func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	err := s.locked(ctx, userID, sessionID, func() error {
		return s.engine.DeleteSession(ctx, userID, sessionID)
	})
	if err == nil {
		s.metrics.SessionsDeleted.Add(1)
	}
	return err
}

func (s *Service) CurrentStep(ctx context.Context, userID, sessionID string) (engine.Step, error) {
	return s.pipeline.CurrentStep(ctx, userID, sessionID)
}

func (s *Service) SubmitAnswer(ctx context.Context, userID, sessionID, qid string, value any) (engine.Step, error) {
	var step engine.Step
	err := s.locked(ctx, userID, sessionID, func() (err error) {
		step, err = s.pipeline.SubmitAnswer(ctx, userID, sessionID, qid, value)
		return err
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	s.metrics.AnswersAccepted.Add(1)
	s.observe(ctx, userID, sessionID, step, true)
	return step, nil
}

func (s *Service) SubmitLLMAnswers(ctx context.Context, userID, sessionID string, answers []session.LLMAnswer) (engine.Step, error) {
	var step engine.Step
	err := s.locked(ctx, userID, sessionID, func() (err error) {
		step, err = s.pipeline.SubmitLLMAnswers(ctx, userID, sessionID, answers)
		return err
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	s.observe(ctx, userID, sessionID, step, false)
	return step, nil
}

func (s *Service) BackEdit(ctx context.Context, userID, sessionID string, targetPhase int, targetQID string) (engine.Step, error) {
	var step engine.Step
	err := s.locked(ctx, userID, sessionID, func() (err error) {
		step, err = s.pipeline.BackEdit(ctx, userID, sessionID, targetPhase, targetQID)
		return err
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	s.metrics.BackEdits.Add(1)
	return step, nil
}

func (s *Service) StepBack(ctx context.Context, userID, sessionID string) (engine.Step, error) {
	var step engine.Step
	err := s.locked(ctx, userID, sessionID, func() (err error) {
		step, err = s.pipeline.StepBack(ctx, userID, sessionID)
		return err
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	s.metrics.BackEdits.Add(1)
	return step, nil
}

func (s *Service) History(ctx context.Context, userID, sessionID string) ([]pipeline.QAPair, error) {
	return s.pipeline.HistoryFor(ctx, userID, sessionID)
}

func (s *Service) locked(ctx context.Context, userID, sessionID string, fn func() error) error {
	release, err := s.locker.Lock(ctx, userID+"/"+sessionID)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) countFailure(err error) {
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		s.metrics.Conflicts.Add(1)
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrInvalidState):
		s.metrics.AnswersRejected.Add(1)
	}
}

// observe turns a pipeline transition into counters and events.
// ruleBasedEnd reports whether step may close the rule-based stage.
func (s *Service) observe(ctx context.Context, userID, sessionID string, step engine.Step, ruleBasedEnd bool) {
	var events []string
	data := map[string]interface{}{}

	switch st := step.(type) {
	case *pipeline.LLMQuestionsStep:
		s.metrics.SessionsCompleted.Add(1)
		s.metrics.FollowUpsGenerated.Add(1)
		data["followup_questions"] = len(st.Questions)
		events = append(events, EventSessionCompleted)
	case *pipeline.Result:
		data["departments"] = departmentIDs(st.Departments)
		data["terminated_early"] = st.TerminatedEarly
		data["diagnoses"] = len(st.Diagnoses)
		if st.Severity != nil {
			data["severity"] = st.Severity.ID
		}
		if st.Reason != "" {
			data["reason"] = st.Reason
		}
		if ruleBasedEnd {
			if st.TerminatedEarly {
				s.metrics.SessionsTerminated.Add(1)
				events = append(events, EventSessionTerminated)
			} else {
				s.metrics.SessionsCompleted.Add(1)
				events = append(events, EventSessionCompleted)
			}
		}
		s.metrics.PipelinesDone.Add(1)
		events = append(events, EventPipelineDone)
	default:
		return
	}

	stored, err := s.engine.GetSession(ctx, userID, sessionID)
	if err != nil {
		s.log.WithError(err).WithField("session", userID+"/"+sessionID).Warn("Skipping lifecycle events for unreadable session")
		return
	}
	for _, eventType := range events {
		s.publish(ctx, stored, eventType, data)
	}
}

// publish never fails the caller; errors are logged and counted.
func (s *Service) publish(ctx context.Context, sess *session.Session, eventType string, data map[string]interface{}) {
	payload := map[string]interface{}{
		"id":         sess.ID.String(),
		"user_id":    sess.UserID,
		"session_id": sess.SessionID,
		"status":     sess.Status,
		"phase":      sess.Phase,
		"stage":      sess.Stage,
	}
	for k, v := range data {
		payload[k] = v
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(pubCtx, sess.Key(), eventType, payload); err != nil {
		s.metrics.EventsFailed.Add(1)
		s.log.WithError(err).WithFields(logrus.Fields{"session": sess.Key(), "event_type": eventType}).Warn("Lifecycle event not published")
	}
}

func departmentIDs(ds []ruleset.Department) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}
