package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

const completedWithoutTermination = "All phases completed without explicit termination"

func sourceFor(phase int) ruleset.Source {
	if phase == session.PhaseOPD {
		return ruleset.SourceOPD
	}
	return ruleset.SourceOLDCARTS
}

func (e *Engine) submitSequential(s *session.Session, qid string, value any) (Step, error) {
	probe := s.Clone()
	current, err := e.settle(probe, nil)
	if err != nil {
		return nil, err
	}
	presented, ok := current.(*QuestionsStep)
	if !ok || len(presented.Questions) == 0 {
		return nil, fmt.Errorf("%w: no question is awaiting an answer", apperrors.ErrInvalidState)
	}
	presentedQID := presented.Questions[0].QID
	if qid == "" {
		qid = presentedQID
	}
	if qid != presentedQID {
		return nil, fmt.Errorf("%w: answer for %q but %q is the current question", apperrors.ErrValidation, qid, presentedQID)
	}

	// presenting may have moved past an empty tree or seeded the queue
	if err := s.SetPhase(probe.Phase); err != nil {
		return nil, err
	}
	s.SetPending(probe.Pending)

	q, err := e.catalog.Question(sourceFor(s.Phase), s.PrimarySymptom, qid)
	if err != nil {
		return nil, err
	}
	if err := validateAnswer(q, value); err != nil {
		return nil, err
	}
	s.RecordResponse(qid, value, e.clock())

	action := actionFor(q, value)
	if action == nil {
		e.log.WithFields(logrus.Fields{"qid": qid, "session": s.Key()}).Warn("No action for answer, continuing with pending queue")
	}
	return e.settle(s, action)
}

// actionFor derives the action an answer triggers from the question kind.
func actionFor(q ruleset.Question, value any) ruleset.Action {
	switch v := q.(type) {
	case *ruleset.SingleSelect:
		return chosenAction(v.Options, value)
	case *ruleset.ImageSingleSelect:
		return chosenAction(v.Options, value)
	case *ruleset.MultiSelect:
		return v.Next
	case *ruleset.ImageMultiSelect:
		return v.Next
	case *ruleset.FreeText:
		return v.OnSubmit
	case *ruleset.FreeTextWithFields:
		return v.OnSubmit
	case *ruleset.NumberRange:
		return v.OnSubmit
	case *ruleset.GenderFilter:
		return chosenAction(v.Options, value)
	case *ruleset.AgeFilter:
		return chosenAction(v.Options, value)
	case *ruleset.Conditional:
		return nil
	}
	return nil
}

func chosenAction(opts []ruleset.ActionOption, value any) ruleset.Action {
	id, _ := value.(string)
	for _, o := range opts {
		if o.ID == id {
			return o.Action
		}
	}
	return nil
}

// settle resolves action (if any) and then the pending queue until a
// user-facing question or an outcome is reached, recording the resulting
// phase, pending queue and status on s.
func (e *Engine) settle(s *session.Session, action ruleset.Action) (Step, error) {
	demographics := make(map[string]any, len(s.Demographics)+1)
	for k, v := range s.Demographics {
		demographics[k] = v
	}
	if _, ok := demographics["age"]; !ok {
		if age, known := PatientAge(s.Demographics, e.clock()); known {
			demographics["age"] = age
		}
	}
	c := &cursor{
		e:            e,
		s:            s,
		answers:      s.Answers(),
		demographics: demographics,
		visited:      map[string]bool{},
		log:          e.log.WithFields(logrus.Fields{"session": s.Key(), "symptom": s.PrimarySymptom}),
	}
	pending := append([]string(nil), s.Pending...)
	if action == nil && len(pending) == 0 {
		pending = c.seed()
	}
	return c.run(action, pending)
}

type cursor struct {
	e            *Engine
	s            *session.Session
	answers      map[string]any
	demographics map[string]any
	visited      map[string]bool
	steps        int
	log          logrus.FieldLogger
}

func (c *cursor) source() ruleset.Source { return sourceFor(c.s.Phase) }

// seed returns the first question of the current phase's tree, or nil when
// the symptom has no tree there.
func (c *cursor) seed() []string {
	first, err := c.e.catalog.FirstQID(c.source(), c.s.PrimarySymptom)
	if err != nil {
		c.log.WithField("source", c.source()).Warn("No decision tree for symptom, skipping phase")
		return nil
	}
	return []string{first}
}

func (c *cursor) enterOPD() ([]string, error) {
	if err := c.s.SetPhase(session.PhaseOPD); err != nil {
		return nil, err
	}
	return c.seed(), nil
}

func (c *cursor) run(action ruleset.Action, pending []string) (Step, error) {
	for {
		if action != nil {
			switch a := action.(type) {
			case *ruleset.Goto:
				pending = c.enqueue(a.QIDs, pending)
			case *ruleset.OPD:
				if c.s.Phase == session.PhaseOLDCARTS {
					next, err := c.enterOPD()
					if err != nil {
						return nil, err
					}
					pending = next
				} else {
					c.log.Warn("OPD action inside the OPD tree, finishing phase")
					pending = nil
				}
			case *ruleset.Terminate:
				return c.finish(a.Departments, a.Severity(), a.Reason)
			}
			action = nil
		}

		if len(pending) == 0 {
			if c.s.Phase == session.PhaseOLDCARTS {
				next, err := c.enterOPD()
				if err != nil {
					return nil, err
				}
				pending = next
				continue
			}
			return c.finish(nil, "", completedWithoutTermination)
		}

		c.steps++
		if c.steps > c.e.opts.MaxAutoEvalSteps {
			return nil, fmt.Errorf("%w: decision tree did not settle within %d steps", apperrors.ErrInvalidState, c.e.opts.MaxAutoEvalSteps)
		}

		qid := pending[0]
		pending = pending[1:]
		if _, answered := c.answers[qid]; answered {
			continue
		}
		q, err := c.e.catalog.Question(c.source(), c.s.PrimarySymptom, qid)
		if err != nil {
			c.log.WithFields(logrus.Fields{"qid": qid, "source": c.source()}).Warn("Unknown qid in pending queue, skipping")
			continue
		}

		if ruleset.AutoEvaluated(q) {
			if c.visited[qid] {
				c.log.WithField("qid", qid).Warn("Auto-evaluated question revisited, skipping")
				continue
			}
			c.visited[qid] = true
			action = c.e.evaluator.Evaluate(q, c.answers, c.demographics)
			if action == nil {
				c.log.WithFields(logrus.Fields{"qid": qid, "question_type": q.Kind()}).Warn("Auto-evaluation matched nothing, skipping")
			}
			continue
		}

		// the presented qid stays at the front until it is answered
		c.s.SetPending(append([]string{qid}, pending...))
		payload := questionPayload(q)
		return questionsStep(c.s.Phase, []QuestionPayload{payload}, payload.AnswerSchema), nil
	}
}

// enqueue puts targets at the front of pending, in order, skipping those
// already answered or queued.
func (c *cursor) enqueue(targets, pending []string) []string {
	queued := make(map[string]bool, len(pending))
	for _, qid := range pending {
		queued[qid] = true
	}
	var front []string
	for _, qid := range targets {
		if _, answered := c.answers[qid]; answered || queued[qid] {
			continue
		}
		queued[qid] = true
		front = append(front, qid)
	}
	return append(front, pending...)
}

// finish ends the session: terminated before the OPD phase, completed at it.
func (c *cursor) finish(departments []string, severity, reason string) (Step, error) {
	if c.s.Phase < session.PhaseOPD {
		return c.e.terminate(c.s, departments, severity, reason)
	}
	return c.e.complete(c.s, departments, severity, reason)
}
