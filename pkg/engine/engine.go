// Package engine runs the six-phase pre-screening state machine. Every call
// works on a session snapshot: nothing is kept between calls.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/evaluator"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

type Options struct {
	DefaultERSeverity     string
	DefaultERDepartment   string
	PediatricAgeThreshold int
	MaxAutoEvalSteps      int
}

func DefaultOptions() Options {
	return Options{
		DefaultERSeverity:     "sev003",
		DefaultERDepartment:   "dept002",
		PediatricAgeThreshold: 15,
		MaxAutoEvalSteps:      200,
	}
}

type Engine struct {
	catalog   *ruleset.Catalog
	evaluator *evaluator.Evaluator
	repo      session.Repository
	opts      Options
	log       logrus.FieldLogger
	now       func() time.Time
}

func New(catalog *ruleset.Catalog, eval *evaluator.Evaluator, repo session.Repository, opts Options, log logrus.FieldLogger) *Engine {
	defaults := DefaultOptions()
	if opts.DefaultERSeverity == "" {
		opts.DefaultERSeverity = defaults.DefaultERSeverity
	}
	if opts.DefaultERDepartment == "" {
		opts.DefaultERDepartment = defaults.DefaultERDepartment
	}
	if opts.PediatricAgeThreshold <= 0 {
		opts.PediatricAgeThreshold = defaults.PediatricAgeThreshold
	}
	if opts.MaxAutoEvalSteps <= 0 {
		opts.MaxAutoEvalSteps = defaults.MaxAutoEvalSteps
	}
	return &Engine{
		catalog:   catalog,
		evaluator: eval,
		repo:      repo,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) Catalog() *ruleset.Catalog { return e.catalog }

func (e *Engine) Repository() session.Repository { return e.repo }

func (e *Engine) clock() time.Time { return e.now().UTC() }

// CreateSession starts a session at phase 0. An empty version selects the
// loaded ruleset's version.
func (e *Engine) CreateSession(ctx context.Context, userID, sessionID, rulesetVersion string) (*session.Session, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: user_id and session_id are required", apperrors.ErrValidation)
	}
	if rulesetVersion == "" {
		rulesetVersion = e.catalog.Version()
	}
	s := session.New(userID, sessionID, rulesetVersion, e.clock())
	if err := e.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"user_id": userID, "session_id": sessionID}).Info("Session created")
	return s, nil
}

func (e *Engine) GetSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	return e.repo.Get(ctx, userID, sessionID)
}

func (e *Engine) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*session.Session, error) {
	return e.repo.List(ctx, userID, limit, offset)
}

func (e *Engine) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return e.repo.SoftDelete(ctx, userID, sessionID)
}

// CurrentStep loads a session and computes its step without writing.
func (e *Engine) CurrentStep(ctx context.Context, userID, sessionID string) (Step, error) {
	s, err := e.repo.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return e.Step(s)
}

// SubmitAnswer loads, advances and persists a session in one unit.
func (e *Engine) SubmitAnswer(ctx context.Context, userID, sessionID, qid string, value any) (Step, error) {
	return e.mutate(ctx, userID, sessionID, func(s *session.Session) (Step, error) {
		return e.Submit(s, qid, value)
	})
}

func (e *Engine) BackEdit(ctx context.Context, userID, sessionID string, targetPhase int, targetQID string) (Step, error) {
	return e.mutate(ctx, userID, sessionID, func(s *session.Session) (Step, error) {
		return e.Revert(s, targetPhase, targetQID)
	})
}

func (e *Engine) StepBack(ctx context.Context, userID, sessionID string) (Step, error) {
	return e.mutate(ctx, userID, sessionID, e.Back)
}

func (e *Engine) mutate(ctx context.Context, userID, sessionID string, fn func(*session.Session) (Step, error)) (Step, error) {
	s, err := e.repo.Get(ctx, userID, sessionID)
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
	if err := e.repo.Update(ctx, s); err != nil {
		return nil, err
	}
	return step, nil
}

// Step computes what to present for s. s is not modified.
func (e *Engine) Step(s *session.Session) (Step, error) {
	if s.IsTerminal() {
		return e.TerminationStep(s), nil
	}
	switch s.Phase {
	case session.PhaseDemographics:
		return e.demographicsStep(), nil
	case session.PhaseERCritical:
		return e.erCriticalStep(), nil
	case session.PhaseSymptoms:
		return e.symptomStep(), nil
	case session.PhaseERChecklist:
		return e.checklistStep(e.Checklist(s)), nil
	case session.PhaseOLDCARTS, session.PhaseOPD:
		return e.settle(s.Clone(), nil)
	default:
		return nil, fmt.Errorf("%w: phase %d", apperrors.ErrInvalidState, s.Phase)
	}
}

// Submit applies one answer to s and returns the next step. For bulk
// phases qid is ignored; for sequential phases it defaults to the
// presented question.
func (e *Engine) Submit(s *session.Session, qid string, value any) (Step, error) {
	if s.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", apperrors.ErrInvalidState, s.Key(), s.Status)
	}
	switch s.Phase {
	case session.PhaseDemographics:
		return e.submitDemographics(s, value)
	case session.PhaseERCritical:
		return e.submitERCritical(s, value)
	case session.PhaseSymptoms:
		return e.submitSymptoms(s, value)
	case session.PhaseERChecklist:
		return e.submitERChecklist(s, value)
	case session.PhaseOLDCARTS, session.PhaseOPD:
		return e.submitSequential(s, qid, value)
	default:
		return nil, fmt.Errorf("%w: phase %d", apperrors.ErrInvalidState, s.Phase)
	}
}

// TerminationStep replays the stored outcome of a terminal session.
func (e *Engine) TerminationStep(s *session.Session) *TerminationStep {
	step := &TerminationStep{Type: StepCompleted, Phase: s.Phase, Departments: []ruleset.Department{}}
	if s.Status == session.StatusTerminated {
		step.Type = StepTerminated
		if s.TerminatedAtPhase != nil {
			step.Phase = *s.TerminatedAtPhase
		}
	}
	step.Reason = s.TerminationReason
	if s.Result != nil {
		step.Departments = e.ResolveDepartments(s.Result.Departments)
		step.Severity = e.ResolveSeverity(s.Result.Severity)
		if s.Result.Reason != "" {
			step.Reason = s.Result.Reason
		}
	}
	return step
}

// ResolveDepartments maps ids to display records. Unknown ids resolve to a
// record carrying only the id.
func (e *Engine) ResolveDepartments(ids []string) []ruleset.Department {
	out := make([]ruleset.Department, 0, len(ids))
	for _, id := range ids {
		d, err := e.catalog.Department(id)
		if err != nil {
			e.log.WithField("department", id).Warn("Unknown department id in result")
			d = ruleset.Department{ID: id}
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) ResolveSeverity(id string) *ruleset.Severity {
	if id == "" {
		return nil
	}
	sev, err := e.catalog.Severity(id)
	if err != nil {
		e.log.WithField("severity", id).Warn("Unknown severity id in result")
		sev = ruleset.Severity{ID: id}
	}
	return &sev
}

func (e *Engine) terminate(s *session.Session, departments []string, severity, reason string) (*TerminationStep, error) {
	result := session.Result{Departments: nonNil(departments), Severity: severity, Reason: reason}
	if err := s.Terminate(result, e.clock()); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"session": s.Key(),
		"phase":   s.Phase,
		"reason":  reason,
	}).Info("Session terminated")
	return e.TerminationStep(s), nil
}

func (e *Engine) complete(s *session.Session, departments []string, severity, reason string) (*TerminationStep, error) {
	result := session.Result{Departments: nonNil(departments), Severity: severity, Reason: reason}
	if err := s.Complete(result, e.clock()); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"session": s.Key(), "phase": s.Phase}).Info("Session completed")
	return e.TerminationStep(s), nil
}
