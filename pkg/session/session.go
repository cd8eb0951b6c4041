package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

// Stage is the pipeline level state layered over the phase number.
type Stage string

const (
	StageRuleBased      Stage = "rule_based"
	StageLLMQuestioning Stage = "llm_questioning"
	StageDone           Stage = "done"
)

const (
	PhaseDemographics = 0
	PhaseERCritical   = 1
	PhaseSymptoms     = 2
	PhaseERChecklist  = 3
	PhaseOLDCARTS     = 4
	PhaseOPD          = 5
)

// Group names a set of columns written together by Repository.Update.
type Group uint16

const (
	GroupDemographics Group = 1 << iota
	GroupSymptoms
	GroupResponses
	GroupERFlags
	GroupPhase
	GroupPending
	GroupStatus
	GroupResult
	GroupStage
	GroupLLM
)

type Response struct {
	Value      any       `json:"value"`
	AnsweredAt time.Time `json:"answered_at"`
}

type Diagnosis struct {
	DiseaseID  string   `json:"disease_id"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Result is the stored outcome. Departments and Severity hold ids.
type Result struct {
	Departments []string    `json:"departments"`
	Severity    string      `json:"severity,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Diagnoses   []Diagnosis `json:"diagnoses"`
}

type LLMAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Session is the mutable pre-screening aggregate. Mutators record which
// column groups changed so the repository writes only those.
type Session struct {
	ID             uuid.UUID
	UserID         string
	SessionID      string
	RulesetVersion string

	Status            Status
	Phase             int
	Demographics      map[string]any
	PrimarySymptom    string
	SecondarySymptoms []string
	Responses         map[string]Response
	ERFlags           map[string]bool
	Pending           []string

	TerminatedAtPhase *int
	TerminationReason string
	Result            *Result

	Stage        Stage
	LLMQuestions []string
	LLMResponses []LLMAnswer

	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	dirty Group
}

func New(userID, sessionID, rulesetVersion string, now time.Time) *Session {
	return &Session{
		ID:             uuid.New(),
		UserID:         userID,
		SessionID:      sessionID,
		RulesetVersion: rulesetVersion,
		Status:         StatusCreated,
		Phase:          PhaseDemographics,
		Demographics:   map[string]any{},
		Responses:      map[string]Response{},
		ERFlags:        map[string]bool{},
		Stage:          StageRuleBased,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Session) Key() string { return s.UserID + "/" + s.SessionID }

func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusTerminated
}

func (s *Session) Dirty() Group { return s.dirty }

func (s *Session) ClearDirty() { s.dirty = 0 }

func (s *Session) mark(g Group) { s.dirty |= g }

func (s *Session) markStarted() {
	if s.Status == StatusCreated {
		s.Status = StatusInProgress
		s.mark(GroupStatus)
	}
}

// Answers flattens the response log to qid -> value.
func (s *Session) Answers() map[string]any {
	out := make(map[string]any, len(s.Responses))
	for qid, r := range s.Responses {
		out[qid] = r.Value
	}
	return out
}

func (s *Session) HasAnswer(qid string) bool {
	_, ok := s.Responses[qid]
	return ok
}

func (s *Session) RecordResponse(qid string, value any, at time.Time) {
	if s.Responses == nil {
		s.Responses = map[string]Response{}
	}
	s.Responses[qid] = Response{Value: value, AnsweredAt: at}
	s.mark(GroupResponses)
	s.markStarted()
}

func (s *Session) RemoveResponses(qids []string) {
	removed := false
	for _, qid := range qids {
		if _, ok := s.Responses[qid]; ok {
			delete(s.Responses, qid)
			removed = true
		}
	}
	if removed {
		s.mark(GroupResponses)
	}
}

func (s *Session) SetDemographics(values map[string]any) {
	s.Demographics = values
	s.mark(GroupDemographics)
	s.markStarted()
}

func (s *Session) SetSymptoms(primary string, secondary []string) {
	s.PrimarySymptom = primary
	s.SecondarySymptoms = secondary
	s.mark(GroupSymptoms)
	s.markStarted()
}

// SelectedSymptoms returns the primary symptom followed by the secondary ones.
func (s *Session) SelectedSymptoms() []string {
	if s.PrimarySymptom == "" {
		return nil
	}
	return append([]string{s.PrimarySymptom}, s.SecondarySymptoms...)
}

func (s *Session) SetERFlags(flags map[string]bool) {
	s.ERFlags = flags
	s.mark(GroupERFlags)
	s.markStarted()
}

func (s *Session) SetPhase(phase int) error {
	if phase < PhaseDemographics || phase > PhaseOPD {
		return fmt.Errorf("%w: phase %d out of range", apperrors.ErrValidation, phase)
	}
	if s.Phase != phase {
		s.Phase = phase
		s.mark(GroupPhase)
	}
	return nil
}

func (s *Session) SetPending(pending []string) {
	s.Pending = pending
	s.mark(GroupPending)
}

// Terminate ends the session early. A terminal session is never reopened.
func (s *Session) Terminate(result Result, now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: session %s is already %s", apperrors.ErrInvalidState, s.Key(), s.Status)
	}
	phase := s.Phase
	s.Status = StatusTerminated
	s.TerminatedAtPhase = &phase
	s.TerminationReason = result.Reason
	s.Result = &result
	s.Pending = nil
	s.UpdatedAt = now
	s.mark(GroupStatus | GroupResult | GroupPending)
	return nil
}

// Complete ends the session after the final phase.
func (s *Session) Complete(result Result, now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: session %s is already %s", apperrors.ErrInvalidState, s.Key(), s.Status)
	}
	s.Status = StatusCompleted
	s.CompletedAt = &now
	s.Result = &result
	s.Pending = nil
	s.mark(GroupStatus | GroupResult | GroupPending)
	return nil
}

// SetResult replaces the outcome of a terminal session.
func (s *Session) SetResult(result Result) {
	s.Result = &result
	s.mark(GroupResult)
}

func (s *Session) SetStage(stage Stage) {
	s.Stage = stage
	s.mark(GroupStage)
}

func (s *Session) SetLLMQuestions(questions []string) {
	s.LLMQuestions = questions
	s.mark(GroupLLM)
}

func (s *Session) SetLLMResponses(answers []LLMAnswer) {
	s.LLMResponses = answers
	s.mark(GroupLLM)
}

// Reset clears the bulk phase data selected by the flags.
func (s *Session) Reset(demographics, symptoms, erFlags bool) {
	if demographics {
		s.Demographics = map[string]any{}
		s.mark(GroupDemographics)
	}
	if symptoms {
		s.PrimarySymptom = ""
		s.SecondarySymptoms = nil
		s.mark(GroupSymptoms)
	}
	if erFlags {
		s.ERFlags = map[string]bool{}
		s.mark(GroupERFlags)
	}
}

// Validate checks the aggregate invariants.
func (s *Session) Validate() error {
	if s.Phase < PhaseDemographics || s.Phase > PhaseOPD {
		return fmt.Errorf("%w: phase %d out of range", apperrors.ErrValidation, s.Phase)
	}
	if s.Status == StatusCompleted && s.Result == nil {
		return fmt.Errorf("%w: completed session without result", apperrors.ErrValidation)
	}
	if s.Status == StatusTerminated && s.TerminatedAtPhase == nil {
		return fmt.Errorf("%w: terminated session without termination phase", apperrors.ErrValidation)
	}
	if len(s.Pending) > 0 && s.Phase < PhaseOLDCARTS {
		return fmt.Errorf("%w: pending queue outside sequential phases", apperrors.ErrValidation)
	}
	return nil
}

// Clone returns a deep copy, dirty state included.
func (s *Session) Clone() *Session {
	c := *s
	c.Demographics = cloneMap(s.Demographics)
	c.SecondarySymptoms = cloneStrings(s.SecondarySymptoms)
	c.Responses = make(map[string]Response, len(s.Responses))
	for k, r := range s.Responses {
		c.Responses[k] = Response{Value: cloneValue(r.Value), AnsweredAt: r.AnsweredAt}
	}
	c.ERFlags = make(map[string]bool, len(s.ERFlags))
	for k, v := range s.ERFlags {
		c.ERFlags[k] = v
	}
	c.Pending = cloneStrings(s.Pending)
	if s.TerminatedAtPhase != nil {
		p := *s.TerminatedAtPhase
		c.TerminatedAtPhase = &p
	}
	if s.Result != nil {
		r := *s.Result
		r.Departments = cloneStrings(s.Result.Departments)
		if s.Result.Diagnoses != nil {
			r.Diagnoses = append([]Diagnosis{}, s.Result.Diagnoses...)
		}
		c.Result = &r
	}
	c.LLMQuestions = cloneStrings(s.LLMQuestions)
	if s.LLMResponses != nil {
		c.LLMResponses = append([]LLMAnswer{}, s.LLMResponses...)
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}
