package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRecordResponseStartsSession(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	if s.Status != StatusCreated {
		t.Fatalf("expected created, got %s", s.Status)
	}
	s.RecordResponse("er_001", false, t0)
	if s.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", s.Status)
	}
	if s.Dirty()&GroupResponses == 0 || s.Dirty()&GroupStatus == 0 {
		t.Fatalf("expected responses and status dirty, got %b", s.Dirty())
	}
}

func TestTerminateIsFinal(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	_ = s.SetPhase(PhaseERCritical)
	s.SetPending([]string{"x"})
	if err := s.Terminate(Result{Departments: []string{"dept002"}, Severity: "sev003", Reason: "r"}, t0); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if s.TerminatedAtPhase == nil || *s.TerminatedAtPhase != PhaseERCritical {
		t.Fatalf("expected terminated at phase 1")
	}
	if len(s.Pending) != 0 {
		t.Fatalf("expected pending cleared")
	}
	if err := s.Complete(Result{}, t0); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSetPhaseRange(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	if err := s.SetPhase(6); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := s.SetPhase(-1); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	s.Status = StatusCompleted
	if err := s.Validate(); err == nil {
		t.Fatalf("expected completed without result to fail")
	}
	s = New("u1", "s1", "v1", t0)
	s.Pending = []string{"hea_o_001"}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected pending in phase 0 to fail")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	s.SetDemographics(map[string]any{"gender": "Male", "nested": map[string]any{"a": 1}})
	s.RecordResponse("q", []any{"a"}, t0)
	s.SetPending([]string{"q2"})

	c := s.Clone()
	c.Demographics["gender"] = "Female"
	c.Demographics["nested"].(map[string]any)["a"] = 2
	c.Responses["q"].Value.([]any)[0] = "b"
	c.Pending[0] = "zz"

	if s.Demographics["gender"] != "Male" || s.Demographics["nested"].(map[string]any)["a"] != 1 {
		t.Fatalf("demographics leaked through clone")
	}
	if s.Responses["q"].Value.([]any)[0] != "a" {
		t.Fatalf("response leaked through clone")
	}
	if s.Pending[0] != "q2" {
		t.Fatalf("pending leaked through clone")
	}
}

func TestReset(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	s.SetDemographics(map[string]any{"gender": "Male"})
	s.SetSymptoms("Headache", []string{"Fever"})
	s.SetERFlags(map[string]bool{"er_001": false})
	s.ClearDirty()

	s.Reset(false, true, true)
	if len(s.Demographics) != 1 {
		t.Fatalf("demographics should survive")
	}
	if s.PrimarySymptom != "" || s.SecondarySymptoms != nil || len(s.ERFlags) != 0 {
		t.Fatalf("symptoms and flags should be cleared")
	}
	if s.Dirty() != GroupSymptoms|GroupERFlags {
		t.Fatalf("unexpected dirty set %b", s.Dirty())
	}
}

func TestSelectedSymptoms(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	if got := s.SelectedSymptoms(); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	s.SetSymptoms("Headache", []string{"Fever", "Dizziness"})
	got := s.SelectedSymptoms()
	if len(got) != 3 || got[0] != "Headache" || got[2] != "Dizziness" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestMemoryRepositoryVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	s := New("u1", "s1", "v1", t0)
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, New("u1", "s1", "v1", t0)); !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	a, _ := repo.Get(ctx, "u1", "s1")
	b, _ := repo.Get(ctx, "u1", "s1")

	a.SetDemographics(map[string]any{"gender": "Male"})
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("update a: %v", err)
	}
	if a.Version != 2 || a.Dirty() != 0 {
		t.Fatalf("expected version 2 and clean, got %d %b", a.Version, a.Dirty())
	}

	b.SetSymptoms("Headache", nil)
	if err := repo.Update(ctx, b); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, _ := repo.Get(ctx, "u1", "s1")
	if got.Demographics["gender"] != "Male" || got.PrimarySymptom != "" {
		t.Fatalf("unexpected stored state %+v", got)
	}
}

func TestMemoryRepositoryWritesOnlyDirtyGroups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := New("u1", "s1", "v1", t0)
	_ = repo.Create(ctx, s)

	s.Demographics = map[string]any{"untracked": true}
	s.SetSymptoms("Fever", nil)
	if err := repo.Update(ctx, s); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := repo.Get(ctx, "u1", "s1")
	if _, ok := got.Demographics["untracked"]; ok {
		t.Fatalf("non-dirty group was written")
	}
	if got.PrimarySymptom != "Fever" {
		t.Fatalf("dirty group not written")
	}
}

func TestMemoryRepositorySoftDeleteAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for i, id := range []string{"a", "b", "c"} {
		_ = repo.Create(ctx, New("u1", id, "v1", t0.Add(time.Duration(i)*time.Minute)))
	}
	_ = repo.Create(ctx, New("u2", "x", "v1", t0))

	list, err := repo.List(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "c" || list[1].SessionID != "b" {
		t.Fatalf("unexpected page %v", ids(list))
	}
	list, _ = repo.List(ctx, "u1", 2, 2)
	if len(list) != 1 || list[0].SessionID != "a" {
		t.Fatalf("unexpected second page %v", ids(list))
	}

	if err := repo.SoftDelete(ctx, "u1", "c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "u1", "c"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := repo.SoftDelete(ctx, "u1", "c"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := repo.Create(ctx, New("u1", "c", "v1", t0)); !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Fatalf("deleted key must stay reserved, got %v", err)
	}
	list, _ = repo.List(ctx, "u1", 0, 0)
	if len(list) != 2 {
		t.Fatalf("expected 2 live sessions, got %d", len(list))
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: DefaultListLimit, -3: DefaultListLimit, 5: 5, 500: MaxListLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestColumnsForDirtyGroups(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	s.SetSymptoms("Headache", []string{"Fever"})
	cols, err := columnsFor(s, s.Dirty())
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if _, ok := cols["secondary_symptoms"]; !ok {
		t.Fatalf("expected secondary_symptoms column")
	}
	if cols["status"] != string(StatusInProgress) {
		t.Fatalf("expected status column, got %v", cols["status"])
	}
	if _, ok := cols["responses"]; ok {
		t.Fatalf("responses should not be written")
	}
}

func TestModelRoundTrip(t *testing.T) {
	s := New("u1", "s1", "v1", t0)
	s.SetDemographics(map[string]any{"gender": "Female"})
	s.SetSymptoms("Fever", nil)
	s.RecordResponse("fev_o_001", 38.5, t0)
	_ = s.SetPhase(PhaseOLDCARTS)
	s.SetPending([]string{"fev_d_001"})

	m, err := toModel(s)
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}
	back, err := fromModel(m)
	if err != nil {
		t.Fatalf("fromModel: %v", err)
	}
	if back.PrimarySymptom != "Fever" || back.Phase != PhaseOLDCARTS || back.Pending[0] != "fev_d_001" {
		t.Fatalf("unexpected session %+v", back)
	}
	if back.Responses["fev_o_001"].Value != 38.5 {
		t.Fatalf("unexpected response %v", back.Responses["fev_o_001"].Value)
	}
	if back.Result != nil {
		t.Fatalf("expected nil result")
	}
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Lock(ctx, "u1/s1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	other, err := l.Lock(ctx, "u1/s2")
	if err != nil {
		t.Fatalf("independent key should lock: %v", err)
	}
	other()

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(timeout, "u1/s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release()
	again, err := l.Lock(ctx, "u1/s1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Fatalf("expected lock table to drain, got %d", len(l.locks))
	}
}

func ids(list []*Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.SessionID
	}
	return out
}
