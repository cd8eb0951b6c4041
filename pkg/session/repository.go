package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
)

// Repository persists sessions. Update writes only the session's dirty
// groups and fails with apperrors.ErrConflict when the stored version no
// longer matches s.Version. On success s.Version is bumped and the dirty
// set cleared.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, userID, sessionID string) (*Session, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*Session, error)
	Update(ctx context.Context, s *Session) error
	SoftDelete(ctx context.Context, userID, sessionID string) error
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit bounds a page size to [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func notFound(userID, sessionID string) error {
	return fmt.Errorf("%w: session %s/%s", apperrors.ErrNotFound, userID, sessionID)
}

type memoryEntry struct {
	session *Session
	deleted bool
}

// MemoryRepository keeps sessions in process. Used by tests and by
// STORAGE_BACKEND=memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: map[string]*memoryEntry{}, now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.Key()]; exists {
		return fmt.Errorf("%w: session %s", apperrors.ErrAlreadyExists, s.Key())
	}
	s.Version = 1
	s.ClearDirty()
	r.sessions[s.Key()] = &memoryEntry{session: s.Clone()}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userID, sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sessions[userID+"/"+sessionID]
	if !ok || entry.deleted {
		return nil, notFound(userID, sessionID)
	}
	return entry.session.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, userID string, limit, offset int) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, entry := range r.sessions {
		if entry.deleted || entry.session.UserID != userID {
			continue
		}
		out = append(out, entry.session.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []*Session{}, nil
	}
	out = out[offset:]
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[s.Key()]
	if !ok || entry.deleted {
		return notFound(s.UserID, s.SessionID)
	}
	if entry.session.Version != s.Version {
		return fmt.Errorf("%w: session %s at version %d, have %d", apperrors.ErrConflict, s.Key(), entry.session.Version, s.Version)
	}

	s.UpdatedAt = r.now().UTC()
	stored := entry.session
	applyGroups(stored, s.Clone(), s.Dirty())
	stored.Version++
	stored.UpdatedAt = s.UpdatedAt

	s.Version = stored.Version
	s.ClearDirty()
	return nil
}

func (r *MemoryRepository) SoftDelete(_ context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[userID+"/"+sessionID]
	if !ok || entry.deleted {
		return notFound(userID, sessionID)
	}
	entry.deleted = true
	return nil
}

// applyGroups copies the selected groups from src into dst.
func applyGroups(dst, src *Session, groups Group) {
	if groups&GroupDemographics != 0 {
		dst.Demographics = src.Demographics
	}
	if groups&GroupSymptoms != 0 {
		dst.PrimarySymptom = src.PrimarySymptom
		dst.SecondarySymptoms = src.SecondarySymptoms
	}
	if groups&GroupResponses != 0 {
		dst.Responses = src.Responses
	}
	if groups&GroupERFlags != 0 {
		dst.ERFlags = src.ERFlags
	}
	if groups&GroupPhase != 0 {
		dst.Phase = src.Phase
	}
	if groups&GroupPending != 0 {
		dst.Pending = src.Pending
	}
	if groups&GroupStatus != 0 {
		dst.Status = src.Status
		dst.TerminatedAtPhase = src.TerminatedAtPhase
		dst.TerminationReason = src.TerminationReason
		dst.CompletedAt = src.CompletedAt
	}
	if groups&GroupResult != 0 {
		dst.Result = src.Result
	}
	if groups&GroupStage != 0 {
		dst.Stage = src.Stage
	}
	if groups&GroupLLM != 0 {
		dst.LLMQuestions = src.LLMQuestions
		dst.LLMResponses = src.LLMResponses
	}
}
