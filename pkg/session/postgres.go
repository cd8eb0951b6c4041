package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// PostgresRepository stores sessions in the prescreen_sessions table.
type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type sessionModel struct {
	ID                uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	UserID            string         `gorm:"column:user_id;not null;uniqueIndex:uq_prescreen_user_session;index:ix_prescreen_user_created,priority:1"`
	SessionID         string         `gorm:"column:session_id;not null;uniqueIndex:uq_prescreen_user_session"`
	RulesetVersion    string         `gorm:"column:ruleset_version"`
	Status            string         `gorm:"column:status;not null;index"`
	CurrentPhase      int            `gorm:"column:current_phase;not null;check:chk_prescreen_phase_range,current_phase >= 0 AND current_phase <= 5"`
	Demographics      datatypes.JSON `gorm:"column:demographics"`
	PrimarySymptom    *string        `gorm:"column:primary_symptom"`
	SecondarySymptoms datatypes.JSON `gorm:"column:secondary_symptoms"`
	ERFlags           datatypes.JSON `gorm:"column:er_flags"`
	Responses         datatypes.JSON `gorm:"column:responses"`
	PendingQIDs       datatypes.JSON `gorm:"column:pending_qids"`
	TerminatedAtPhase *int           `gorm:"column:terminated_at_phase;check:chk_prescreen_terminated_phase,status <> 'terminated' OR terminated_at_phase IS NOT NULL"`
	TerminationReason *string        `gorm:"column:termination_reason"`
	Result            datatypes.JSON `gorm:"column:result;check:chk_prescreen_completed_result,status <> 'completed' OR result IS NOT NULL"`
	PipelineStage     string         `gorm:"column:pipeline_stage;not null;default:rule_based"`
	LLMQuestions      datatypes.JSON `gorm:"column:llm_questions"`
	LLMResponses      datatypes.JSON `gorm:"column:llm_responses"`
	Version           int            `gorm:"column:version;not null"`
	CreatedAt         time.Time      `gorm:"column:created_at;index:ix_prescreen_user_created,priority:2,sort:desc"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
	CompletedAt       *time.Time     `gorm:"column:completed_at"`
	DeletedAt         gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (sessionModel) TableName() string { return "prescreen_sessions" }

func (r *PostgresRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&sessionModel{})
}

func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	model, err := toModel(s)
	if err != nil {
		return err
	}
	model.Version = 1
	// soft-deleted rows still own their (user_id, session_id) pair
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %s", apperrors.ErrAlreadyExists, s.Key())
		}
		return err
	}
	s.Version = 1
	s.ClearDirty()
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	var model sessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(userID, sessionID)
		}
		return nil, err
	}
	return fromModel(model)
}

func (r *PostgresRepository) List(ctx context.Context, userID string, limit, offset int) ([]*Session, error) {
	if offset < 0 {
		offset = 0
	}
	var models []sessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(ClampLimit(limit)).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(models))
	for _, m := range models {
		s, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, s *Session) error {
	updates, err := columnsFor(s, s.Dirty())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	updates["updated_at"] = now
	updates["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, s.UserID, s.SessionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: session %s changed since version %d", apperrors.ErrConflict, s.Key(), s.Version)
	}

	s.Version++
	s.UpdatedAt = now
	s.ClearDirty()
	return nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, userID, sessionID string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Delete(&sessionModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(userID, sessionID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func encodeJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON(raw datatypes.JSON, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// columnsFor maps dirty groups to column values.
func columnsFor(s *Session, groups Group) (map[string]interface{}, error) {
	cols := map[string]interface{}{}
	put := func(column string, v any) error {
		encoded, err := encodeJSON(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", column, err)
		}
		if encoded == nil {
			cols[column] = gorm.Expr("NULL")
			return nil
		}
		cols[column] = encoded
		return nil
	}

	var err error
	if groups&GroupDemographics != 0 {
		err = errors.Join(err, put("demographics", s.Demographics))
	}
	if groups&GroupSymptoms != 0 {
		cols["primary_symptom"] = optionalString(s.PrimarySymptom)
		err = errors.Join(err, put("secondary_symptoms", s.SecondarySymptoms))
	}
	if groups&GroupResponses != 0 {
		err = errors.Join(err, put("responses", s.Responses))
	}
	if groups&GroupERFlags != 0 {
		err = errors.Join(err, put("er_flags", s.ERFlags))
	}
	if groups&GroupPhase != 0 {
		cols["current_phase"] = s.Phase
	}
	if groups&GroupPending != 0 {
		err = errors.Join(err, put("pending_qids", s.Pending))
	}
	if groups&GroupStatus != 0 {
		cols["status"] = string(s.Status)
		cols["terminated_at_phase"] = s.TerminatedAtPhase
		cols["termination_reason"] = optionalString(s.TerminationReason)
		cols["completed_at"] = s.CompletedAt
	}
	if groups&GroupResult != 0 {
		if s.Result == nil {
			err = errors.Join(err, put("result", nil))
		} else {
			err = errors.Join(err, put("result", s.Result))
		}
	}
	if groups&GroupStage != 0 {
		cols["pipeline_stage"] = string(s.Stage)
	}
	if groups&GroupLLM != 0 {
		err = errors.Join(err, put("llm_questions", s.LLMQuestions), put("llm_responses", s.LLMResponses))
	}
	return cols, err
}

func toModel(s *Session) (sessionModel, error) {
	m := sessionModel{
		ID:                s.ID,
		UserID:            s.UserID,
		SessionID:         s.SessionID,
		RulesetVersion:    s.RulesetVersion,
		Status:            string(s.Status),
		CurrentPhase:      s.Phase,
		PrimarySymptom:    optionalString(s.PrimarySymptom),
		TerminatedAtPhase: s.TerminatedAtPhase,
		TerminationReason: optionalString(s.TerminationReason),
		PipelineStage:     string(s.Stage),
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		CompletedAt:       s.CompletedAt,
	}

	var err error
	encode := func(dst *datatypes.JSON, v any) {
		if err != nil {
			return
		}
		*dst, err = encodeJSON(v)
	}
	encode(&m.Demographics, s.Demographics)
	encode(&m.SecondarySymptoms, s.SecondarySymptoms)
	encode(&m.ERFlags, s.ERFlags)
	encode(&m.Responses, s.Responses)
	encode(&m.PendingQIDs, s.Pending)
	if s.Result != nil {
		encode(&m.Result, s.Result)
	}
	encode(&m.LLMQuestions, s.LLMQuestions)
	encode(&m.LLMResponses, s.LLMResponses)
	return m, err
}

func fromModel(m sessionModel) (*Session, error) {
	s := &Session{
		ID:                m.ID,
		UserID:            m.UserID,
		SessionID:         m.SessionID,
		RulesetVersion:    m.RulesetVersion,
		Status:            Status(m.Status),
		Phase:             m.CurrentPhase,
		TerminatedAtPhase: m.TerminatedAtPhase,
		Stage:             Stage(m.PipelineStage),
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		CompletedAt:       m.CompletedAt,
		Demographics:      map[string]any{},
		Responses:         map[string]Response{},
		ERFlags:           map[string]bool{},
	}
	if m.PrimarySymptom != nil {
		s.PrimarySymptom = *m.PrimarySymptom
	}
	if m.TerminationReason != nil {
		s.TerminationReason = *m.TerminationReason
	}

	err := errors.Join(
		decodeJSON(m.Demographics, &s.Demographics),
		decodeJSON(m.SecondarySymptoms, &s.SecondarySymptoms),
		decodeJSON(m.ERFlags, &s.ERFlags),
		decodeJSON(m.Responses, &s.Responses),
		decodeJSON(m.PendingQIDs, &s.Pending),
		decodeJSON(m.LLMQuestions, &s.LLMQuestions),
		decodeJSON(m.LLMResponses, &s.LLMResponses),
	)
	if len(m.Result) > 0 && string(m.Result) != "null" {
		var result Result
		err = errors.Join(err, decodeJSON(m.Result, &result))
		s.Result = &result
	}
	if err != nil {
		return nil, fmt.Errorf("decode session %s/%s: %w", m.UserID, m.SessionID, err)
	}
	return s, nil
}
