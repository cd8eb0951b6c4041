package prescreen

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/apperrors"
	"github.com/synaptica-ai/prescreen/pkg/gateway/middleware"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

type Handler struct {
	service *Service
	log     logrus.FieldLogger
}

func NewHandler(service *Service, log logrus.FieldLogger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes builds the service router: probes, metrics and the API under
// /api/v1.
func (h *Handler) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "ruleset_version": h.service.Catalog().Version()})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", h.service.Metrics().Handler()).Methods(http.MethodGet)

	h.Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

// Register mounts the API under r. Session routes require X-User-ID.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/departments", h.handleDepartments).Methods(http.MethodGet)
	r.HandleFunc("/severity-levels", h.handleSeverities).Methods(http.MethodGet)
	r.HandleFunc("/symptoms", h.handleSymptoms).Methods(http.MethodGet)
	r.HandleFunc("/underlying-diseases", h.handleUnderlyingDiseases).Methods(http.MethodGet)

	s := r.PathPrefix("/sessions").Subrouter()
	s.Use(middleware.Identify)
	s.HandleFunc("", h.handleCreateSession).Methods(http.MethodPost)
	s.HandleFunc("", h.handleListSessions).Methods(http.MethodGet)
	s.HandleFunc("/{id}", h.handleGetSession).Methods(http.MethodGet)
	s.HandleFunc("/{id}", h.handleDeleteSession).Methods(http.MethodDelete)
	s.HandleFunc("/{id}/step", h.handleCurrentStep).Methods(http.MethodGet)
	s.HandleFunc("/{id}/step", h.handleSubmitAnswer).Methods(http.MethodPost)
	s.HandleFunc("/{id}/back-edit", h.handleBackEdit).Methods(http.MethodPost)
	s.HandleFunc("/{id}/step-back", h.handleStepBack).Methods(http.MethodPost)
	s.HandleFunc("/{id}/llm-answers", h.handleLLMAnswers).Methods(http.MethodPost)
	s.HandleFunc("/{id}/history", h.handleHistory).Methods(http.MethodGet)
}

type sessionView struct {
	UserID         string     `json:"user_id"`
	SessionID      string     `json:"session_id"`
	RulesetVersion string     `json:"ruleset_version"`
	Status         string     `json:"status"`
	CurrentPhase   int        `json:"current_phase"`
	PipelineStage  string     `json:"pipeline_stage"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		UserID:         s.UserID,
		SessionID:      s.SessionID,
		RulesetVersion: s.RulesetVersion,
		Status:         string(s.Status),
		CurrentPhase:   s.Phase,
		PipelineStage:  string(s.Stage),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		CompletedAt:    s.CompletedAt,
	}
}

type createSessionRequest struct {
	SessionID      string `json:"session_id"`
	RulesetVersion string `json:"ruleset_version"`
}

type submitAnswerRequest struct {
	QID   string `json:"qid"`
	Value any    `json:"value"`
}

type backEditRequest struct {
	TargetPhase *int   `json:"target_phase"`
	TargetQID   string `json:"target_qid"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		h.writeDetail(w, http.StatusBadRequest, "session_id is required")
		return
	}
	created, err := h.service.CreateSession(r.Context(), middleware.UserFrom(r.Context()), req.SessionID, req.RulesetVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(created))
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit", session.DefaultListLimit)
	if !ok {
		return
	}
	offset, ok := h.queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	sessions, err := h.service.ListSessions(r.Context(), middleware.UserFrom(r.Context()), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetSession(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSession(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrentStep(w http.ResponseWriter, r *http.Request) {
	step, err := h.service.CurrentStep(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	step, err := h.service.SubmitAnswer(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"], req.QID, req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *Handler) handleBackEdit(w http.ResponseWriter, r *http.Request) {
	var req backEditRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TargetPhase == nil {
		h.writeDetail(w, http.StatusBadRequest, "target_phase is required")
		return
	}
	step, err := h.service.BackEdit(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"], *req.TargetPhase, req.TargetQID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *Handler) handleStepBack(w http.ResponseWriter, r *http.Request) {
	step, err := h.service.StepBack(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *Handler) handleLLMAnswers(w http.ResponseWriter, r *http.Request) {
	var answers []session.LLMAnswer
	if !h.decode(w, r, &answers) {
		return
	}
	step, err := h.service.SubmitLLMAnswers(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"], answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), middleware.UserFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": history, "count": len(history)})
}

func (h *Handler) handleDepartments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Catalog().Departments())
}

func (h *Handler) handleSeverities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Catalog().Severities())
}

func (h *Handler) handleSymptoms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Catalog().Symptoms())
}

func (h *Handler) handleUnderlyingDiseases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Catalog().UnderlyingDiseases())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		h.writeDetail(w, http.StatusBadRequest, key+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

// statusFor maps error kinds to HTTP statuses and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return http.StatusConflict, "Resource already exists"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "Session was modified concurrently, retry"
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusBadRequest, "Invalid request"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.RequestIDFrom(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	h.writeDetail(w, status, detail)
}

func (h *Handler) writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
