package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"schoolhub/internal/app/apiresp"
	"schoolhub/internal/app/validate"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc authoringService
}

type authoringService interface {
	CreateQuiz(ctx context.Context, in CreateQuizInput) (*Quiz, error)
	ListQuizzes(ctx context.Context, subjectID int64, includeInactive bool) ([]Quiz, error)
	GetQuiz(ctx context.Context, quizID int64) (*Quiz, error)
	UpdateQuiz(ctx context.Context, in UpdateQuizInput) (*Quiz, error)
	DeactivateQuiz(ctx context.Context, quizID int64) error
	AddQuestion(ctx context.Context, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, quizID, questionID int64) error
	ReorderQuestions(ctx context.Context, quizID int64, orderedIDs []int64) error
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createQuizRequest struct {
	Title            string `json:"title" validate:"required,min=3,max=200"`
	SubjectID        int64  `json:"subject_id" validate:"required,gt=0"`
	TimeLimitSeconds int    `json:"time_limit_seconds" validate:"omitempty,gte=5,lte=600"`
}

type updateQuizRequest struct {
	Title            string `json:"title" validate:"required,min=3,max=200"`
	SubjectID        int64  `json:"subject_id" validate:"required,gt=0"`
	TimeLimitSeconds int    `json:"time_limit_seconds" validate:"required,gte=5,lte=600"`
	IsActive         bool   `json:"is_active"`
}

type optionRequest struct {
	Text      string `json:"text" validate:"required,min=1,max=500"`
	IsCorrect bool   `json:"is_correct"`
}

type questionRequest struct {
	Text    string          `json:"text" validate:"required,min=3"`
	Points  int             `json:"points" validate:"omitempty,gte=1,lte=100"`
	Options []optionRequest `json:"options" validate:"required,min=2,max=10,dive"`
}

func NewHandler(svc authoringService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	quiz, err := h.svc.CreateQuiz(r.Context(), CreateQuizInput{
		Title:            req.Title,
		SubjectID:        req.SubjectID,
		TimeLimitSeconds: req.TimeLimitSeconds,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: quiz})
}

func (h *Handler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	var subjectID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("subject_id")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid subject_id"})
			return
		}
		subjectID = v
	}
	includeInactive := r.URL.Query().Get("include_inactive") == "1"

	items, err := h.svc.ListQuizzes(r.Context(), subjectID, includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}
	quiz, err := h.svc.GetQuiz(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: quiz})
}

func (h *Handler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}

	var req updateQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	quiz, err := h.svc.UpdateQuiz(r.Context(), UpdateQuizInput{
		ID:               quizID,
		Title:            req.Title,
		SubjectID:        req.SubjectID,
		TimeLimitSeconds: req.TimeLimitSeconds,
		IsActive:         req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: quiz})
}

func (h *Handler) DeactivateQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}
	if err := h.svc.DeactivateQuiz(r.Context(), quizID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	question, err := h.svc.AddQuestion(r.Context(), QuestionInput{
		QuizID:  quizID,
		Text:    req.Text,
		Points:  req.Points,
		Options: toOptionInputs(req.Options),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: question})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}
	questionID, ok := parseIDParam(w, r, "questionID")
	if !ok {
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	question, err := h.svc.UpdateQuestion(r.Context(), UpdateQuestionInput{
		QuizID:     quizID,
		QuestionID: questionID,
		Text:       req.Text,
		Points:     req.Points,
		Options:    toOptionInputs(req.Options),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: question})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}
	questionID, ok := parseIDParam(w, r, "questionID")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), quizID, questionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

type reorderRequest struct {
	QuestionIDs []int64 `json:"question_ids" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) ReorderQuestions(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	if err := h.svc.ReorderQuestions(r.Context(), quizID, req.QuestionIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrAnswerKeyShape):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSubjectNotFound), errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrQuestionNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuizLocked):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

func toOptionInputs(in []optionRequest) []OptionInput {
	out := make([]OptionInput, 0, len(in))
	for _, opt := range in {
		out = append(out, OptionInput{Text: opt.Text, IsCorrect: opt.IsCorrect})
	}
	return out
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
