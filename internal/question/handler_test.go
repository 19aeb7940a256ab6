package question

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type mockAuthoringService struct {
	createQuizFn     func(ctx context.Context, in CreateQuizInput) (*Quiz, error)
	listQuizzesFn    func(ctx context.Context, subjectID int64, includeInactive bool) ([]Quiz, error)
	getQuizFn        func(ctx context.Context, quizID int64) (*Quiz, error)
	updateQuizFn     func(ctx context.Context, in UpdateQuizInput) (*Quiz, error)
	deactivateFn     func(ctx context.Context, quizID int64) error
	addQuestionFn    func(ctx context.Context, in QuestionInput) (*Question, error)
	updateQuestionFn func(ctx context.Context, in UpdateQuestionInput) (*Question, error)
	deleteQuestionFn func(ctx context.Context, quizID, questionID int64) error
	reorderFn        func(ctx context.Context, quizID int64, orderedIDs []int64) error
}

func (m *mockAuthoringService) CreateQuiz(ctx context.Context, in CreateQuizInput) (*Quiz, error) {
	return m.createQuizFn(ctx, in)
}

func (m *mockAuthoringService) ListQuizzes(ctx context.Context, subjectID int64, includeInactive bool) ([]Quiz, error) {
	return m.listQuizzesFn(ctx, subjectID, includeInactive)
}

func (m *mockAuthoringService) GetQuiz(ctx context.Context, quizID int64) (*Quiz, error) {
	return m.getQuizFn(ctx, quizID)
}

func (m *mockAuthoringService) UpdateQuiz(ctx context.Context, in UpdateQuizInput) (*Quiz, error) {
	return m.updateQuizFn(ctx, in)
}

func (m *mockAuthoringService) DeactivateQuiz(ctx context.Context, quizID int64) error {
	return m.deactivateFn(ctx, quizID)
}

func (m *mockAuthoringService) AddQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	return m.addQuestionFn(ctx, in)
}

func (m *mockAuthoringService) UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (*Question, error) {
	return m.updateQuestionFn(ctx, in)
}

func (m *mockAuthoringService) DeleteQuestion(ctx context.Context, quizID, questionID int64) error {
	return m.deleteQuestionFn(ctx, quizID, questionID)
}

func (m *mockAuthoringService) ReorderQuestions(ctx context.Context, quizID int64, orderedIDs []int64) error {
	return m.reorderFn(ctx, quizID, orderedIDs)
}

func newAuthoringRouter(svc authoringService) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/quizzes", h.CreateQuiz)
	r.Get("/quizzes", h.ListQuizzes)
	r.Get("/quizzes/{quizID}", h.GetQuiz)
	r.Put("/quizzes/{quizID}", h.UpdateQuiz)
	r.Delete("/quizzes/{quizID}", h.DeactivateQuiz)
	r.Post("/quizzes/{quizID}/questions", h.AddQuestion)
	r.Put("/quizzes/{quizID}/questions/{questionID}", h.UpdateQuestion)
	r.Delete("/quizzes/{quizID}/questions/{questionID}", h.DeleteQuestion)
	r.Put("/quizzes/{quizID}/questions/order", h.ReorderQuestions)
	return r
}

func TestCreateQuizValidation(t *testing.T) {
	router := newAuthoringRouter(&mockAuthoringService{
		createQuizFn: func(ctx context.Context, in CreateQuizInput) (*Quiz, error) {
			t.Fatal("service must not be called for invalid input")
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/quizzes", strings.NewReader(`{"title":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateQuizOK(t *testing.T) {
	var got CreateQuizInput
	router := newAuthoringRouter(&mockAuthoringService{
		createQuizFn: func(ctx context.Context, in CreateQuizInput) (*Quiz, error) {
			got = in
			return &Quiz{ID: 1, Title: in.Title, SubjectID: in.SubjectID, TimeLimitSeconds: 20, IsActive: true}, nil
		},
	})

	body := `{"title":"Ulangan IPA Bab 3","subject_id":4,"time_limit_seconds":20}`
	req := httptest.NewRequest(http.MethodPost, "/quizzes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Title != "Ulangan IPA Bab 3" || got.SubjectID != 4 {
		t.Fatalf("unexpected input %+v", got)
	}
}

func TestAddQuestionAnswerKeyShape(t *testing.T) {
	router := newAuthoringRouter(&mockAuthoringService{
		addQuestionFn: func(ctx context.Context, in QuestionInput) (*Question, error) {
			return nil, ErrAnswerKeyShape
		},
	})

	body := `{"text":"Ibukota Indonesia?","options":[{"text":"Jakarta","is_correct":true},{"text":"Bandung","is_correct":true}]}`
	req := httptest.NewRequest(http.MethodPost, "/quizzes/5/questions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAddQuestionLockedQuiz(t *testing.T) {
	router := newAuthoringRouter(&mockAuthoringService{
		addQuestionFn: func(ctx context.Context, in QuestionInput) (*Question, error) {
			return nil, ErrQuizLocked
		},
	})

	body := `{"text":"Ibukota Indonesia?","options":[{"text":"Jakarta","is_correct":true},{"text":"Bandung"}]}`
	req := httptest.NewRequest(http.MethodPost, "/quizzes/5/questions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteQuestionNotFound(t *testing.T) {
	router := newAuthoringRouter(&mockAuthoringService{
		deleteQuestionFn: func(ctx context.Context, quizID, questionID int64) error {
			return ErrQuestionNotFound
		},
	})

	req := httptest.NewRequest(http.MethodDelete, "/quizzes/5/questions/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReorderQuestions(t *testing.T) {
	var gotIDs []int64
	router := newAuthoringRouter(&mockAuthoringService{
		reorderFn: func(ctx context.Context, quizID int64, orderedIDs []int64) error {
			gotIDs = orderedIDs
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPut, "/quizzes/5/questions/order", strings.NewReader(`{"question_ids":[30,10,20]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(gotIDs) != 3 || gotIDs[0] != 30 {
		t.Fatalf("unexpected order %v", gotIDs)
	}
}

func TestGetQuizBadID(t *testing.T) {
	router := newAuthoringRouter(&mockAuthoringService{})

	req := httptest.NewRequest(http.MethodGet, "/quizzes/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
