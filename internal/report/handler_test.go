package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockReportService struct {
	resultsFn    func(ctx context.Context, quizID int64) (*QuizReport, error)
	transcriptFn func(ctx context.Context, studentID int64) ([]TranscriptEntry, error)
	exportFn     func(ctx context.Context, quizID int64) ([]byte, string, error)
}

func (m *mockReportService) QuizResults(ctx context.Context, quizID int64) (*QuizReport, error) {
	return m.resultsFn(ctx, quizID)
}

func (m *mockReportService) StudentTranscript(ctx context.Context, studentID int64) ([]TranscriptEntry, error) {
	return m.transcriptFn(ctx, studentID)
}

func (m *mockReportService) ExportQuizResultsExcel(ctx context.Context, quizID int64) ([]byte, string, error) {
	return m.exportFn(ctx, quizID)
}

func newReportRouter(svc reportService) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/quizzes/{quizID}/results", h.QuizResults)
	r.Get("/quizzes/{quizID}/results/export", h.ExportQuizResults)
	r.Get("/students/{studentID}/transcript", h.StudentTranscript)
	return r
}

func TestQuizResults(t *testing.T) {
	router := newReportRouter(&mockReportService{
		resultsFn: func(ctx context.Context, quizID int64) (*QuizReport, error) {
			if quizID != 5 {
				t.Fatalf("expected quiz 5, got %d", quizID)
			}
			return &QuizReport{
				QuizID:       5,
				QuizTitle:    "Algebra Midterm",
				Participants: 2,
				Rows: []ResultRow{
					{StudentName: "Siti", Score: 9, MaxScore: 10, Percentage: 90, CompletedAt: time.Now()},
					{StudentName: "Budi", Score: 7, MaxScore: 10, Percentage: 70, CompletedAt: time.Now()},
				},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/quizzes/5/results", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQuizResultsNotFound(t *testing.T) {
	router := newReportRouter(&mockReportService{
		resultsFn: func(ctx context.Context, quizID int64) (*QuizReport, error) {
			return nil, ErrQuizNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/quizzes/99/results", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExportQuizResultsHeaders(t *testing.T) {
	router := newReportRouter(&mockReportService{
		exportFn: func(ctx context.Context, quizID int64) ([]byte, string, error) {
			return []byte("xlsx-bytes"), "quiz-5-results.xlsx", nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/quizzes/5/results/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="quiz-5-results.xlsx"` {
		t.Fatalf("unexpected disposition: %s", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if rec.Body.String() != "xlsx-bytes" {
		t.Fatalf("body was not streamed through")
	}
}

func TestStudentTranscriptOwnOnly(t *testing.T) {
	router := newReportRouter(&mockReportService{
		transcriptFn: func(ctx context.Context, studentID int64) ([]TranscriptEntry, error) {
			return []TranscriptEntry{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/students/42/transcript", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStudentTranscriptStaffAccess(t *testing.T) {
	var gotStudentID int64
	router := newReportRouter(&mockReportService{
		transcriptFn: func(ctx context.Context, studentID int64) ([]TranscriptEntry, error) {
			gotStudentID = studentID
			return []TranscriptEntry{{QuizID: 5, Score: 9, MaxScore: 10, Percentage: 90}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/students/42/transcript", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotStudentID != 42 {
		t.Fatalf("expected student 42, got %d", gotStudentID)
	}
}
