package quiz

import (
	"database/sql"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func int64Ptr(v int64) *int64 { return &v }

func threeQuestionQuiz() *Quiz {
	return &Quiz{
		ID:               1,
		Title:            "Arithmetic",
		SubjectID:        2,
		TimeLimitSeconds: 20,
		IsActive:         true,
		Questions: []Question{
			{
				ID: 10, SeqNo: 1, Text: "1+1?", Points: 1,
				Options: []Option{
					{ID: 101, SeqNo: 1, Text: "2", IsCorrect: true},
					{ID: 102, SeqNo: 2, Text: "3"},
					{ID: 103, SeqNo: 3, Text: "4"},
				},
			},
			{
				ID: 20, SeqNo: 2, Text: "2+2?", Points: 1,
				Options: []Option{
					{ID: 201, SeqNo: 1, Text: "3"},
					{ID: 202, SeqNo: 2, Text: "4", IsCorrect: true},
					{ID: 203, SeqNo: 3, Text: "5"},
				},
			},
			{
				ID: 30, SeqNo: 3, Text: "3+3?", Points: 1,
				Options: []Option{
					{ID: 301, SeqNo: 1, Text: "5"},
					{ID: 302, SeqNo: 2, Text: "6", IsCorrect: true},
					{ID: 303, SeqNo: 3, Text: "7"},
				},
			},
		},
	}
}

func TestGrade(t *testing.T) {
	q := threeQuestionQuiz().Questions[0]

	tests := []struct {
		name      string
		selected  *int64
		isCorrect bool
		wantErr   error
	}{
		{name: "correct option", selected: int64Ptr(101), isCorrect: true},
		{name: "wrong option", selected: int64Ptr(102), isCorrect: false},
		{name: "timeout nil selection", selected: nil, isCorrect: false},
		{name: "option from another question", selected: int64Ptr(999), wantErr: ErrOptionNotInQuestion},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := Grade(q, tc.selected)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if verdict.IsCorrect != tc.isCorrect {
				t.Fatalf("expected is_correct=%v, got %v", tc.isCorrect, verdict.IsCorrect)
			}
			if verdict.CorrectOptionID != 101 {
				t.Fatalf("expected correct option 101, got %d", verdict.CorrectOptionID)
			}
		})
	}
}

func TestGradeAnswerKeyIntegrity(t *testing.T) {
	t.Run("no correct option", func(t *testing.T) {
		q := Question{
			ID: 40, SeqNo: 1, Text: "broken", Points: 1,
			Options: []Option{
				{ID: 401, Text: "a"},
				{ID: 402, Text: "b"},
			},
		}
		if _, err := Grade(q, int64Ptr(401)); !errors.Is(err, ErrAnswerKeyIntegrity) {
			t.Fatalf("expected integrity error, got %v", err)
		}
	})

	t.Run("two correct options", func(t *testing.T) {
		q := Question{
			ID: 50, SeqNo: 1, Text: "broken", Points: 1,
			Options: []Option{
				{ID: 501, Text: "a", IsCorrect: true},
				{ID: 502, Text: "b", IsCorrect: true},
				{ID: 503, Text: "c"},
			},
		}
		if _, err := Grade(q, int64Ptr(501)); !errors.Is(err, ErrAnswerKeyIntegrity) {
			t.Fatalf("expected integrity error, got %v", err)
		}
		// Even a nil selection must not hide corrupt authoring data.
		if _, err := Grade(q, nil); !errors.Is(err, ErrAnswerKeyIntegrity) {
			t.Fatalf("expected integrity error for nil selection, got %v", err)
		}
	})
}

func completedRow(publicID string) *attemptRow {
	return &attemptRow{
		ID:          1,
		PublicID:    publicID,
		QuizID:      1,
		StudentID:   9,
		Status:      StatusCompleted,
		StartedAt:   time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		CompletedAt: sql.NullTime{Time: time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC), Valid: true},
	}
}

func TestBuildResultCorrectWrongTimeout(t *testing.T) {
	quiz := threeQuestionQuiz()
	row := completedRow("a0a3a33e-46f7-4f08-9bd0-8a2e6a1f2ec4")
	answers := []Answer{
		{QuestionID: 10, SelectedOptionID: int64Ptr(101), IsCorrect: true},
		{QuestionID: 20, SelectedOptionID: int64Ptr(201), IsCorrect: false},
		{QuestionID: 30, SelectedOptionID: nil, IsCorrect: false},
	}

	result, err := buildResult(quiz, row, answers)
	if err != nil {
		t.Fatalf("build result: %v", err)
	}

	if result.Score != 1 || result.TotalQuestions != 3 || result.MaxScore != 3 {
		t.Fatalf("expected score=1 total=3 max=3, got %d/%d/%d", result.Score, result.TotalQuestions, result.MaxScore)
	}
	if math.Abs(result.Percentage-100.0/3.0) > 0.01 {
		t.Fatalf("expected ~33.33%%, got %.2f", result.Percentage)
	}
	if !result.Items[2].WasTimeout || result.Items[2].IsCorrect {
		t.Fatalf("third item should be an incorrect timeout: %+v", result.Items[2])
	}
	if result.Items[2].SelectedOptionID != nil {
		t.Fatal("timeout answers must have no selected option")
	}
	if result.Items[0].SelectedText == nil || *result.Items[0].SelectedText != "2" {
		t.Fatalf("expected selected text for answered item, got %+v", result.Items[0])
	}
}

func TestBuildResultAbandonedAttempt(t *testing.T) {
	quiz := threeQuestionQuiz()
	row := completedRow("e81c6df0-32cb-40e9-a41d-6f53d7f1a111")
	answers := []Answer{
		{QuestionID: 10, SelectedOptionID: int64Ptr(101), IsCorrect: true},
		{QuestionID: 20, SelectedOptionID: int64Ptr(202), IsCorrect: true},
	}

	result, err := buildResult(quiz, row, answers)
	if err != nil {
		t.Fatalf("build result: %v", err)
	}

	if result.TotalQuestions != 3 || result.Answered != 2 || result.Score != 2 {
		t.Fatalf("expected total=3 answered=2 score=2, got %+v", result)
	}
	third := result.Items[2]
	if third.Answered || third.WasTimeout {
		t.Fatalf("unanswered trailing question must be neither answered nor timeout: %+v", third)
	}
	if third.CorrectOptionID != 302 {
		t.Fatalf("transcript should still name the correct option, got %d", third.CorrectOptionID)
	}
}

func TestBuildResultIdempotent(t *testing.T) {
	quiz := threeQuestionQuiz()
	row := completedRow("7f0d7c44-93c2-4d52-8276-1b3ea9c0b7d2")
	answers := []Answer{
		{QuestionID: 10, SelectedOptionID: int64Ptr(101), IsCorrect: true},
		{QuestionID: 20, SelectedOptionID: nil, IsCorrect: false},
	}

	first, err := buildResult(quiz, row, answers)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := buildResult(quiz, row, answers)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("aggregation must be a pure function of the stored answers")
	}
}

func TestBuildResultSurfacesIntegrityError(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions[1].Options[0].IsCorrect = true // now two correct options

	row := completedRow("b97cf6ea-0fb3-4f93-94b0-24dbb5e7f18a")
	_, err := buildResult(quiz, row, []Answer{})
	if !errors.Is(err, ErrAnswerKeyIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestBuildResultWeightedPoints(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions[0].Points = 3

	row := completedRow("5b9a35ce-8f62-4e0f-8df3-12cf0cc7b6aa")
	answers := []Answer{
		{QuestionID: 10, SelectedOptionID: int64Ptr(101), IsCorrect: true},
		{QuestionID: 20, SelectedOptionID: int64Ptr(201), IsCorrect: false},
	}

	result, err := buildResult(quiz, row, answers)
	if err != nil {
		t.Fatalf("build result: %v", err)
	}
	if result.Score != 3 || result.MaxScore != 5 {
		t.Fatalf("expected weighted score 3/5, got %d/%d", result.Score, result.MaxScore)
	}
	if math.Abs(result.Percentage-60.0) > 0.01 {
		t.Fatalf("expected 60%%, got %.2f", result.Percentage)
	}
}

func TestBuildAttemptQuestionWithholdsAnswerKey(t *testing.T) {
	quiz := threeQuestionQuiz()
	presented := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	view := buildAttemptQuestion(quiz, 0, presented)
	if view.QuestionID != 10 || len(view.Options) != 3 {
		t.Fatalf("unexpected view %+v", view)
	}
	if got := view.DeadlineAt.Sub(view.PresentedAt); got != 20*time.Second {
		t.Fatalf("expected 20s deadline, got %s", got)
	}
	// OptionView carries no correctness field; make sure the JSON shape agrees.
	typ := reflect.TypeOf(OptionView{})
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).Name == "IsCorrect" {
			t.Fatal("student-facing option view must not expose correctness")
		}
	}
}
