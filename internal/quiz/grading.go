package quiz

import (
	"fmt"
	"time"
)

// Verdict is the outcome of grading a single submission.
type Verdict struct {
	IsCorrect       bool  `json:"is_correct"`
	CorrectOptionID int64 `json:"correct_option_id"`
}

// Grade checks a submitted option against the question's answer key. A nil
// selection (timeout) is always incorrect. A question with zero or multiple
// correct options is authoring data corruption and surfaces as an error
// rather than an arbitrary verdict.
func Grade(q Question, selectedOptionID *int64) (Verdict, error) {
	var correctID int64
	correctCount := 0
	for _, opt := range q.Options {
		if opt.IsCorrect {
			correctID = opt.ID
			correctCount++
		}
	}
	if correctCount != 1 {
		return Verdict{}, fmt.Errorf("question %d has %d correct options: %w", q.ID, correctCount, ErrAnswerKeyIntegrity)
	}

	if selectedOptionID == nil {
		return Verdict{IsCorrect: false, CorrectOptionID: correctID}, nil
	}

	found := false
	for _, opt := range q.Options {
		if opt.ID == *selectedOptionID {
			found = true
			break
		}
	}
	if !found {
		return Verdict{}, fmt.Errorf("option %d: %w", *selectedOptionID, ErrOptionNotInQuestion)
	}

	return Verdict{
		IsCorrect:       *selectedOptionID == correctID,
		CorrectOptionID: correctID,
	}, nil
}

// AttemptQuestion is the student-facing view of the question at the cursor.
// It deliberately omits option correctness.
type AttemptQuestion struct {
	QuestionID       int64        `json:"question_id"`
	SeqNo            int          `json:"seq_no"`
	Text             string       `json:"text"`
	Points           int          `json:"points"`
	Options          []OptionView `json:"options"`
	TotalQuestions   int          `json:"total_questions"`
	TimeLimitSeconds int          `json:"time_limit_seconds"`
	PresentedAt      time.Time    `json:"presented_at"`
	DeadlineAt       time.Time    `json:"deadline_at"`
}

type OptionView struct {
	ID    int64  `json:"id"`
	SeqNo int    `json:"seq_no"`
	Text  string `json:"text"`
}

func buildAttemptQuestion(quiz *Quiz, index int, presentedAt time.Time) *AttemptQuestion {
	q := quiz.Questions[index]
	options := make([]OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, OptionView{ID: opt.ID, SeqNo: opt.SeqNo, Text: opt.Text})
	}
	return &AttemptQuestion{
		QuestionID:       q.ID,
		SeqNo:            q.SeqNo,
		Text:             q.Text,
		Points:           q.Points,
		Options:          options,
		TotalQuestions:   len(quiz.Questions),
		TimeLimitSeconds: quiz.TimeLimitSeconds,
		PresentedAt:      presentedAt,
		DeadlineAt:       presentedAt.Add(time.Duration(quiz.TimeLimitSeconds) * time.Second),
	}
}

// Result is the reviewable transcript of a completed attempt.
type Result struct {
	AttemptID      string           `json:"attempt_id"`
	QuizID         int64            `json:"quiz_id"`
	QuizTitle      string           `json:"quiz_title"`
	StudentID      int64            `json:"student_id"`
	Score          int              `json:"score"`
	MaxScore       int              `json:"max_score"`
	TotalQuestions int              `json:"total_questions"`
	Answered       int              `json:"answered"`
	Percentage     float64          `json:"percentage"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Items          []TranscriptItem `json:"items"`
}

type TranscriptItem struct {
	QuestionID       int64   `json:"question_id"`
	SeqNo            int     `json:"seq_no"`
	Text             string  `json:"text"`
	Points           int     `json:"points"`
	Answered         bool    `json:"answered"`
	SelectedOptionID *int64  `json:"selected_option_id,omitempty"`
	SelectedText     *string `json:"selected_text,omitempty"`
	CorrectOptionID  int64   `json:"correct_option_id"`
	CorrectText      string  `json:"correct_text"`
	IsCorrect        bool    `json:"is_correct"`
	WasTimeout       bool    `json:"was_timeout"`
}

// buildResult derives score and transcript purely from the quiz snapshot and
// the stored answer sequence. No cached score column is consulted, so two
// calls over the same rows always agree.
func buildResult(quiz *Quiz, row *attemptRow, answers []Answer) (*Result, error) {
	byQuestion := make(map[int64]Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	result := &Result{
		AttemptID:      row.PublicID,
		QuizID:         quiz.ID,
		QuizTitle:      quiz.Title,
		StudentID:      row.StudentID,
		TotalQuestions: len(quiz.Questions),
		Answered:       len(answers),
		Items:          make([]TranscriptItem, 0, len(quiz.Questions)),
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		result.CompletedAt = &t
	}

	for _, q := range quiz.Questions {
		var correct *Option
		correctCount := 0
		for i := range q.Options {
			if q.Options[i].IsCorrect {
				correct = &q.Options[i]
				correctCount++
			}
		}
		if correctCount != 1 {
			return nil, fmt.Errorf("question %d has %d correct options: %w", q.ID, correctCount, ErrAnswerKeyIntegrity)
		}

		item := TranscriptItem{
			QuestionID:      q.ID,
			SeqNo:           q.SeqNo,
			Text:            q.Text,
			Points:          q.Points,
			CorrectOptionID: correct.ID,
			CorrectText:     correct.Text,
		}
		result.MaxScore += q.Points

		if a, ok := byQuestion[q.ID]; ok {
			item.Answered = true
			item.IsCorrect = a.IsCorrect
			item.WasTimeout = a.SelectedOptionID == nil
			if a.SelectedOptionID != nil {
				id := *a.SelectedOptionID
				item.SelectedOptionID = &id
				for _, opt := range q.Options {
					if opt.ID == id {
						text := opt.Text
						item.SelectedText = &text
						break
					}
				}
			}
			if a.IsCorrect {
				result.Score += q.Points
			}
		}

		result.Items = append(result.Items, item)
	}

	result.Percentage = percentage(result.Score, result.MaxScore)
	return result, nil
}

func scoreAnswers(quiz *Quiz, answers []Answer) (score, maxScore int) {
	points := make(map[int64]int, len(quiz.Questions))
	for _, q := range quiz.Questions {
		points[q.ID] = q.Points
		maxScore += q.Points
	}
	for _, a := range answers {
		if a.IsCorrect {
			score += points[a.QuestionID]
		}
	}
	return score, maxScore
}

func percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return float64(score) / float64(maxScore) * 100.0
}
