package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrQuizEmpty            = errors.New("quiz has no questions")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptInProgress    = errors.New("attempt already in progress")
	ErrAttemptCompleted     = errors.New("attempt already completed")
	ErrAttemptNotFinal      = errors.New("attempt not completed yet")
	ErrAttemptForbidden     = errors.New("attempt forbidden")
	ErrOutOfOrderSubmission = errors.New("submission out of order")
	ErrOptionNotInQuestion  = errors.New("option not part of question")
	ErrNoMoreQuestions      = errors.New("all questions answered")
	ErrAnswerKeyIntegrity   = errors.New("question answer key integrity error")
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Quiz is the server-side snapshot of a question bank. Option correctness
// lives only here; student-facing views are built by the handler and never
// carry it before submission.
type Quiz struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	SubjectID        int64      `json:"subject_id"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	IsActive         bool       `json:"is_active"`
	Questions        []Question `json:"questions"`
}

type Question struct {
	ID      int64    `json:"id"`
	SeqNo   int      `json:"seq_no"`
	Text    string   `json:"text"`
	Points  int      `json:"points"`
	Options []Option `json:"options"`
}

type Option struct {
	ID        int64  `json:"id"`
	SeqNo     int    `json:"seq_no"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Attempt struct {
	ID                  int64      `json:"-"`
	PublicID            string     `json:"id"`
	QuizID              int64      `json:"quiz_id"`
	QuizTitle           string     `json:"quiz_title"`
	StudentID           int64      `json:"student_id"`
	Status              string     `json:"status"`
	CurrentIndex        int        `json:"current_index"`
	TotalQuestions      int        `json:"total_questions"`
	TimeLimitSeconds    int        `json:"time_limit_seconds"`
	StartedAt           time.Time  `json:"started_at"`
	QuestionPresentedAt time.Time  `json:"question_presented_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Answer is one stored submission. A nil SelectedOptionID marks a timeout.
type Answer struct {
	QuestionID       int64     `json:"question_id"`
	SelectedOptionID *int64    `json:"selected_option_id"`
	IsCorrect        bool      `json:"is_correct"`
	AnsweredAt       time.Time `json:"answered_at"`
}

type AnswerVerdict struct {
	QuestionID       int64  `json:"question_id"`
	SelectedOptionID *int64 `json:"selected_option_id"`
	IsCorrect        bool   `json:"is_correct"`
	CorrectOptionID  int64  `json:"correct_option_id"`
	WasTimeout       bool   `json:"was_timeout"`
	NextSeqNo        *int   `json:"next_seq_no,omitempty"`
	Remaining        int    `json:"remaining"`
}

type AttemptSummary struct {
	PublicID       string     `json:"id"`
	QuizID         int64      `json:"quiz_id"`
	QuizTitle      string     `json:"quiz_title"`
	StudentID      int64      `json:"student_id"`
	Status         string     `json:"status"`
	Answered       int        `json:"answered"`
	TotalQuestions int        `json:"total_questions"`
	Score          int        `json:"score"`
	MaxScore       int        `json:"max_score"`
	Percentage     float64    `json:"percentage"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type Service struct {
	db              *sql.DB
	snapshots       *SnapshotCache
	questionSeconds int
	graceSeconds    int
}

func NewService(db *sql.DB, snapshots *SnapshotCache, questionSeconds, graceSeconds int) *Service {
	if questionSeconds <= 0 {
		questionSeconds = 20
	}
	if graceSeconds < 0 {
		graceSeconds = 0
	}
	return &Service{
		db:              db,
		snapshots:       snapshots,
		questionSeconds: questionSeconds,
		graceSeconds:    graceSeconds,
	}
}

// LoadQuiz returns the full server-side snapshot, preferring the Redis cache.
// Quizzes are locked against edits once attempts exist, so a cached snapshot
// cannot go stale for a running attempt.
func (s *Service) LoadQuiz(ctx context.Context, quizID int64) (*Quiz, error) {
	if s.snapshots != nil {
		if q, ok, err := s.snapshots.Get(ctx, quizID); err == nil && ok {
			return q, nil
		}
	}

	q, err := s.loadQuizFromDB(ctx, quizID)
	if err != nil {
		return nil, err
	}

	if s.snapshots != nil {
		_ = s.snapshots.Set(ctx, q)
	}
	return q, nil
}

func (s *Service) loadQuizFromDB(ctx context.Context, quizID int64) (*Quiz, error) {
	q := &Quiz{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subject_id, time_limit_seconds, is_active
		FROM quizzes
		WHERE id = $1
	`, quizID).Scan(&q.ID, &q.Title, &q.SubjectID, &q.TimeLimitSeconds, &q.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if q.TimeLimitSeconds <= 0 {
		q.TimeLimitSeconds = s.questionSeconds
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			qq.id, qq.seq_no, qq.text, qq.points,
			qo.id, qo.seq_no, qo.text, qo.is_correct
		FROM quiz_questions qq
		JOIN question_options qo ON qo.question_id = qq.id
		WHERE qq.quiz_id = $1
		ORDER BY qq.seq_no, qo.seq_no
	`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz questions: %w", err)
	}
	defer rows.Close()

	var current *Question
	for rows.Next() {
		var (
			qID, oID     int64
			qSeq, oSeq   int
			qText, oText string
			points       int
			isCorrect    bool
		)
		if err := rows.Scan(&qID, &qSeq, &qText, &points, &oID, &oSeq, &oText, &isCorrect); err != nil {
			return nil, fmt.Errorf("scan question row: %w", err)
		}
		if current == nil || current.ID != qID {
			q.Questions = append(q.Questions, Question{ID: qID, SeqNo: qSeq, Text: qText, Points: points})
			current = &q.Questions[len(q.Questions)-1]
		}
		current.Options = append(current.Options, Option{ID: oID, SeqNo: oSeq, Text: oText, IsCorrect: isCorrect})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question rows: %w", err)
	}

	return q, nil
}

func (s *Service) StartAttempt(ctx context.Context, quizID, studentID int64) (*Attempt, error) {
	quiz, err := s.LoadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsActive {
		return nil, ErrQuizNotFound
	}
	if len(quiz.Questions) == 0 {
		return nil, ErrQuizEmpty
	}

	var existing int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM quiz_attempts
		WHERE quiz_id = $1 AND student_id = $2 AND status = 'in_progress'
	`, quizID, studentID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("check running attempt: %w", err)
	}
	if existing > 0 {
		return nil, ErrAttemptInProgress
	}

	attempt := &Attempt{
		PublicID:         uuid.NewString(),
		QuizID:           quiz.ID,
		QuizTitle:        quiz.Title,
		StudentID:        studentID,
		Status:           StatusInProgress,
		TotalQuestions:   len(quiz.Questions),
		TimeLimitSeconds: quiz.TimeLimitSeconds,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO quiz_attempts (
			public_id, quiz_id, student_id, status,
			current_index, question_presented_at, started_at
		) VALUES ($1, $2, $3, 'in_progress', 0, now(), now())
		RETURNING id, current_index, question_presented_at, started_at
	`, attempt.PublicID, quizID, studentID).Scan(
		&attempt.ID, &attempt.CurrentIndex, &attempt.QuestionPresentedAt, &attempt.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return attempt, nil
}

type attemptRow struct {
	ID                  int64
	PublicID            string
	QuizID              int64
	StudentID           int64
	Status              string
	CurrentIndex        int
	QuestionPresentedAt time.Time
	StartedAt           time.Time
	CompletedAt         sql.NullTime
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *Service) loadAttemptRow(ctx context.Context, q queryable, publicID string, forUpdate bool) (*attemptRow, error) {
	if _, err := uuid.Parse(publicID); err != nil {
		return nil, ErrAttemptNotFound
	}

	query := `
		SELECT id, public_id, quiz_id, student_id, status,
		       current_index, question_presented_at, started_at, completed_at
		FROM quiz_attempts
		WHERE public_id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	row := &attemptRow{}
	err := q.QueryRowContext(ctx, query, publicID).Scan(
		&row.ID, &row.PublicID, &row.QuizID, &row.StudentID, &row.Status,
		&row.CurrentIndex, &row.QuestionPresentedAt, &row.StartedAt, &row.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return row, nil
}

func (s *Service) GetAttemptOwner(ctx context.Context, publicID string) (int64, error) {
	row, err := s.loadAttemptRow(ctx, s.db, publicID, false)
	if err != nil {
		return 0, err
	}
	return row.StudentID, nil
}

// CurrentQuestion returns the question at the attempt's cursor, without
// option correctness, plus the server-side deadline for answering it.
func (s *Service) CurrentQuestion(ctx context.Context, publicID string) (*AttemptQuestion, error) {
	row, err := s.loadAttemptRow(ctx, s.db, publicID, false)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusInProgress {
		return nil, ErrAttemptCompleted
	}

	quiz, err := s.LoadQuiz(ctx, row.QuizID)
	if err != nil {
		return nil, err
	}
	if row.CurrentIndex >= len(quiz.Questions) {
		return nil, ErrNoMoreQuestions
	}

	return buildAttemptQuestion(quiz, row.CurrentIndex, row.QuestionPresentedAt), nil
}

// SubmitAnswer grades and appends the answer for the question at the current
// cursor. A nil selectedOptionID records a timeout. Submissions for any other
// question are rejected without touching the attempt.
func (s *Service) SubmitAnswer(ctx context.Context, publicID string, questionID int64, selectedOptionID *int64) (*AnswerVerdict, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.loadAttemptRow(ctx, tx, publicID, true)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusInProgress {
		return nil, ErrAttemptCompleted
	}

	quiz, err := s.LoadQuiz(ctx, row.QuizID)
	if err != nil {
		return nil, err
	}
	if row.CurrentIndex >= len(quiz.Questions) {
		return nil, ErrNoMoreQuestions
	}

	expected := quiz.Questions[row.CurrentIndex]
	if questionID != expected.ID {
		return nil, ErrOutOfOrderSubmission
	}

	// The presented-at timestamp is written only by the server, so the
	// deadline check cannot be gamed by a client clock.
	now := time.Now()
	deadline := row.QuestionPresentedAt.
		Add(time.Duration(quiz.TimeLimitSeconds) * time.Second).
		Add(time.Duration(s.graceSeconds) * time.Second)
	wasTimeout := selectedOptionID == nil
	if now.After(deadline) {
		selectedOptionID = nil
		wasTimeout = true
	}

	verdict, err := Grade(expected, selectedOptionID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, seq_no, selected_option_id, is_correct, answered_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, row.ID, expected.ID, expected.SeqNo, selectedOptionID, verdict.IsCorrect)
	if err != nil {
		return nil, fmt.Errorf("insert answer: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE quiz_attempts
		SET current_index = current_index + 1,
			question_presented_at = now()
		WHERE id = $1
	`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("advance attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	out := &AnswerVerdict{
		QuestionID:       expected.ID,
		SelectedOptionID: selectedOptionID,
		IsCorrect:        verdict.IsCorrect,
		CorrectOptionID:  verdict.CorrectOptionID,
		WasTimeout:       wasTimeout,
		Remaining:        len(quiz.Questions) - row.CurrentIndex - 1,
	}
	if next := row.CurrentIndex + 1; next < len(quiz.Questions) {
		seq := quiz.Questions[next].SeqNo
		out.NextSeqNo = &seq
	}
	return out, nil
}

// Complete finalizes the attempt. Unanswered trailing questions stay absent;
// no zero-credit rows are synthesized for them.
func (s *Service) Complete(ctx context.Context, publicID string) (*AttemptSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.loadAttemptRow(ctx, tx, publicID, true)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusInProgress {
		return nil, ErrAttemptCompleted
	}

	var completedAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE quiz_attempts
		SET status = 'completed', completed_at = now()
		WHERE id = $1
		RETURNING completed_at
	`, row.ID).Scan(&completedAt)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}

	quiz, err := s.LoadQuiz(ctx, row.QuizID)
	if err != nil {
		return nil, err
	}
	answers, err := s.loadAnswers(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete: %w", err)
	}

	row.Status = StatusCompleted
	row.CompletedAt = sql.NullTime{Time: completedAt, Valid: true}
	summary := buildSummary(quiz, row, answers)
	return &summary, nil
}

func (s *Service) GetAttemptSummary(ctx context.Context, publicID string) (*AttemptSummary, error) {
	row, err := s.loadAttemptRow(ctx, s.db, publicID, false)
	if err != nil {
		return nil, err
	}
	quiz, err := s.LoadQuiz(ctx, row.QuizID)
	if err != nil {
		return nil, err
	}
	answers, err := s.loadAnswers(ctx, s.db, row.ID)
	if err != nil {
		return nil, err
	}
	summary := buildSummary(quiz, row, answers)
	return &summary, nil
}

// GetAttemptResult builds the reviewable transcript. It is a pure projection
// over the stored answers and is only available once the attempt completed.
func (s *Service) GetAttemptResult(ctx context.Context, publicID string) (*Result, error) {
	row, err := s.loadAttemptRow(ctx, s.db, publicID, false)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusCompleted {
		return nil, ErrAttemptNotFinal
	}

	quiz, err := s.LoadQuiz(ctx, row.QuizID)
	if err != nil {
		return nil, err
	}
	answers, err := s.loadAnswers(ctx, s.db, row.ID)
	if err != nil {
		return nil, err
	}

	result, err := buildResult(quiz, row, answers)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) loadAnswers(ctx context.Context, q queryable, attemptID int64) ([]Answer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, selected_option_id, is_correct, answered_at
		FROM attempt_answers
		WHERE attempt_id = $1
		ORDER BY seq_no
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.QuestionID, &a.SelectedOptionID, &a.IsCorrect, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func buildSummary(quiz *Quiz, row *attemptRow, answers []Answer) AttemptSummary {
	score, maxScore := scoreAnswers(quiz, answers)
	summary := AttemptSummary{
		PublicID:       row.PublicID,
		QuizID:         quiz.ID,
		QuizTitle:      quiz.Title,
		StudentID:      row.StudentID,
		Status:         row.Status,
		Answered:       len(answers),
		TotalQuestions: len(quiz.Questions),
		StartedAt:      row.StartedAt,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		summary.CompletedAt = &t
	}
	if row.Status == StatusCompleted {
		summary.Score = score
		summary.MaxScore = maxScore
		summary.Percentage = percentage(score, maxScore)
	}
	return summary
}
