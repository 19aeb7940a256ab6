package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrQuizLocked       = errors.New("quiz is locked by existing attempts")
	ErrAnswerKeyShape   = errors.New("question must have exactly one correct option")
)

// snapshotInvalidator drops a cached quiz snapshot after an authoring write.
type snapshotInvalidator interface {
	InvalidateQuiz(ctx context.Context, quizID int64) error
}

type Service struct {
	db    *sql.DB
	cache snapshotInvalidator
}

func NewService(db *sql.DB, cache snapshotInvalidator) *Service {
	return &Service{db: db, cache: cache}
}

type Quiz struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	SubjectID        int64      `json:"subject_id"`
	SubjectName      string     `json:"subject_name,omitempty"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	IsActive         bool       `json:"is_active"`
	QuestionCount    int        `json:"question_count"`
	AttemptCount     int        `json:"attempt_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Questions        []Question `json:"questions,omitempty"`
}

// Question is the authoring view and includes the answer key. It must only be
// served to admin and teacher roles.
type Question struct {
	ID      int64    `json:"id"`
	QuizID  int64    `json:"quiz_id"`
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

type CreateQuizInput struct {
	Title            string
	SubjectID        int64
	TimeLimitSeconds int
}

type UpdateQuizInput struct {
	ID               int64
	Title            string
	SubjectID        int64
	TimeLimitSeconds int
	IsActive         bool
}

type OptionInput struct {
	Text      string
	IsCorrect bool
}

type QuestionInput struct {
	QuizID  int64
	Text    string
	Points  int
	Options []OptionInput
}

type UpdateQuestionInput struct {
	QuizID     int64
	QuestionID int64
	Text       string
	Points     int
	Options    []OptionInput
}

func (s *Service) CreateQuiz(ctx context.Context, in CreateQuizInput) (*Quiz, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.SubjectID <= 0 {
		return nil, ErrInvalidInput
	}
	if in.TimeLimitSeconds <= 0 {
		in.TimeLimitSeconds = 20
	}

	if err := s.ensureSubject(ctx, in.SubjectID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO quizzes (title, subject_id, time_limit_seconds, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, now(), now())
		RETURNING id, title, subject_id, time_limit_seconds, is_active, created_at, updated_at
	`, in.Title, in.SubjectID, in.TimeLimitSeconds)

	var out Quiz
	if err := row.Scan(&out.ID, &out.Title, &out.SubjectID, &out.TimeLimitSeconds, &out.IsActive, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	return &out, nil
}

func (s *Service) ListQuizzes(ctx context.Context, subjectID int64, includeInactive bool) ([]Quiz, error) {
	query := `
		SELECT q.id, q.title, q.subject_id, s.name, q.time_limit_seconds, q.is_active,
			(SELECT COUNT(*) FROM quiz_questions qq WHERE qq.quiz_id = q.id),
			(SELECT COUNT(*) FROM quiz_attempts qa WHERE qa.quiz_id = q.id),
			q.created_at, q.updated_at
		FROM quizzes q
		JOIN subjects s ON s.id = q.subject_id
		WHERE 1=1
	`
	args := make([]any, 0, 1)
	if !includeInactive {
		query += ` AND q.is_active = TRUE`
	}
	if subjectID > 0 {
		query += ` AND q.subject_id = $1`
		args = append(args, subjectID)
	}
	query += ` ORDER BY q.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer rows.Close()

	items := make([]Quiz, 0)
	for rows.Next() {
		var q Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.SubjectID, &q.SubjectName, &q.TimeLimitSeconds, &q.IsActive,
			&q.QuestionCount, &q.AttemptCount, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return items, nil
}

// GetQuiz loads the full authoring view including answer keys.
func (s *Service) GetQuiz(ctx context.Context, quizID int64) (*Quiz, error) {
	if quizID <= 0 {
		return nil, ErrInvalidInput
	}

	var q Quiz
	err := s.db.QueryRowContext(ctx, `
		SELECT q.id, q.title, q.subject_id, s.name, q.time_limit_seconds, q.is_active,
			(SELECT COUNT(*) FROM quiz_attempts qa WHERE qa.quiz_id = q.id),
			q.created_at, q.updated_at
		FROM quizzes q
		JOIN subjects s ON s.id = q.subject_id
		WHERE q.id = $1
	`, quizID).Scan(&q.ID, &q.Title, &q.SubjectID, &q.SubjectName, &q.TimeLimitSeconds, &q.IsActive,
		&q.AttemptCount, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("load quiz: %w", err)
	}

	questions, err := s.loadQuestions(ctx, quizID)
	if err != nil {
		return nil, err
	}
	q.Questions = questions
	q.QuestionCount = len(questions)
	return &q, nil
}

func (s *Service) UpdateQuiz(ctx context.Context, in UpdateQuizInput) (*Quiz, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.ID <= 0 || in.Title == "" || in.SubjectID <= 0 || in.TimeLimitSeconds <= 0 {
		return nil, ErrInvalidInput
	}

	if err := s.ensureSubject(ctx, in.SubjectID); err != nil {
		return nil, err
	}

	locked, err := s.quizLocked(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	var row *sql.Row
	if locked {
		// Attempts exist: only the active flag may change, so graded
		// attempts keep referring to the content they were graded
		// against.
		row = s.db.QueryRowContext(ctx, `
			UPDATE quizzes
			SET is_active = $2, updated_at = now()
			WHERE id = $1
			RETURNING id, title, subject_id, time_limit_seconds, is_active, created_at, updated_at
		`, in.ID, in.IsActive)
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE quizzes
			SET title = $2, subject_id = $3, time_limit_seconds = $4, is_active = $5, updated_at = now()
			WHERE id = $1
			RETURNING id, title, subject_id, time_limit_seconds, is_active, created_at, updated_at
		`, in.ID, in.Title, in.SubjectID, in.TimeLimitSeconds, in.IsActive)
	}

	var out Quiz
	if err := row.Scan(&out.ID, &out.Title, &out.SubjectID, &out.TimeLimitSeconds, &out.IsActive, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("update quiz: %w", err)
	}

	s.invalidate(ctx, in.ID)
	return &out, nil
}

// DeactivateQuiz hides a quiz from students without touching its history.
func (s *Service) DeactivateQuiz(ctx context.Context, quizID int64) error {
	if quizID <= 0 {
		return ErrInvalidInput
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE quizzes SET is_active = FALSE, updated_at = now()
		WHERE id = $1
		RETURNING id
	`, quizID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuizNotFound
		}
		return fmt.Errorf("deactivate quiz: %w", err)
	}
	s.invalidate(ctx, quizID)
	return nil
}

func (s *Service) AddQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.QuizID <= 0 || in.Text == "" {
		return nil, ErrInvalidInput
	}
	if in.Points <= 0 {
		in.Points = 1
	}
	options, err := normalizeOptions(in.Options)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lockQuizForAuthoring(ctx, tx, in.QuizID); err != nil {
		return nil, err
	}

	var seqNo int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq_no), 0) + 1 FROM quiz_questions WHERE quiz_id = $1
	`, in.QuizID).Scan(&seqNo); err != nil {
		return nil, fmt.Errorf("next seq_no: %w", err)
	}

	out := &Question{QuizID: in.QuizID, SeqNo: seqNo, Text: in.Text, Points: in.Points}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO quiz_questions (quiz_id, seq_no, text, points)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, in.QuizID, seqNo, in.Text, in.Points).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}

	if err := insertOptions(ctx, tx, out, options); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE quizzes SET updated_at = now() WHERE id = $1`, in.QuizID); err != nil {
		return nil, fmt.Errorf("touch quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.invalidate(ctx, in.QuizID)
	return out, nil
}

// UpdateQuestion replaces the question text, points and the full option set.
// Options are replaced wholesale so the exactly-one-correct rule is checked
// against the final state, not a diff.
func (s *Service) UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (*Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.QuizID <= 0 || in.QuestionID <= 0 || in.Text == "" {
		return nil, ErrInvalidInput
	}
	if in.Points <= 0 {
		in.Points = 1
	}
	options, err := normalizeOptions(in.Options)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lockQuizForAuthoring(ctx, tx, in.QuizID); err != nil {
		return nil, err
	}

	out := &Question{ID: in.QuestionID, QuizID: in.QuizID, Text: in.Text, Points: in.Points}
	err = tx.QueryRowContext(ctx, `
		UPDATE quiz_questions
		SET text = $3, points = $4
		WHERE id = $1 AND quiz_id = $2
		RETURNING seq_no
	`, in.QuestionID, in.QuizID, in.Text, in.Points).Scan(&out.SeqNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update question: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM question_options WHERE question_id = $1`, in.QuestionID); err != nil {
		return nil, fmt.Errorf("clear options: %w", err)
	}
	if err := insertOptions(ctx, tx, out, options); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE quizzes SET updated_at = now() WHERE id = $1`, in.QuizID); err != nil {
		return nil, fmt.Errorf("touch quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.invalidate(ctx, in.QuizID)
	return out, nil
}

// DeleteQuestion removes a question and compacts the remaining sequence so
// attempts always walk 1..N without gaps.
func (s *Service) DeleteQuestion(ctx context.Context, quizID, questionID int64) error {
	if quizID <= 0 || questionID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lockQuizForAuthoring(ctx, tx, quizID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM quiz_questions WHERE id = $1 AND quiz_id = $2
	`, questionID, quizID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question affected rows: %w", err)
	}
	if affected == 0 {
		return ErrQuestionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE quiz_questions q
		SET seq_no = ranked.new_seq
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY seq_no) AS new_seq
			FROM quiz_questions
			WHERE quiz_id = $1
		) ranked
		WHERE q.id = ranked.id AND q.seq_no <> ranked.new_seq
	`, quizID); err != nil {
		return fmt.Errorf("compact sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE quizzes SET updated_at = now() WHERE id = $1`, quizID); err != nil {
		return fmt.Errorf("touch quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.invalidate(ctx, quizID)
	return nil
}

// ReorderQuestions rewrites seq_no so the quiz presents questions in the
// given order. Every question of the quiz must appear exactly once.
func (s *Service) ReorderQuestions(ctx context.Context, quizID int64, orderedIDs []int64) error {
	if quizID <= 0 || len(orderedIDs) == 0 {
		return ErrInvalidInput
	}
	seen := make(map[int64]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if id <= 0 {
			return ErrInvalidInput
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate question id %d", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lockQuizForAuthoring(ctx, tx, quizID); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM quiz_questions WHERE quiz_id = $1
	`, quizID).Scan(&count); err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	if count != len(orderedIDs) {
		return fmt.Errorf("%w: order must list all %d questions", ErrInvalidInput, count)
	}

	// Two passes keep the unique (quiz_id, seq_no) constraint satisfied
	// mid-rewrite.
	for i, id := range orderedIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE quiz_questions SET seq_no = $3 WHERE id = $1 AND quiz_id = $2
		`, id, quizID, -(i + 1))
		if err != nil {
			return fmt.Errorf("stage seq_no: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("stage seq_no affected rows: %w", err)
		}
		if affected == 0 {
			return ErrQuestionNotFound
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE quiz_questions SET seq_no = -seq_no WHERE quiz_id = $1 AND seq_no < 0
	`, quizID); err != nil {
		return fmt.Errorf("apply seq_no: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE quizzes SET updated_at = now() WHERE id = $1`, quizID); err != nil {
		return fmt.Errorf("touch quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.invalidate(ctx, quizID)
	return nil
}

func (s *Service) loadQuestions(ctx context.Context, quizID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			qq.id, qq.seq_no, qq.text, qq.points,
			qo.id, qo.seq_no, qo.text, qo.is_correct
		FROM quiz_questions qq
		JOIN question_options qo ON qo.question_id = qq.id
		WHERE qq.quiz_id = $1
		ORDER BY qq.seq_no ASC, qo.seq_no ASC
	`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	questions := make([]Question, 0)
	index := make(map[int64]int)
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
		i, ok := index[qID]
		if !ok {
			questions = append(questions, Question{ID: qID, QuizID: quizID, SeqNo: qSeq, Text: qText, Points: points})
			i = len(questions) - 1
			index[qID] = i
		}
		questions[i].Options = append(questions[i].Options, Option{ID: oID, SeqNo: oSeq, Text: oText, IsCorrect: isCorrect})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return questions, nil
}

// lockQuizForAuthoring takes a row lock on the quiz and rejects structural
// edits once any attempt exists.
func (s *Service) lockQuizForAuthoring(ctx context.Context, tx *sql.Tx, quizID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM quizzes WHERE id = $1 FOR UPDATE`, quizID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuizNotFound
		}
		return fmt.Errorf("lock quiz: %w", err)
	}

	var hasAttempts bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM quiz_attempts WHERE quiz_id = $1)
	`, quizID).Scan(&hasAttempts); err != nil {
		return fmt.Errorf("check attempts: %w", err)
	}
	if hasAttempts {
		return ErrQuizLocked
	}
	return nil
}

func (s *Service) quizLocked(ctx context.Context, quizID int64) (bool, error) {
	var hasAttempts bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM quiz_attempts WHERE quiz_id = $1)
	`, quizID).Scan(&hasAttempts); err != nil {
		return false, fmt.Errorf("check attempts: %w", err)
	}
	return hasAttempts, nil
}

func (s *Service) ensureSubject(ctx context.Context, subjectID int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1 AND is_active = TRUE)
	`, subjectID).Scan(&exists); err != nil {
		return fmt.Errorf("check subject: %w", err)
	}
	if !exists {
		return ErrSubjectNotFound
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, quizID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.InvalidateQuiz(ctx, quizID)
}

// normalizeOptions trims option text and enforces the answer key shape:
// at least two options, exactly one of them correct.
func normalizeOptions(in []OptionInput) ([]OptionInput, error) {
	if len(in) < 2 {
		return nil, fmt.Errorf("%w: at least 2 options are required", ErrInvalidInput)
	}

	out := make([]OptionInput, 0, len(in))
	correctCount := 0
	for i, opt := range in {
		text := strings.TrimSpace(opt.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: options[%d].text is required", ErrInvalidInput, i)
		}
		if opt.IsCorrect {
			correctCount++
		}
		out = append(out, OptionInput{Text: text, IsCorrect: opt.IsCorrect})
	}
	if correctCount != 1 {
		return nil, fmt.Errorf("%d of %d options marked correct: %w", correctCount, len(out), ErrAnswerKeyShape)
	}
	return out, nil
}

func insertOptions(ctx context.Context, tx *sql.Tx, q *Question, options []OptionInput) error {
	for i, opt := range options {
		var id int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO question_options (question_id, seq_no, text, is_correct)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, q.ID, i+1, opt.Text, opt.IsCorrect).Scan(&id); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
		q.Options = append(q.Options, Option{ID: id, SeqNo: i + 1, Text: opt.Text, IsCorrect: opt.IsCorrect})
	}
	return nil
}
