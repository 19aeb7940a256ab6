package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var ErrQuizNotFound = errors.New("quiz not found")

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ResultRow is one completed attempt in a quiz report.
type ResultRow struct {
	AttemptID   string    `json:"attempt_id"`
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name"`
	Username    string    `json:"username"`
	ClassName   string    `json:"class_name,omitempty"`
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	Percentage  float64   `json:"percentage"`
	CompletedAt time.Time `json:"completed_at"`
}

type QuizReport struct {
	QuizID       int64       `json:"quiz_id"`
	QuizTitle    string      `json:"quiz_title"`
	SubjectName  string      `json:"subject_name"`
	Participants int         `json:"participants"`
	AverageScore float64     `json:"average_score"`
	HighestScore int         `json:"highest_score"`
	LowestScore  int         `json:"lowest_score"`
	Rows         []ResultRow `json:"rows"`
}

// TranscriptEntry is one completed attempt from a student's point of view.
type TranscriptEntry struct {
	AttemptID   string    `json:"attempt_id"`
	QuizID      int64     `json:"quiz_id"`
	QuizTitle   string    `json:"quiz_title"`
	SubjectName string    `json:"subject_name"`
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	Percentage  float64   `json:"percentage"`
	CompletedAt time.Time `json:"completed_at"`
}

// QuizResults builds the report for one quiz. Scores are recomputed from the
// stored answer rows so the report always agrees with what each student was
// shown, even if the quiz content changed afterwards.
func (s *Service) QuizResults(ctx context.Context, quizID int64) (*QuizReport, error) {
	report := &QuizReport{QuizID: quizID, Rows: make([]ResultRow, 0)}

	err := s.db.QueryRowContext(ctx, `
		SELECT q.title, s.name
		FROM quizzes q
		JOIN subjects s ON s.id = q.subject_id
		WHERE q.id = $1
	`, quizID).Scan(&report.QuizTitle, &report.SubjectName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}

	var maxScore int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM quiz_questions WHERE quiz_id = $1
	`, quizID).Scan(&maxScore); err != nil {
		return nil, fmt.Errorf("sum points: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.public_id, u.id, u.full_name, u.username, COALESCE(c.name, ''),
		       COALESCE(SUM(CASE WHEN aa.is_correct THEN qq.points ELSE 0 END), 0) AS score,
		       a.completed_at
		FROM quiz_attempts a
		JOIN users u ON u.id = a.student_id
		LEFT JOIN classes c ON c.id = u.class_id
		LEFT JOIN attempt_answers aa ON aa.attempt_id = a.id
		LEFT JOIN quiz_questions qq ON qq.id = aa.question_id
		WHERE a.quiz_id = $1 AND a.status = 'completed'
		GROUP BY a.public_id, u.id, u.full_name, u.username, c.name, a.completed_at
		ORDER BY score DESC, a.completed_at ASC
	`, quizID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var total int
	for rows.Next() {
		var row ResultRow
		if err := rows.Scan(&row.AttemptID, &row.StudentID, &row.StudentName, &row.Username,
			&row.ClassName, &row.Score, &row.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		row.MaxScore = maxScore
		row.Percentage = percentage(row.Score, maxScore)
		if len(report.Rows) == 0 {
			report.HighestScore = row.Score
			report.LowestScore = row.Score
		}
		if row.Score > report.HighestScore {
			report.HighestScore = row.Score
		}
		if row.Score < report.LowestScore {
			report.LowestScore = row.Score
		}
		total += row.Score
		report.Rows = append(report.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	report.Participants = len(report.Rows)
	if report.Participants > 0 {
		report.AverageScore = float64(total) / float64(report.Participants)
	}
	return report, nil
}

// StudentTranscript lists every completed attempt for one student, most
// recent first.
func (s *Service) StudentTranscript(ctx context.Context, studentID int64) ([]TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.public_id, q.id, q.title, s.name,
		       COALESCE(SUM(CASE WHEN aa.is_correct THEN qq.points ELSE 0 END), 0) AS score,
		       COALESCE((SELECT SUM(points) FROM quiz_questions WHERE quiz_id = q.id), 0) AS max_score,
		       a.completed_at
		FROM quiz_attempts a
		JOIN quizzes q ON q.id = a.quiz_id
		JOIN subjects s ON s.id = q.subject_id
		LEFT JOIN attempt_answers aa ON aa.attempt_id = a.id
		LEFT JOIN quiz_questions qq ON qq.id = aa.question_id
		WHERE a.student_id = $1 AND a.status = 'completed'
		GROUP BY a.public_id, q.id, q.title, s.name, a.completed_at
		ORDER BY a.completed_at DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	entries := make([]TranscriptEntry, 0)
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.AttemptID, &e.QuizID, &e.QuizTitle, &e.SubjectName,
			&e.Score, &e.MaxScore, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.Percentage = percentage(e.Score, e.MaxScore)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}

// ExportQuizResultsExcel renders the quiz report as an xlsx workbook.
func (s *Service) ExportQuizResultsExcel(ctx context.Context, quizID int64) ([]byte, string, error) {
	report, err := s.QuizResults(ctx, quizID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"rank", "username", "full_name", "class_name", "score", "max_score", "percentage", "completed_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, row := range report.Rows {
		values := []any{
			i + 1,
			row.Username,
			row.StudentName,
			row.ClassName,
			row.Score,
			row.MaxScore,
			fmt.Sprintf("%.1f", row.Percentage),
			row.CompletedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("write excel: %w", err)
	}
	filename := fmt.Sprintf("quiz-%d-results.xlsx", quizID)
	return buf.Bytes(), filename, nil
}

func percentage(score, maxScore int) float64 {
	if maxScore == 0 {
		return 0
	}
	return float64(score) / float64(maxScore) * 100
}
