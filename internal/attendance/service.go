package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrClassNotFound = errors.New("class not found")
	ErrBadStatus     = errors.New("invalid attendance status")
)

var validStatuses = map[string]bool{
	"present": true,
	"absent":  true,
	"late":    true,
	"excused": true,
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Entry struct {
	StudentID   int64  `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
}

type Sheet struct {
	ClassID    int64   `json:"class_id"`
	Date       string  `json:"date"`
	RecordedBy int64   `json:"recorded_by"`
	Entries    []Entry `json:"entries"`
}

type Summary struct {
	StudentID int64  `json:"student_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Present   int    `json:"present"`
	Absent    int    `json:"absent"`
	Late      int    `json:"late"`
	Excused   int    `json:"excused"`
	Total     int    `json:"total"`
}

// Record upserts a full class sheet for one date. Re-submitting the same
// class+date overwrites earlier statuses, so a teacher can correct mistakes.
func (s *Service) Record(ctx context.Context, classID int64, date string, recordedBy int64, entries []Entry) (*Sheet, error) {
	if classID <= 0 || recordedBy <= 0 || len(entries) == 0 {
		return nil, ErrInvalidInput
	}
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.StudentID <= 0 {
			return nil, ErrInvalidInput
		}
		if !validStatuses[e.Status] {
			return nil, fmt.Errorf("status %q: %w", e.Status, ErrBadStatus)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM classes WHERE id = $1)
	`, classID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !exists {
		return nil, ErrClassNotFound
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (class_id, student_id, date, status, note, recorded_by, recorded_at)
			VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, now())
			ON CONFLICT (class_id, student_id, date)
			DO UPDATE SET status = EXCLUDED.status, note = EXCLUDED.note,
				recorded_by = EXCLUDED.recorded_by, recorded_at = now()
		`, classID, e.StudentID, day, e.Status, e.Note, recordedBy); err != nil {
			return nil, fmt.Errorf("upsert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return s.Sheet(ctx, classID, date)
}

// Sheet returns the recorded statuses for a class on one date.
func (s *Service) Sheet(ctx context.Context, classID int64, date string) (*Sheet, error) {
	if classID <= 0 {
		return nil, ErrInvalidInput
	}
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.student_id, u.full_name, a.status, COALESCE(a.note,''), a.recorded_by
		FROM attendance_records a
		JOIN users u ON u.id = a.student_id
		WHERE a.class_id = $1 AND a.date = $2
		ORDER BY u.full_name ASC
	`, classID, day)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	sheet := &Sheet{ClassID: classID, Date: day.Format("2006-01-02"), Entries: make([]Entry, 0)}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.StudentID, &e.StudentName, &e.Status, &e.Note, &sheet.RecordedBy); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		sheet.Entries = append(sheet.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return sheet, nil
}

// StudentSummary counts statuses for one student over an inclusive range.
func (s *Service) StudentSummary(ctx context.Context, studentID int64, from, to string) (*Summary, error) {
	if studentID <= 0 {
		return nil, ErrInvalidInput
	}
	fromDay, err := parseDate(from)
	if err != nil {
		return nil, err
	}
	toDay, err := parseDate(to)
	if err != nil {
		return nil, err
	}
	if toDay.Before(fromDay) {
		return nil, fmt.Errorf("%w: to precedes from", ErrInvalidInput)
	}

	summary := &Summary{
		StudentID: studentID,
		From:      fromDay.Format("2006-01-02"),
		To:        toDay.Format("2006-01-02"),
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM attendance_records
		WHERE student_id = $1 AND date BETWEEN $2 AND $3
		GROUP BY status
	`, studentID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		switch status {
		case "present":
			summary.Present = count
		case "absent":
			summary.Absent = count
		case "late":
			summary.Late = count
		case "excused":
			summary.Excused = count
		}
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return summary, nil
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return t, nil
}
