package masterdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrClassNotFound   = errors.New("class not found")
	ErrSubjectInUse    = errors.New("subject has quizzes attached")
	ErrClassNotEmpty   = errors.New("class still has students")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Subject struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type Class struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	GradeLevel        string `json:"grade_level"`
	HomeroomTeacherID *int64 `json:"homeroom_teacher_id,omitempty"`
	StudentCount      int    `json:"student_count"`
	IsActive          bool   `json:"is_active"`
}

type ClassInput struct {
	Name              string
	GradeLevel        string
	HomeroomTeacherID *int64
}

func (s *Service) CreateSubject(ctx context.Context, actorID int64, name string) (*Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var out Subject
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subjects (name, is_active, created_at, updated_at)
		VALUES ($1, TRUE, now(), now())
		RETURNING id, name, is_active
	`, name).Scan(&out.ID, &out.Name, &out.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "subject_created", "subject", fmt.Sprintf("%d", out.ID), map[string]any{
		"name": out.Name,
	})
	return &out, nil
}

func (s *Service) ListSubjects(ctx context.Context, activeOnly bool) ([]Subject, error) {
	query := `SELECT id, name, is_active FROM subjects`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	items := make([]Subject, 0)
	for rows.Next() {
		var item Subject
		if err := rows.Scan(&item.ID, &item.Name, &item.IsActive); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return items, nil
}

func (s *Service) UpdateSubject(ctx context.Context, actorID, id int64, name string, isActive bool) (*Subject, error) {
	name = strings.TrimSpace(name)
	if id <= 0 || name == "" {
		return nil, ErrInvalidInput
	}

	var out Subject
	err := s.db.QueryRowContext(ctx, `
		UPDATE subjects
		SET name = $2, is_active = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, name, is_active
	`, id, name, isActive).Scan(&out.ID, &out.Name, &out.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("update subject: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "subject_updated", "subject", fmt.Sprintf("%d", out.ID), map[string]any{
		"name":      out.Name,
		"is_active": out.IsActive,
	})
	return &out, nil
}

// DeleteSubject deactivates a subject. Subjects referenced by quizzes cannot
// be removed, only hidden, so old transcripts keep their subject names.
func (s *Service) DeleteSubject(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var inUse bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM quizzes WHERE subject_id = $1)
	`, id).Scan(&inUse); err != nil {
		return fmt.Errorf("check subject usage: %w", err)
	}

	if inUse {
		var updated int64
		err := s.db.QueryRowContext(ctx, `
			UPDATE subjects SET is_active = FALSE, updated_at = now()
			WHERE id = $1
			RETURNING id
		`, id).Scan(&updated)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSubjectNotFound
			}
			return fmt.Errorf("deactivate subject: %w", err)
		}
		_ = s.writeAudit(ctx, actorID, "subject_deactivated", "subject", fmt.Sprintf("%d", id), map[string]any{})
		return nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrSubjectNotFound
	}

	_ = s.writeAudit(ctx, actorID, "subject_deleted", "subject", fmt.Sprintf("%d", id), map[string]any{})
	return nil
}

func (s *Service) CreateClass(ctx context.Context, actorID int64, in ClassInput) (*Class, error) {
	name := strings.TrimSpace(in.Name)
	grade := strings.TrimSpace(in.GradeLevel)
	if name == "" || grade == "" {
		return nil, ErrInvalidInput
	}

	var out Class
	var homeroom sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO classes (name, grade_level, homeroom_teacher_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, now(), now())
		RETURNING id, name, grade_level, homeroom_teacher_id, is_active
	`, name, grade, nullInt64(in.HomeroomTeacherID)).Scan(&out.ID, &out.Name, &out.GradeLevel, &homeroom, &out.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create class: %w", err)
	}
	if homeroom.Valid {
		out.HomeroomTeacherID = &homeroom.Int64
	}

	_ = s.writeAudit(ctx, actorID, "class_created", "class", fmt.Sprintf("%d", out.ID), map[string]any{
		"name":        out.Name,
		"grade_level": out.GradeLevel,
	})
	return &out, nil
}

func (s *Service) ListClasses(ctx context.Context, activeOnly bool) ([]Class, error) {
	query := `
		SELECT c.id, c.name, c.grade_level, c.homeroom_teacher_id, c.is_active,
			(SELECT COUNT(*) FROM users u WHERE u.class_id = c.id AND u.role = 'student' AND u.is_active = TRUE)
		FROM classes c
	`
	if activeOnly {
		query += ` WHERE c.is_active = TRUE`
	}
	query += ` ORDER BY c.grade_level ASC, c.name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	items := make([]Class, 0)
	for rows.Next() {
		var item Class
		var homeroom sql.NullInt64
		if err := rows.Scan(&item.ID, &item.Name, &item.GradeLevel, &homeroom, &item.IsActive, &item.StudentCount); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		if homeroom.Valid {
			item.HomeroomTeacherID = &homeroom.Int64
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	return items, nil
}

func (s *Service) UpdateClass(ctx context.Context, actorID, id int64, in ClassInput) (*Class, error) {
	name := strings.TrimSpace(in.Name)
	grade := strings.TrimSpace(in.GradeLevel)
	if id <= 0 || name == "" || grade == "" {
		return nil, ErrInvalidInput
	}

	var out Class
	var homeroom sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		UPDATE classes
		SET name = $2, grade_level = $3, homeroom_teacher_id = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, grade_level, homeroom_teacher_id, is_active
	`, id, name, grade, nullInt64(in.HomeroomTeacherID)).Scan(&out.ID, &out.Name, &out.GradeLevel, &homeroom, &out.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("update class: %w", err)
	}
	if homeroom.Valid {
		out.HomeroomTeacherID = &homeroom.Int64
	}

	_ = s.writeAudit(ctx, actorID, "class_updated", "class", fmt.Sprintf("%d", out.ID), map[string]any{
		"name":        out.Name,
		"grade_level": out.GradeLevel,
	})
	return &out, nil
}

func (s *Service) DeleteClass(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var hasStudents bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE class_id = $1 AND is_active = TRUE)
	`, id).Scan(&hasStudents); err != nil {
		return fmt.Errorf("check class members: %w", err)
	}
	if hasStudents {
		return ErrClassNotEmpty
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrClassNotFound
	}

	_ = s.writeAudit(ctx, actorID, "class_deleted", "class", fmt.Sprintf("%d", id), map[string]any{})
	return nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action, entityType, entityID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, now())
	`, userID, action, entityType, entityID, string(b))
	return err
}

func nullInt64(v *int64) any {
	if v == nil || *v <= 0 {
		return nil
	}
	return *v
}
