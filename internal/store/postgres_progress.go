package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (p *pgQueries) GetLessonProgress(ctx context.Context, userID, lessonID string) (*LessonProgress, error) {
	var item LessonProgress
	err := p.q.QueryRowContext(ctx, `
		SELECT id, user_id, lesson_id, status, created_at, updated_at
		FROM user_lesson_progress
		WHERE user_id=$1 AND lesson_id=$2
	`, userID, lessonID).Scan(&item.ID, &item.UserID, &item.LessonID, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get lesson progress", err)
	}
	return &item, nil
}

// InsertLessonProgress uses ON CONFLICT DO NOTHING so a lost race does not
// abort the surrounding transaction; the conflict is reported as ErrConflict.
func (p *pgQueries) InsertLessonProgress(ctx context.Context, progress LessonProgress) error {
	result, err := p.q.ExecContext(ctx, `
		INSERT INTO user_lesson_progress (id, user_id, lesson_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, lesson_id) DO NOTHING
	`, progress.ID, progress.UserID, progress.LessonID, progress.Status, progress.CreatedAt)
	if err != nil {
		return classify("insert lesson progress", err)
	}
	ok, err := affected("insert lesson progress", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("insert lesson progress", KindConflict, fmt.Errorf("progress for user %s lesson %s exists", progress.UserID, progress.LessonID))
	}
	return nil
}

func (p *pgQueries) UpdateLessonProgressStatus(ctx context.Context, userID, lessonID string, status ProgressStatus, at time.Time) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		UPDATE user_lesson_progress SET status=$3, updated_at=$4
		WHERE user_id=$1 AND lesson_id=$2
	`, userID, lessonID, status, at)
	if err != nil {
		return false, classify("update lesson progress", err)
	}
	return affected("update lesson progress", result)
}

func (p *pgQueries) ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]LessonProgress, error) {
	items := make([]LessonProgress, 0)
	if len(lessonIDs) == 0 {
		return items, nil
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, user_id, lesson_id, status, created_at, updated_at
		FROM user_lesson_progress
		WHERE user_id=$1 AND lesson_id = ANY($2)
	`, userID, lessonIDs)
	if err != nil {
		return nil, classify("list lesson progress", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item LessonProgress
		if err := rows.Scan(&item.ID, &item.UserID, &item.LessonID, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, classify("scan lesson progress", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate lesson progress", err)
	}
	return items, nil
}

const enrollmentColumns = `id, user_id, course_id, overall_progress, completed_at, enrolled_at, updated_at`

func scanEnrollment(row interface{ Scan(...any) error }, item *Enrollment) error {
	var completedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.CourseID,
		&item.OverallProgress,
		&completedAt,
		&item.EnrolledAt,
		&item.UpdatedAt,
	); err != nil {
		return err
	}
	if completedAt.Valid {
		t := completedAt.Time
		item.CompletedAt = &t
	}
	return nil
}

func (p *pgQueries) GetEnrollment(ctx context.Context, userID, courseID string) (*Enrollment, error) {
	return p.getEnrollment(ctx, "get enrollment", `
		SELECT `+enrollmentColumns+`
		FROM user_course_enrollments
		WHERE user_id=$1 AND course_id=$2
	`, userID, courseID)
}

func (p *pgQueries) LockEnrollment(ctx context.Context, userID, courseID string) (*Enrollment, error) {
	return p.getEnrollment(ctx, "lock enrollment", `
		SELECT `+enrollmentColumns+`
		FROM user_course_enrollments
		WHERE user_id=$1 AND course_id=$2
		FOR UPDATE
	`, userID, courseID)
}

func (p *pgQueries) getEnrollment(ctx context.Context, op, query string, args ...any) (*Enrollment, error) {
	var item Enrollment
	err := scanEnrollment(p.q.QueryRowContext(ctx, query, args...), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return &item, nil
}

func (p *pgQueries) InsertEnrollment(ctx context.Context, enrollment Enrollment) error {
	result, err := p.q.ExecContext(ctx, `
		INSERT INTO user_course_enrollments (id, user_id, course_id, overall_progress, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`, enrollment.ID, enrollment.UserID, enrollment.CourseID, enrollment.OverallProgress, enrollment.EnrolledAt)
	if err != nil {
		return classify("insert enrollment", err)
	}
	ok, err := affected("insert enrollment", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("insert enrollment", KindConflict, fmt.Errorf("user %s already enrolled in %s", enrollment.UserID, enrollment.CourseID))
	}
	return nil
}

func (p *pgQueries) UpdateEnrollmentProgress(ctx context.Context, enrollmentID string, progress float64, completedAt *time.Time, at time.Time) error {
	var completed sql.NullTime
	if completedAt != nil {
		completed = sql.NullTime{Time: *completedAt, Valid: true}
	}
	// COALESCE keeps an existing completion timestamp.
	result, err := p.q.ExecContext(ctx, `
		UPDATE user_course_enrollments
		SET overall_progress=$2, completed_at=COALESCE(completed_at, $3), updated_at=$4
		WHERE id=$1
	`, enrollmentID, progress, completed, at)
	if err != nil {
		return classify("update enrollment progress", err)
	}
	ok, err := affected("update enrollment progress", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("update enrollment progress", KindNotFound, fmt.Errorf("enrollment %s", enrollmentID))
	}
	return nil
}

func (p *pgQueries) ListEnrollmentsByUser(ctx context.Context, userID string) ([]Enrollment, error) {
	return p.listEnrollments(ctx, "list user enrollments", `
		SELECT `+enrollmentColumns+`
		FROM user_course_enrollments
		WHERE user_id=$1
		ORDER BY enrolled_at DESC, id
	`, userID)
}

func (p *pgQueries) ListEnrollmentsByCourse(ctx context.Context, courseID string) ([]Enrollment, error) {
	return p.listEnrollments(ctx, "list course enrollments", `
		SELECT `+enrollmentColumns+`
		FROM user_course_enrollments
		WHERE course_id=$1
		ORDER BY enrolled_at, id
	`, courseID)
}

func (p *pgQueries) listEnrollments(ctx context.Context, op, query string, args ...any) ([]Enrollment, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	items := make([]Enrollment, 0)
	for rows.Next() {
		var item Enrollment
		if err := scanEnrollment(rows, &item); err != nil {
			return nil, classify(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return items, nil
}
