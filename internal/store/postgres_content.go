package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const courseColumns = `id, owner_id, title, description, language_code, is_public, is_published, open_to_collab, created_at, updated_at`

func scanCourse(row interface{ Scan(...any) error }, item *Course) error {
	return row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Title,
		&item.Description,
		&item.LanguageCode,
		&item.IsPublic,
		&item.IsPublished,
		&item.OpenToCollab,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
}

func (p *pgQueries) GetCourse(ctx context.Context, courseID string) (*Course, error) {
	return p.getCourse(ctx, "get course", `SELECT `+courseColumns+` FROM courses WHERE id=$1`, courseID)
}

func (p *pgQueries) LockCourse(ctx context.Context, courseID string) (*Course, error) {
	return p.getCourse(ctx, "lock course", `SELECT `+courseColumns+` FROM courses WHERE id=$1 FOR UPDATE`, courseID)
}

func (p *pgQueries) getCourse(ctx context.Context, op, query string, args ...any) (*Course, error) {
	var item Course
	err := scanCourse(p.q.QueryRowContext(ctx, query, args...), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return &item, nil
}

func (p *pgQueries) InsertCourse(ctx context.Context, course Course) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO courses (id, owner_id, title, description, language_code, is_public, is_published, open_to_collab)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, course.ID, course.OwnerID, course.Title, course.Description, course.LanguageCode, course.IsPublic, course.IsPublished, course.OpenToCollab)
	if err != nil {
		return classify("insert course", err)
	}
	return nil
}

func (p *pgQueries) UpdateCourse(ctx context.Context, course Course) error {
	result, err := p.q.ExecContext(ctx, `
		UPDATE courses
		SET title=$2, description=$3, language_code=$4, is_public=$5, is_published=$6, open_to_collab=$7, updated_at=NOW()
		WHERE id=$1
	`, course.ID, course.Title, course.Description, course.LanguageCode, course.IsPublic, course.IsPublished, course.OpenToCollab)
	if err != nil {
		return classify("update course", err)
	}
	ok, err := affected("update course", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("update course", KindNotFound, fmt.Errorf("course %s", course.ID))
	}
	return nil
}

func (p *pgQueries) ListPublishedCourses(ctx context.Context) ([]Course, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE is_public AND is_published
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, classify("list published courses", err)
	}
	defer rows.Close()

	items := make([]Course, 0)
	for rows.Next() {
		var item Course
		if err := scanCourse(rows, &item); err != nil {
			return nil, classify("scan course", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate courses", err)
	}
	return items, nil
}

const unitColumns = `id, course_id, title, description, order_index, created_at, updated_at`

func scanUnit(row interface{ Scan(...any) error }, item *Unit) error {
	return row.Scan(
		&item.ID,
		&item.CourseID,
		&item.Title,
		&item.Description,
		&item.OrderIndex,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
}

func (p *pgQueries) GetUnit(ctx context.Context, unitID string) (*Unit, error) {
	var item Unit
	err := scanUnit(p.q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id=$1`, unitID), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get unit", err)
	}
	return &item, nil
}

func (p *pgQueries) ListUnits(ctx context.Context, courseID string) ([]Unit, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE course_id=$1
		ORDER BY order_index, created_at, id
	`, courseID)
	if err != nil {
		return nil, classify("list units", err)
	}
	defer rows.Close()

	items := make([]Unit, 0)
	for rows.Next() {
		var item Unit
		if err := scanUnit(rows, &item); err != nil {
			return nil, classify("scan unit", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate units", err)
	}
	return items, nil
}

func (p *pgQueries) InsertUnit(ctx context.Context, unit Unit) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO units (id, course_id, title, description, order_index)
		VALUES ($1, $2, $3, $4, $5)
	`, unit.ID, unit.CourseID, unit.Title, unit.Description, unit.OrderIndex)
	if err != nil {
		return classify("insert unit", err)
	}
	return nil
}

func (p *pgQueries) UpdateUnit(ctx context.Context, unit Unit) error {
	result, err := p.q.ExecContext(ctx, `
		UPDATE units SET title=$2, description=$3, order_index=$4, updated_at=NOW()
		WHERE id=$1
	`, unit.ID, unit.Title, unit.Description, unit.OrderIndex)
	if err != nil {
		return classify("update unit", err)
	}
	ok, err := affected("update unit", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("update unit", KindNotFound, fmt.Errorf("unit %s", unit.ID))
	}
	return nil
}

// DeleteUnit removes the unit; its lessons and their progress rows cascade.
func (p *pgQueries) DeleteUnit(ctx context.Context, unitID string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM units WHERE id=$1`, unitID)
	if err != nil {
		return classify("delete unit", err)
	}
	ok, err := affected("delete unit", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("delete unit", KindNotFound, fmt.Errorf("unit %s", unitID))
	}
	return nil
}

const lessonColumns = `l.id, l.unit_id, l.title, l.content_type, l.content, l.order_index, l.created_at, l.updated_at`

func scanLesson(row interface{ Scan(...any) error }, item *Lesson) error {
	var content []byte
	if err := row.Scan(
		&item.ID,
		&item.UnitID,
		&item.Title,
		&item.ContentType,
		&content,
		&item.OrderIndex,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return err
	}
	if len(content) > 0 {
		item.Content = append(item.Content[:0], content...)
	}
	return nil
}

func (p *pgQueries) GetLesson(ctx context.Context, lessonID string) (*Lesson, error) {
	var item Lesson
	err := scanLesson(p.q.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons l WHERE l.id=$1`, lessonID), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get lesson", err)
	}
	return &item, nil
}

func (p *pgQueries) ListLessonsByCourse(ctx context.Context, courseID string) ([]Lesson, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons l
		JOIN units u ON u.id = l.unit_id
		WHERE u.course_id=$1
		ORDER BY l.unit_id, l.order_index, l.created_at, l.id
	`, courseID)
	if err != nil {
		return nil, classify("list lessons", err)
	}
	defer rows.Close()

	items := make([]Lesson, 0)
	for rows.Next() {
		var item Lesson
		if err := scanLesson(rows, &item); err != nil {
			return nil, classify("scan lesson", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate lessons", err)
	}
	return items, nil
}

func (p *pgQueries) ListLessonIDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT l.id
		FROM lessons l
		JOIN units u ON u.id = l.unit_id
		WHERE u.course_id=$1
	`, courseID)
	if err != nil {
		return nil, classify("list lesson ids", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan lesson id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate lesson ids", err)
	}
	return ids, nil
}

func (p *pgQueries) InsertLesson(ctx context.Context, lesson Lesson) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO lessons (id, unit_id, title, content_type, content, order_index)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, lesson.ID, lesson.UnitID, lesson.Title, lesson.ContentType, jsonOrNull(lesson.Content), lesson.OrderIndex)
	if err != nil {
		return classify("insert lesson", err)
	}
	return nil
}

func (p *pgQueries) UpdateLesson(ctx context.Context, lesson Lesson) error {
	result, err := p.q.ExecContext(ctx, `
		UPDATE lessons
		SET unit_id=$2, title=$3, content_type=$4, content=$5, order_index=$6, updated_at=NOW()
		WHERE id=$1
	`, lesson.ID, lesson.UnitID, lesson.Title, lesson.ContentType, jsonOrNull(lesson.Content), lesson.OrderIndex)
	if err != nil {
		return classify("update lesson", err)
	}
	ok, err := affected("update lesson", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("update lesson", KindNotFound, fmt.Errorf("lesson %s", lesson.ID))
	}
	return nil
}

func (p *pgQueries) DeleteLesson(ctx context.Context, lessonID string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM lessons WHERE id=$1`, lessonID)
	if err != nil {
		return classify("delete lesson", err)
	}
	ok, err := affected("delete lesson", result)
	if err != nil {
		return err
	}
	if !ok {
		return NewError("delete lesson", KindNotFound, fmt.Errorf("lesson %s", lessonID))
	}
	return nil
}

func (p *pgQueries) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var item Profile
	err := p.q.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url FROM profiles WHERE id=$1
	`, userID).Scan(&item.ID, &item.DisplayName, &item.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get profile", err)
	}
	return &item, nil
}

func jsonOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
