package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const collaboratorColumns = `c.id, c.course_id, c.user_id, c.status, c.created_at, c.updated_at`

func scanCollaborator(row interface{ Scan(...any) error }, item *Collaborator, extra ...any) error {
	dest := []any{&item.ID, &item.CourseID, &item.UserID, &item.Status, &item.CreatedAt, &item.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

func (p *pgQueries) GetCollaborator(ctx context.Context, collaboratorID string) (*Collaborator, error) {
	var item Collaborator
	err := scanCollaborator(p.q.QueryRowContext(ctx, `
		SELECT `+collaboratorColumns+` FROM collaborators c WHERE c.id=$1
	`, collaboratorID), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get collaborator", err)
	}
	return &item, nil
}

func (p *pgQueries) GetCollaboratorByCourseUser(ctx context.Context, courseID, userID string) (*Collaborator, error) {
	var item Collaborator
	err := scanCollaborator(p.q.QueryRowContext(ctx, `
		SELECT `+collaboratorColumns+` FROM collaborators c WHERE c.course_id=$1 AND c.user_id=$2
	`, courseID, userID), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get course collaborator", err)
	}
	return &item, nil
}

// InsertCollaborator is a plain INSERT: the unique (course_id, user_id) index
// surfaces as a classified conflict for the caller to resolve.
func (p *pgQueries) InsertCollaborator(ctx context.Context, collaborator Collaborator) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO collaborators (id, course_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, collaborator.ID, collaborator.CourseID, collaborator.UserID, collaborator.Status, collaborator.CreatedAt)
	if err != nil {
		return classify("insert collaborator", err)
	}
	return nil
}

func (p *pgQueries) TransitionCollaborator(ctx context.Context, collaboratorID string, to CollaboratorStatus, from []CollaboratorStatus, at time.Time) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		UPDATE collaborators SET status=$2, updated_at=$4
		WHERE id=$1 AND status = ANY($3)
	`, collaboratorID, to, statusStrings(from), at)
	if err != nil {
		return false, classify("transition collaborator", err)
	}
	return affected("transition collaborator", result)
}

func (p *pgQueries) TransitionCollaboratorByCourseUser(ctx context.Context, courseID, userID string, to CollaboratorStatus, from []CollaboratorStatus, at time.Time) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		UPDATE collaborators SET status=$3, updated_at=$5
		WHERE course_id=$1 AND user_id=$2 AND status = ANY($4)
	`, courseID, userID, to, statusStrings(from), at)
	if err != nil {
		return false, classify("transition course collaborator", err)
	}
	return affected("transition course collaborator", result)
}

func (p *pgQueries) ListCollaborators(ctx context.Context, courseID string) ([]CollaboratorWithProfile, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+collaboratorColumns+`, COALESCE(pr.display_name, ''), COALESCE(pr.avatar_url, '')
		FROM collaborators c
		LEFT JOIN profiles pr ON pr.id = c.user_id
		WHERE c.course_id=$1
		ORDER BY c.updated_at DESC, c.id DESC
	`, courseID)
	if err != nil {
		return nil, classify("list collaborators", err)
	}
	defer rows.Close()

	items := make([]CollaboratorWithProfile, 0)
	for rows.Next() {
		var item CollaboratorWithProfile
		if err := scanCollaborator(rows, &item.Collaborator, &item.DisplayName, &item.AvatarURL); err != nil {
			return nil, classify("scan collaborator", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate collaborators", err)
	}
	return items, nil
}

const suggestionColumns = `id, course_id, collaborator_id, author_id, summary, payload, status, reviewed_by, reviewed_at, merged_at, created_at, updated_at`

func scanSuggestion(row interface{ Scan(...any) error }, item *SuggestedChange) error {
	var (
		payload    []byte
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
		mergedAt   sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.CourseID,
		&item.CollaboratorID,
		&item.AuthorID,
		&item.Summary,
		&payload,
		&item.Status,
		&reviewedBy,
		&reviewedAt,
		&mergedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return err
	}
	item.Payload = append(item.Payload[:0], payload...)
	item.ReviewedBy = stringPtr(reviewedBy)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		item.ReviewedAt = &t
	}
	if mergedAt.Valid {
		t := mergedAt.Time
		item.MergedAt = &t
	}
	return nil
}

func (p *pgQueries) GetSuggestedChange(ctx context.Context, changeID string) (*SuggestedChange, error) {
	var item SuggestedChange
	err := scanSuggestion(p.q.QueryRowContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggested_changes WHERE id=$1
	`, changeID), &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get suggested change", err)
	}
	return &item, nil
}

func (p *pgQueries) InsertSuggestedChange(ctx context.Context, change SuggestedChange) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO suggested_changes (id, course_id, collaborator_id, author_id, summary, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, change.ID, change.CourseID, change.CollaboratorID, change.AuthorID, change.Summary, string(change.Payload), change.Status, change.CreatedAt)
	if err != nil {
		return classify("insert suggested change", err)
	}
	return nil
}

func (p *pgQueries) ListSuggestedChanges(ctx context.Context, courseID string) ([]SuggestedChange, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+suggestionColumns+`
		FROM suggested_changes
		WHERE course_id=$1
		ORDER BY created_at DESC, id DESC
	`, courseID)
	if err != nil {
		return nil, classify("list suggested changes", err)
	}
	defer rows.Close()

	items := make([]SuggestedChange, 0)
	for rows.Next() {
		var item SuggestedChange
		if err := scanSuggestion(rows, &item); err != nil {
			return nil, classify("scan suggested change", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate suggested changes", err)
	}
	return items, nil
}

func (p *pgQueries) ReviewSuggestedChange(ctx context.Context, changeID string, status SuggestionStatus, reviewerID string, at time.Time) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		UPDATE suggested_changes
		SET status=$2, reviewed_by=$3, reviewed_at=$4, updated_at=$4
		WHERE id=$1 AND status='pending'
	`, changeID, status, nullIfEmpty(reviewerID), at)
	if err != nil {
		return false, classify("review suggested change", err)
	}
	return affected("review suggested change", result)
}

func (p *pgQueries) MarkSuggestedChangeMerged(ctx context.Context, changeID string, at time.Time) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		UPDATE suggested_changes SET merged_at=$2, updated_at=$2
		WHERE id=$1 AND status='approved' AND merged_at IS NULL
	`, changeID, at)
	if err != nil {
		return false, classify("mark suggested change merged", err)
	}
	return affected("mark suggested change merged", result)
}

func statusStrings(values []CollaboratorStatus) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, string(value))
	}
	return out
}
