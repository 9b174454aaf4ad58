package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"linguist/api/internal/store"
)

func (r *repos) GetLessonProgress(ctx context.Context, userID, lessonID string) (*store.LessonProgress, error) {
	d, release, err := r.begin(ctx, "GetLessonProgress")
	if err != nil {
		return nil, err
	}
	defer release()
	if row, ok := findProgress(d, userID, lessonID); ok {
		return &row, nil
	}
	return nil, nil
}

func (r *repos) InsertLessonProgress(ctx context.Context, progress store.LessonProgress) error {
	d, release, err := r.begin(ctx, "InsertLessonProgress")
	if err != nil {
		return err
	}
	defer release()
	if _, ok := findProgress(d, progress.UserID, progress.LessonID); ok {
		return conflict("insert lesson progress", "progress for user %s lesson %s exists", progress.UserID, progress.LessonID)
	}
	if _, ok := d.lessons[progress.LessonID]; !ok {
		return notFound("insert lesson progress", "lesson %s", progress.LessonID)
	}
	progress.UpdatedAt = progress.CreatedAt
	d.progress[progress.ID] = progress
	return nil
}

func (r *repos) UpdateLessonProgressStatus(ctx context.Context, userID, lessonID string, status store.ProgressStatus, at time.Time) (bool, error) {
	d, release, err := r.begin(ctx, "UpdateLessonProgressStatus")
	if err != nil {
		return false, err
	}
	defer release()
	row, ok := findProgress(d, userID, lessonID)
	if !ok {
		return false, nil
	}
	row.Status = status
	row.UpdatedAt = at
	d.progress[row.ID] = row
	return true, nil
}

func (r *repos) ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]store.LessonProgress, error) {
	d, release, err := r.begin(ctx, "ListLessonProgress")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.LessonProgress, 0)
	for _, row := range d.progress {
		if row.UserID == userID && slices.Contains(lessonIDs, row.LessonID) {
			items = append(items, row)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func findProgress(d *dataset, userID, lessonID string) (store.LessonProgress, bool) {
	for _, row := range d.progress {
		if row.UserID == userID && row.LessonID == lessonID {
			return row, true
		}
	}
	return store.LessonProgress{}, false
}

func (r *repos) GetEnrollment(ctx context.Context, userID, courseID string) (*store.Enrollment, error) {
	return r.getEnrollment(ctx, "GetEnrollment", userID, courseID)
}

// LockEnrollment needs no extra locking: transactions already hold the store mutex.
func (r *repos) LockEnrollment(ctx context.Context, userID, courseID string) (*store.Enrollment, error) {
	return r.getEnrollment(ctx, "LockEnrollment", userID, courseID)
}

func (r *repos) getEnrollment(ctx context.Context, method, userID, courseID string) (*store.Enrollment, error) {
	d, release, err := r.begin(ctx, method)
	if err != nil {
		return nil, err
	}
	defer release()
	if row, ok := findEnrollment(d, userID, courseID); ok {
		return &row, nil
	}
	return nil, nil
}

func (r *repos) InsertEnrollment(ctx context.Context, enrollment store.Enrollment) error {
	d, release, err := r.begin(ctx, "InsertEnrollment")
	if err != nil {
		return err
	}
	defer release()
	if _, ok := findEnrollment(d, enrollment.UserID, enrollment.CourseID); ok {
		return conflict("insert enrollment", "user %s already enrolled in %s", enrollment.UserID, enrollment.CourseID)
	}
	if _, ok := d.courses[enrollment.CourseID]; !ok {
		return notFound("insert enrollment", "course %s", enrollment.CourseID)
	}
	enrollment.UpdatedAt = enrollment.EnrolledAt
	d.enrollments[enrollment.ID] = enrollment
	return nil
}

func (r *repos) UpdateEnrollmentProgress(ctx context.Context, enrollmentID string, progress float64, completedAt *time.Time, at time.Time) error {
	d, release, err := r.begin(ctx, "UpdateEnrollmentProgress")
	if err != nil {
		return err
	}
	defer release()
	row, ok := d.enrollments[enrollmentID]
	if !ok {
		return notFound("update enrollment progress", "enrollment %s", enrollmentID)
	}
	row.OverallProgress = progress
	if row.CompletedAt == nil && completedAt != nil {
		t := *completedAt
		row.CompletedAt = &t
	}
	row.UpdatedAt = at
	d.enrollments[enrollmentID] = row
	return nil
}

func (r *repos) ListEnrollmentsByUser(ctx context.Context, userID string) ([]store.Enrollment, error) {
	d, release, err := r.begin(ctx, "ListEnrollmentsByUser")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.Enrollment, 0)
	for _, row := range d.enrollments {
		if row.UserID == userID {
			items = append(items, row)
		}
	}
	sortNewestFirst(items, func(e store.Enrollment) time.Time { return e.EnrolledAt }, func(e store.Enrollment) string { return e.ID })
	return items, nil
}

func (r *repos) ListEnrollmentsByCourse(ctx context.Context, courseID string) ([]store.Enrollment, error) {
	d, release, err := r.begin(ctx, "ListEnrollmentsByCourse")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.Enrollment, 0)
	for _, row := range d.enrollments {
		if row.CourseID == courseID {
			items = append(items, row)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EnrolledAt.Equal(items[j].EnrolledAt) {
			return items[i].EnrolledAt.Before(items[j].EnrolledAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func findEnrollment(d *dataset, userID, courseID string) (store.Enrollment, bool) {
	for _, row := range d.enrollments {
		if row.UserID == userID && row.CourseID == courseID {
			return row, true
		}
	}
	return store.Enrollment{}, false
}

func (r *repos) GetCollaborator(ctx context.Context, collaboratorID string) (*store.Collaborator, error) {
	d, release, err := r.begin(ctx, "GetCollaborator")
	if err != nil {
		return nil, err
	}
	defer release()
	row, ok := d.collaborators[collaboratorID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *repos) GetCollaboratorByCourseUser(ctx context.Context, courseID, userID string) (*store.Collaborator, error) {
	d, release, err := r.begin(ctx, "GetCollaboratorByCourseUser")
	if err != nil {
		return nil, err
	}
	defer release()
	if row, ok := findCollaborator(d, courseID, userID); ok {
		return &row, nil
	}
	return nil, nil
}

func (r *repos) InsertCollaborator(ctx context.Context, collaborator store.Collaborator) error {
	d, release, err := r.begin(ctx, "InsertCollaborator")
	if err != nil {
		return err
	}
	defer release()
	if _, ok := findCollaborator(d, collaborator.CourseID, collaborator.UserID); ok {
		return conflict("insert collaborator", "user %s already linked to course %s", collaborator.UserID, collaborator.CourseID)
	}
	collaborator.UpdatedAt = collaborator.CreatedAt
	d.collaborators[collaborator.ID] = collaborator
	return nil
}

func (r *repos) TransitionCollaborator(ctx context.Context, collaboratorID string, to store.CollaboratorStatus, from []store.CollaboratorStatus, at time.Time) (bool, error) {
	d, release, err := r.begin(ctx, "TransitionCollaborator")
	if err != nil {
		return false, err
	}
	defer release()
	row, ok := d.collaborators[collaboratorID]
	if !ok || !slices.Contains(from, row.Status) {
		return false, nil
	}
	row.Status = to
	row.UpdatedAt = at
	d.collaborators[row.ID] = row
	return true, nil
}

func (r *repos) TransitionCollaboratorByCourseUser(ctx context.Context, courseID, userID string, to store.CollaboratorStatus, from []store.CollaboratorStatus, at time.Time) (bool, error) {
	d, release, err := r.begin(ctx, "TransitionCollaboratorByCourseUser")
	if err != nil {
		return false, err
	}
	defer release()
	row, ok := findCollaborator(d, courseID, userID)
	if !ok || !slices.Contains(from, row.Status) {
		return false, nil
	}
	row.Status = to
	row.UpdatedAt = at
	d.collaborators[row.ID] = row
	return true, nil
}

func (r *repos) ListCollaborators(ctx context.Context, courseID string) ([]store.CollaboratorWithProfile, error) {
	d, release, err := r.begin(ctx, "ListCollaborators")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.CollaboratorWithProfile, 0)
	for _, row := range d.collaborators {
		if row.CourseID != courseID {
			continue
		}
		item := store.CollaboratorWithProfile{Collaborator: row}
		if profile, ok := d.profiles[row.UserID]; ok {
			item.DisplayName = profile.DisplayName
			item.AvatarURL = profile.AvatarURL
		}
		items = append(items, item)
	}
	sortNewestFirst(items,
		func(c store.CollaboratorWithProfile) time.Time { return c.UpdatedAt },
		func(c store.CollaboratorWithProfile) string { return c.ID },
	)
	return items, nil
}

func findCollaborator(d *dataset, courseID, userID string) (store.Collaborator, bool) {
	for _, row := range d.collaborators {
		if row.CourseID == courseID && row.UserID == userID {
			return row, true
		}
	}
	return store.Collaborator{}, false
}

func (r *repos) GetSuggestedChange(ctx context.Context, changeID string) (*store.SuggestedChange, error) {
	d, release, err := r.begin(ctx, "GetSuggestedChange")
	if err != nil {
		return nil, err
	}
	defer release()
	row, ok := d.suggestions[changeID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *repos) InsertSuggestedChange(ctx context.Context, change store.SuggestedChange) error {
	d, release, err := r.begin(ctx, "InsertSuggestedChange")
	if err != nil {
		return err
	}
	defer release()
	if _, exists := d.suggestions[change.ID]; exists {
		return conflict("insert suggested change", "suggested change %s exists", change.ID)
	}
	if _, ok := d.collaborators[change.CollaboratorID]; !ok {
		return notFound("insert suggested change", "collaborator %s", change.CollaboratorID)
	}
	change.Payload = append([]byte(nil), change.Payload...)
	change.UpdatedAt = change.CreatedAt
	d.suggestions[change.ID] = change
	return nil
}

func (r *repos) ListSuggestedChanges(ctx context.Context, courseID string) ([]store.SuggestedChange, error) {
	d, release, err := r.begin(ctx, "ListSuggestedChanges")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.SuggestedChange, 0)
	for _, row := range d.suggestions {
		if row.CourseID == courseID {
			items = append(items, row)
		}
	}
	sortNewestFirst(items, func(c store.SuggestedChange) time.Time { return c.CreatedAt }, func(c store.SuggestedChange) string { return c.ID })
	return items, nil
}

func (r *repos) ReviewSuggestedChange(ctx context.Context, changeID string, status store.SuggestionStatus, reviewerID string, at time.Time) (bool, error) {
	d, release, err := r.begin(ctx, "ReviewSuggestedChange")
	if err != nil {
		return false, err
	}
	defer release()
	row, ok := d.suggestions[changeID]
	if !ok || row.Status != store.SuggestionPending {
		return false, nil
	}
	reviewer := reviewerID
	reviewedAt := at
	row.Status = status
	row.ReviewedBy = &reviewer
	row.ReviewedAt = &reviewedAt
	row.UpdatedAt = at
	d.suggestions[changeID] = row
	return true, nil
}

func (r *repos) MarkSuggestedChangeMerged(ctx context.Context, changeID string, at time.Time) (bool, error) {
	d, release, err := r.begin(ctx, "MarkSuggestedChangeMerged")
	if err != nil {
		return false, err
	}
	defer release()
	row, ok := d.suggestions[changeID]
	if !ok || row.Status != store.SuggestionApproved || row.MergedAt != nil {
		return false, nil
	}
	mergedAt := at
	row.MergedAt = &mergedAt
	row.UpdatedAt = at
	d.suggestions[changeID] = row
	return true, nil
}
