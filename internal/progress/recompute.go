package progress

import (
	"context"
	"fmt"
	"time"

	"linguist/api/internal/store"
)

// CompletionRatio is completed/total clamped to [0,1]; a course without
// lessons has ratio 0.
func CompletionRatio(completed, total int) float64 {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 1
	}
	return float64(completed) / float64(total)
}

// Recompute rewrites overall_progress for one enrollment from the progress
// rows. It must run inside a transaction: the enrollment row stays locked
// until commit so concurrent events for the same learner apply in order.
// It returns nil when the learner is not enrolled.
func Recompute(ctx context.Context, repos store.Repositories, userID, courseID string, now time.Time) (*store.Enrollment, error) {
	enrollment, err := repos.Enrollments.LockEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if enrollment == nil {
		return nil, nil
	}

	lessonIDs, err := repos.Lessons.ListLessonIDsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list course lessons: %w", err)
	}
	completed := 0
	if len(lessonIDs) > 0 {
		rows, err := repos.Progress.ListLessonProgress(ctx, userID, lessonIDs)
		if err != nil {
			return nil, fmt.Errorf("list lesson progress: %w", err)
		}
		for _, row := range rows {
			if row.Status == store.ProgressCompleted {
				completed++
			}
		}
	}

	ratio := CompletionRatio(completed, len(lessonIDs))
	var completedAt *time.Time
	if ratio == 1 && enrollment.CompletedAt == nil {
		stamp := now
		completedAt = &stamp
	}
	if err := repos.Enrollments.UpdateEnrollmentProgress(ctx, enrollment.ID, ratio, completedAt, now); err != nil {
		return nil, fmt.Errorf("update enrollment progress: %w", err)
	}

	enrollment.OverallProgress = ratio
	if enrollment.CompletedAt == nil {
		enrollment.CompletedAt = completedAt
	}
	enrollment.UpdatedAt = now
	return enrollment, nil
}

// RecomputeCourse refreshes every enrollment of a course, e.g. after lessons
// were added or removed.
func RecomputeCourse(ctx context.Context, repos store.Repositories, courseID string, now time.Time) (int, error) {
	enrollments, err := repos.Enrollments.ListEnrollmentsByCourse(ctx, courseID)
	if err != nil {
		return 0, fmt.Errorf("list course enrollments: %w", err)
	}
	for _, enrollment := range enrollments {
		if _, err := Recompute(ctx, repos, enrollment.UserID, courseID, now); err != nil {
			return 0, err
		}
	}
	return len(enrollments), nil
}
