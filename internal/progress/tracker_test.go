package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"linguist/api/internal/logger"
	"linguist/api/internal/store"
	"linguist/api/internal/store/memstore"
)

func newTestTracker(t *testing.T, lessons int) (*Tracker, *memstore.Store, *observer.ObservedLogs) {
	t.Helper()
	st := memstore.New()
	st.SeedCourse(store.Course{ID: "course-1", OwnerID: "owner", Title: "Spanish"})
	st.SeedUnit(store.Unit{ID: "unit-1", CourseID: "course-1", OrderIndex: 1})
	for i := 1; i <= lessons; i++ {
		st.SeedLesson(store.Lesson{ID: fmt.Sprintf("lesson-%d", i), UnitID: "unit-1", OrderIndex: i})
	}
	core, logs := observer.New(zap.DebugLevel)
	return NewTracker(st, logger.FromZap(zap.New(core))), st, logs
}

func enroll(st *memstore.Store, userID string) {
	st.SeedEnrollment(store.Enrollment{ID: "enr-" + userID, UserID: userID, CourseID: "course-1"})
}

func TestCompletionRatio(t *testing.T) {
	cases := []struct {
		completed, total int
		want             float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 4, 0},
		{1, 4, 0.25},
		{3, 4, 0.75},
		{4, 4, 1},
		{5, 4, 1},
	}
	for _, tc := range cases {
		if got := CompletionRatio(tc.completed, tc.total); got != tc.want {
			t.Fatalf("CompletionRatio(%d, %d) = %v, want %v", tc.completed, tc.total, got, tc.want)
		}
	}
}

func TestRecordLessonProgressRollsUpToEnrollment(t *testing.T) {
	tracker, st, _ := newTestTracker(t, 4)
	enroll(st, "learner")
	ctx := context.Background()

	for i, want := range []float64{0.25, 0.5, 0.75} {
		result, err := tracker.RecordLessonProgress(ctx, "learner", fmt.Sprintf("lesson-%d", i+1), store.ProgressCompleted)
		if err != nil {
			t.Fatalf("RecordLessonProgress() error = %v", err)
		}
		if result.Enrollment == nil || result.Enrollment.OverallProgress != want {
			t.Fatalf("overall_progress after %d completions = %+v, want %v", i+1, result.Enrollment, want)
		}
		if result.Enrollment.CompletedAt != nil {
			t.Fatalf("completed_at set before all lessons were completed")
		}
	}

	// in_progress on an unfinished lesson does not count.
	result, err := tracker.RecordLessonProgress(ctx, "learner", "lesson-4", store.ProgressInProgress)
	if err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}
	if result.Enrollment.OverallProgress != 0.75 {
		t.Fatalf("overall_progress = %v, want 0.75", result.Enrollment.OverallProgress)
	}

	result, err = tracker.RecordLessonProgress(ctx, "learner", "lesson-4", store.ProgressCompleted)
	if err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}
	if result.Enrollment.OverallProgress != 1 || result.Enrollment.CompletedAt == nil {
		t.Fatalf("expected completed enrollment, got %+v", result.Enrollment)
	}
	if rows := st.ProgressRows("learner", "lesson-4"); rows != 1 {
		t.Fatalf("progress rows for lesson-4 = %d, want 1", rows)
	}
}

func TestCompletedAtIsNeverUnset(t *testing.T) {
	tracker, st, _ := newTestTracker(t, 1)
	enroll(st, "learner")
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return first }
	if _, err := tracker.RecordLessonProgress(ctx, "learner", "lesson-1", store.ProgressCompleted); err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}

	tracker.now = func() time.Time { return first.Add(time.Hour) }
	result, err := tracker.RecordLessonProgress(ctx, "learner", "lesson-1", store.ProgressInProgress)
	if err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}
	if result.Enrollment.OverallProgress != 0 {
		t.Fatalf("overall_progress = %v, want 0", result.Enrollment.OverallProgress)
	}
	if result.Enrollment.CompletedAt == nil || !result.Enrollment.CompletedAt.Equal(first) {
		t.Fatalf("completed_at = %v, want %v", result.Enrollment.CompletedAt, first)
	}

	result, err = tracker.RecordLessonProgress(ctx, "learner", "lesson-1", store.ProgressCompleted)
	if err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}
	if !result.Enrollment.CompletedAt.Equal(first) {
		t.Fatalf("completed_at moved to %v", result.Enrollment.CompletedAt)
	}
}

func TestRecordLessonProgressWithoutEnrollment(t *testing.T) {
	tracker, st, _ := newTestTracker(t, 2)
	result, err := tracker.RecordLessonProgress(context.Background(), "visitor", "lesson-1", store.ProgressCompleted)
	if err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}
	if result.Enrollment != nil {
		t.Fatalf("expected no enrollment, got %+v", result.Enrollment)
	}
	if result.CourseID != "course-1" {
		t.Fatalf("CourseID = %q, want course-1", result.CourseID)
	}
	if rows := st.ProgressRows("visitor", "lesson-1"); rows != 1 {
		t.Fatalf("progress rows = %d, want 1", rows)
	}
}

func TestRecordLessonProgressUnknownLesson(t *testing.T) {
	tracker, _, logs := newTestTracker(t, 1)
	_, err := tracker.RecordLessonProgress(context.Background(), "learner", "missing", store.ProgressCompleted)
	if !errors.Is(err, ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("unknown lesson should not be logged, got %d entries", logs.Len())
	}
}

func TestRecordLessonProgressRejectsInvalidStatus(t *testing.T) {
	tracker, _, _ := newTestTracker(t, 1)
	_, err := tracker.RecordLessonProgress(context.Background(), "learner", "lesson-1", store.ProgressStatus("done"))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestRecomputeFailureIsLoggedAndRolledBack(t *testing.T) {
	tracker, st, logs := newTestTracker(t, 2)
	enroll(st, "learner")
	st.Fail("ListLessonProgress", errors.New("connection reset"))

	_, err := tracker.RecordLessonProgress(context.Background(), "learner", "lesson-1", store.ProgressCompleted)
	if err == nil {
		t.Fatal("expected error when recomputation fails")
	}
	if store.KindOf(err) != store.KindTransient {
		t.Fatalf("KindOf(err) = %s, want transient", store.KindOf(err))
	}
	if rows := st.ProgressRows("learner", "lesson-1"); rows != 0 {
		t.Fatalf("leaf write must roll back with the failed recompute, rows = %d", rows)
	}
	entries := logs.FilterField(zap.String("op", "progress.record")).All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 progress.record log entry, got %d", len(entries))
	}
}

func TestConcurrentCompletionsConverge(t *testing.T) {
	const lessons = 8
	tracker, st, _ := newTestTracker(t, lessons)
	enroll(st, "learner")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, lessons)
	for i := 1; i <= lessons; i++ {
		wg.Add(1)
		go func(lessonID string) {
			defer wg.Done()
			if _, err := tracker.RecordLessonProgress(ctx, "learner", lessonID, store.ProgressCompleted); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("lesson-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}

	enrollment, err := st.Repos().Enrollments.GetEnrollment(ctx, "learner", "course-1")
	if err != nil || enrollment == nil {
		t.Fatalf("GetEnrollment() = %v, %v", enrollment, err)
	}
	if enrollment.OverallProgress != 1 || enrollment.CompletedAt == nil {
		t.Fatalf("expected a completed enrollment, got %+v", enrollment)
	}
}

func TestRecomputeCourseAfterLessonAdded(t *testing.T) {
	tracker, st, _ := newTestTracker(t, 1)
	enroll(st, "a")
	enroll(st, "b")
	ctx := context.Background()
	if _, err := tracker.RecordLessonProgress(ctx, "a", "lesson-1", store.ProgressCompleted); err != nil {
		t.Fatalf("RecordLessonProgress() error = %v", err)
	}
	st.SeedLesson(store.Lesson{ID: "lesson-2", UnitID: "unit-1", OrderIndex: 2})

	err := st.WithinTx(ctx, func(repos store.Repositories) error {
		n, err := RecomputeCourse(ctx, repos, "course-1", time.Now())
		if n != 2 {
			t.Errorf("RecomputeCourse() refreshed %d enrollments, want 2", n)
		}
		return err
	})
	if err != nil {
		t.Fatalf("RecomputeCourse() error = %v", err)
	}
	enrollment, _ := st.Repos().Enrollments.GetEnrollment(ctx, "a", "course-1")
	if enrollment.OverallProgress != 0.5 {
		t.Fatalf("overall_progress = %v, want 0.5", enrollment.OverallProgress)
	}
	if enrollment.CompletedAt == nil {
		t.Fatal("completed_at must survive a ratio drop")
	}
}
