package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"linguist/api/internal/logger"
	"linguist/api/internal/store"
	"linguist/api/internal/telemetry"
)

var (
	ErrLessonNotFound = errors.New("lesson not found")
	ErrInvalidStatus  = errors.New("invalid progress status")
)

type Tracker struct {
	store store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewTracker(st store.Store, log *logger.Logger) *Tracker {
	return &Tracker{
		store: st,
		log:   log.With("service", "ProgressTracker"),
		now:   time.Now,
	}
}

// Result is the state after one recorded progress event. Enrollment is nil
// when the learner is not enrolled in the lesson's course; the leaf row is
// still written in that case.
type Result struct {
	Progress   store.LessonProgress
	CourseID   string
	Enrollment *store.Enrollment
}

// RecordLessonProgress upserts the learner's row for one lesson and recomputes
// the course aggregate in the same transaction.
func (t *Tracker) RecordLessonProgress(ctx context.Context, userID, lessonID string, status store.ProgressStatus) (*Result, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	ctx, span := telemetry.Start(ctx, "progress.record",
		attribute.String("user.id", userID),
		attribute.String("lesson.id", lessonID),
	)
	defer span.End()

	var result *Result
	err := t.store.WithinTx(ctx, func(repos store.Repositories) error {
		courseID, err := resolveCourse(ctx, repos, lessonID)
		if err != nil {
			return err
		}
		row, err := t.upsert(ctx, repos, userID, lessonID, status)
		if err != nil {
			return err
		}
		enrollment, err := Recompute(ctx, repos, userID, courseID, t.now())
		if err != nil {
			return err
		}
		result = &Result{Progress: row, CourseID: courseID, Enrollment: enrollment}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrLessonNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record progress")
			t.log.Error("progress.record failed", "op", "progress.record", "user_id", userID, "lesson_id", lessonID, "error", err)
		}
		return nil, err
	}
	return result, nil
}

// upsert treats a missing row as "insert". A conflicting insert means a
// concurrent request created the row first, so the update path takes over.
func (t *Tracker) upsert(ctx context.Context, repos store.Repositories, userID, lessonID string, status store.ProgressStatus) (store.LessonProgress, error) {
	now := t.now()
	existing, err := repos.Progress.GetLessonProgress(ctx, userID, lessonID)
	if err != nil {
		return store.LessonProgress{}, fmt.Errorf("get lesson progress: %w", err)
	}
	if existing == nil {
		row := store.LessonProgress{
			ID:        uuid.NewString(),
			UserID:    userID,
			LessonID:  lessonID,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := repos.Progress.InsertLessonProgress(ctx, row)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return store.LessonProgress{}, fmt.Errorf("insert lesson progress: %w", err)
		}
	}
	updated, err := repos.Progress.UpdateLessonProgressStatus(ctx, userID, lessonID, status, now)
	if err != nil {
		return store.LessonProgress{}, fmt.Errorf("update lesson progress: %w", err)
	}
	if !updated {
		return store.LessonProgress{}, fmt.Errorf("update lesson progress: %w", store.ErrNotFound)
	}
	row, err := repos.Progress.GetLessonProgress(ctx, userID, lessonID)
	if err != nil {
		return store.LessonProgress{}, fmt.Errorf("reload lesson progress: %w", err)
	}
	if row == nil {
		return store.LessonProgress{}, fmt.Errorf("reload lesson progress: %w", store.ErrNotFound)
	}
	return *row, nil
}

func resolveCourse(ctx context.Context, repos store.Repositories, lessonID string) (string, error) {
	lesson, err := repos.Lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return "", fmt.Errorf("get lesson: %w", err)
	}
	if lesson == nil {
		return "", ErrLessonNotFound
	}
	unit, err := repos.Units.GetUnit(ctx, lesson.UnitID)
	if err != nil {
		return "", fmt.Errorf("get unit: %w", err)
	}
	if unit == nil {
		return "", fmt.Errorf("%w: unit %s missing", ErrLessonNotFound, lesson.UnitID)
	}
	return unit.CourseID, nil
}
