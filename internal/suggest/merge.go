package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"linguist/api/internal/progress"
	"linguist/api/internal/store"
)

// MergeResult describes what a merge changed in the canonical course.
type MergeResult struct {
	Edit           store.SuggestedChange
	CourseID       string
	CourseUpdated  bool
	CreatedUnits   map[string]string // ref -> new unit id
	UpdatedUnits   []string
	DeletedUnits   []string
	CreatedLessons []string
	UpdatedLessons []string
	DeletedLessons []string
	Recomputed     int
}

// merge applies the payload with the caller's transactional repositories and
// stamps merged_at. Any error leaves the transaction to roll everything back.
func (w *Workflow) merge(ctx context.Context, repos store.Repositories, change store.SuggestedChange) (*MergeResult, error) {
	payload, err := ParsePayload(change.Payload)
	if err != nil {
		return nil, err
	}
	// Every merge into a course takes the course row lock first, so two
	// approvals never rewrite the same rows from stale copies.
	course, err := repos.Courses.LockCourse(ctx, change.CourseID)
	if err != nil {
		return nil, fmt.Errorf("lock course: %w", err)
	}
	if course == nil {
		return nil, fmt.Errorf("%w: course %s", ErrPayloadMismatch, change.CourseID)
	}
	now := w.now()
	m := &merger{
		repos:    repos,
		courseID: change.CourseID,
		now:      now,
		result:   &MergeResult{CourseID: change.CourseID, CreatedUnits: map[string]string{}},
	}

	if err := m.applyCourse(ctx, course, payload.Course); err != nil {
		return nil, err
	}
	if err := m.applyUnits(ctx, payload.Units); err != nil {
		return nil, err
	}
	if err := m.applyLessons(ctx, payload.Lessons); err != nil {
		return nil, err
	}

	if payload.ChangesLessonCount() {
		n, err := progress.RecomputeCourse(ctx, repos, change.CourseID, now)
		if err != nil {
			return nil, err
		}
		m.result.Recomputed = n
	}

	ok, err := repos.Suggestions.MarkSuggestedChangeMerged(ctx, change.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark suggested change merged: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyMerged
	}
	merged := now
	change.MergedAt = &merged
	change.UpdatedAt = now
	m.result.Edit = change
	return m.result, nil
}

type merger struct {
	repos    store.Repositories
	courseID string
	now      time.Time
	result   *MergeResult
}

func (m *merger) applyCourse(ctx context.Context, course *store.Course, patch *CoursePatch) error {
	if patch == nil {
		return nil
	}
	if patch.Title != nil {
		course.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		course.Description = *patch.Description
	}
	if patch.IsPublic != nil {
		course.IsPublic = *patch.IsPublic
	}
	if patch.IsPublished != nil {
		course.IsPublished = *patch.IsPublished
	}
	if patch.OpenToCollab != nil {
		course.OpenToCollab = *patch.OpenToCollab
	}
	course.UpdatedAt = m.now
	if err := m.repos.Courses.UpdateCourse(ctx, *course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	m.result.CourseUpdated = true
	return nil
}

func (m *merger) applyUnits(ctx context.Context, patches []UnitPatch) error {
	for _, patch := range patches {
		if patch.Ref != "" {
			unit := store.Unit{
				ID:        uuid.NewString(),
				CourseID:  m.courseID,
				Title:     strings.TrimSpace(*patch.Title),
				CreatedAt: m.now,
				UpdatedAt: m.now,
			}
			if patch.Description != nil {
				unit.Description = *patch.Description
			}
			if patch.OrderIndex != nil {
				unit.OrderIndex = *patch.OrderIndex
			}
			if err := m.repos.Units.InsertUnit(ctx, unit); err != nil {
				return fmt.Errorf("insert unit: %w", err)
			}
			m.result.CreatedUnits[patch.Ref] = unit.ID
			continue
		}

		unit, err := m.ownedUnit(ctx, patch.ID)
		if err != nil {
			return err
		}
		if patch.Delete {
			if err := m.repos.Units.DeleteUnit(ctx, unit.ID); err != nil {
				return fmt.Errorf("delete unit: %w", err)
			}
			m.result.DeletedUnits = append(m.result.DeletedUnits, unit.ID)
			continue
		}
		if patch.Title != nil {
			unit.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			unit.Description = *patch.Description
		}
		if patch.OrderIndex != nil {
			unit.OrderIndex = *patch.OrderIndex
		}
		unit.UpdatedAt = m.now
		if err := m.repos.Units.UpdateUnit(ctx, *unit); err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		m.result.UpdatedUnits = append(m.result.UpdatedUnits, unit.ID)
	}
	return nil
}

func (m *merger) applyLessons(ctx context.Context, patches []LessonPatch) error {
	for _, patch := range patches {
		targetUnit := ""
		switch {
		case patch.UnitRef != "":
			targetUnit = m.result.CreatedUnits[patch.UnitRef]
		case patch.UnitID != "":
			unit, err := m.ownedUnit(ctx, patch.UnitID)
			if err != nil {
				return err
			}
			targetUnit = unit.ID
		}

		if patch.ID == "" {
			lesson := store.Lesson{
				ID:          uuid.NewString(),
				UnitID:      targetUnit,
				Title:       strings.TrimSpace(*patch.Title),
				ContentType: strings.TrimSpace(*patch.ContentType),
				Content:     patch.Content,
				CreatedAt:   m.now,
				UpdatedAt:   m.now,
			}
			if patch.OrderIndex != nil {
				lesson.OrderIndex = *patch.OrderIndex
			}
			if err := m.repos.Lessons.InsertLesson(ctx, lesson); err != nil {
				return fmt.Errorf("insert lesson: %w", err)
			}
			m.result.CreatedLessons = append(m.result.CreatedLessons, lesson.ID)
			continue
		}

		lesson, err := m.ownedLesson(ctx, patch.ID)
		if err != nil {
			return err
		}
		if patch.Delete {
			if err := m.repos.Lessons.DeleteLesson(ctx, lesson.ID); err != nil {
				return fmt.Errorf("delete lesson: %w", err)
			}
			m.result.DeletedLessons = append(m.result.DeletedLessons, lesson.ID)
			continue
		}
		if targetUnit != "" {
			lesson.UnitID = targetUnit
		}
		if patch.Title != nil {
			lesson.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.ContentType != nil {
			lesson.ContentType = strings.TrimSpace(*patch.ContentType)
		}
		if len(patch.Content) > 0 {
			lesson.Content = patch.Content
		}
		if patch.OrderIndex != nil {
			lesson.OrderIndex = *patch.OrderIndex
		}
		lesson.UpdatedAt = m.now
		if err := m.repos.Lessons.UpdateLesson(ctx, *lesson); err != nil {
			return fmt.Errorf("update lesson: %w", err)
		}
		m.result.UpdatedLessons = append(m.result.UpdatedLessons, lesson.ID)
	}
	return nil
}

func (m *merger) ownedUnit(ctx context.Context, unitID string) (*store.Unit, error) {
	unit, err := m.repos.Units.GetUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	if unit == nil || unit.CourseID != m.courseID {
		return nil, fmt.Errorf("%w: unit %s", ErrPayloadMismatch, unitID)
	}
	return unit, nil
}

// ownedLesson also rejects lessons removed earlier in the same merge, e.g.
// by deleting their unit.
func (m *merger) ownedLesson(ctx context.Context, lessonID string) (*store.Lesson, error) {
	lesson, err := m.repos.Lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if lesson == nil {
		return nil, fmt.Errorf("%w: lesson %s", ErrPayloadMismatch, lessonID)
	}
	if _, err := m.ownedUnit(ctx, lesson.UnitID); err != nil {
		if errors.Is(err, ErrPayloadMismatch) {
			return nil, fmt.Errorf("%w: lesson %s", ErrPayloadMismatch, lessonID)
		}
		return nil, err
	}
	return lesson, nil
}
