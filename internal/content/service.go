// Package content builds the course-with-content read model.
package content

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"linguist/api/internal/cache"
	"linguist/api/internal/logger"
	"linguist/api/internal/store"
)

// Cache is the subset of cache.RedisCache the service needs.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

type CourseContent struct {
	Course store.Course
	Units  []UnitContent
}

type UnitContent struct {
	Unit    store.Unit
	Lessons []store.Lesson
}

// LessonCount is the denominator used for overall_progress.
func (c CourseContent) LessonCount() int {
	n := 0
	for _, unit := range c.Units {
		n += len(unit.Lessons)
	}
	return n
}

type Service struct {
	store store.Store
	cache Cache
	group singleflight.Group
	log   *logger.Logger
}

// NewService builds the read model service; cache may be nil.
func NewService(st store.Store, c Cache, log *logger.Logger) *Service {
	return &Service{store: st, cache: c, log: log.With("service", "CourseContent")}
}

// GetCourseWithContent returns the course with units and lessons in
// order_index order, or nil when the course does not exist or the read
// failed. Failures are logged.
func (s *Service) GetCourseWithContent(ctx context.Context, courseID string) *CourseContent {
	if s.cache != nil {
		var cached CourseContent
		err := s.cache.Get(ctx, courseID, &cached)
		if err == nil {
			return &cached
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("content.cache_get failed", "op", "content.cache_get", "course_id", courseID, "error", err)
		}
	}

	// The fill is shared by every waiter, so it must outlive a cancelled first caller.
	fillCtx := context.WithoutCancel(ctx)
	value, err, _ := s.group.Do(courseID, func() (any, error) {
		loaded, err := Load(fillCtx, s.store.Repos(), courseID)
		if err != nil || loaded == nil {
			return loaded, err
		}
		if s.cache != nil {
			if err := s.cache.Set(fillCtx, courseID, loaded); err != nil {
				s.log.Warn("content.cache_set failed", "op", "content.cache_set", "course_id", courseID, "error", err)
			}
		}
		return loaded, nil
	})
	if err != nil {
		s.log.Error("content.get failed", "op", "content.get", "course_id", courseID, "error", err)
		return nil
	}
	loaded, _ := value.(*CourseContent)
	return loaded
}

// Invalidate drops cached content after the canonical rows change.
func (s *Service) Invalidate(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, courseID); err != nil {
		s.log.Warn("content.invalidate failed", "op", "content.invalidate", "course_id", courseID, "error", err)
	}
}

// Load reads the course tree straight from the repositories.
func Load(ctx context.Context, repos store.Repositories, courseID string) (*CourseContent, error) {
	course, err := repos.Courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	if course == nil {
		return nil, nil
	}
	units, err := repos.Units.ListUnits(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	lessons, err := repos.Lessons.ListLessonsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return Assemble(*course, units, lessons), nil
}

// Assemble groups lessons under their units. Siblings are ordered by
// order_index, then creation time, then id; gaps in order_index are fine.
func Assemble(course store.Course, units []store.Unit, lessons []store.Lesson) *CourseContent {
	sortedUnits := append([]store.Unit(nil), units...)
	sort.SliceStable(sortedUnits, func(i, j int) bool {
		a, b := sortedUnits[i], sortedUnits[j]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	byUnit := make(map[string][]store.Lesson, len(sortedUnits))
	for _, lesson := range lessons {
		byUnit[lesson.UnitID] = append(byUnit[lesson.UnitID], lesson)
	}

	out := &CourseContent{Course: course, Units: make([]UnitContent, 0, len(sortedUnits))}
	for _, unit := range sortedUnits {
		children := byUnit[unit.ID]
		sort.SliceStable(children, func(i, j int) bool {
			a, b := children[i], children[j]
			if a.OrderIndex != b.OrderIndex {
				return a.OrderIndex < b.OrderIndex
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		if children == nil {
			children = []store.Lesson{}
		}
		out.Units = append(out.Units, UnitContent{Unit: unit, Lessons: children})
	}
	return out
}
