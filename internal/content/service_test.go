package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"linguist/api/internal/cache"
	"linguist/api/internal/logger"
	"linguist/api/internal/store"
	"linguist/api/internal/store/memstore"
)

func seedOrderingScenario(st *memstore.Store) {
	st.SeedCourse(store.Course{ID: "course-1", OwnerID: "owner", Title: "Portuguese"})
	st.SeedUnit(store.Unit{ID: "unit-a", CourseID: "course-1", Title: "A", OrderIndex: 2})
	st.SeedUnit(store.Unit{ID: "unit-b", CourseID: "course-1", Title: "B", OrderIndex: 1})
	st.SeedLesson(store.Lesson{ID: "lesson-a1", UnitID: "unit-a", Title: "A1", OrderIndex: 2})
	st.SeedLesson(store.Lesson{ID: "lesson-a2", UnitID: "unit-a", Title: "A2", OrderIndex: 1})
}

func newTestService(t *testing.T, c Cache) (*Service, *memstore.Store, *observer.ObservedLogs) {
	t.Helper()
	st := memstore.New()
	seedOrderingScenario(st)
	core, logs := observer.New(zap.DebugLevel)
	return NewService(st, c, logger.FromZap(zap.New(core))), st, logs
}

func TestGetCourseWithContentOrdering(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	got := service.GetCourseWithContent(context.Background(), "course-1")
	if got == nil {
		t.Fatal("GetCourseWithContent() = nil")
	}
	if len(got.Units) != 2 || got.Units[0].Unit.ID != "unit-b" || got.Units[1].Unit.ID != "unit-a" {
		t.Fatalf("units out of order: %+v", got.Units)
	}
	if len(got.Units[0].Lessons) != 0 {
		t.Fatalf("unit B should have no lessons, got %d", len(got.Units[0].Lessons))
	}
	lessons := got.Units[1].Lessons
	if len(lessons) != 2 || lessons[0].ID != "lesson-a2" || lessons[1].ID != "lesson-a1" {
		t.Fatalf("lessons out of order: %+v", lessons)
	}
	if got.LessonCount() != 2 {
		t.Fatalf("LessonCount() = %d, want 2", got.LessonCount())
	}
}

func TestAssembleBreaksTiesByCreationThenID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	units := []store.Unit{
		{ID: "u3", OrderIndex: 1, CreatedAt: base.Add(time.Minute)},
		{ID: "u2", OrderIndex: 1, CreatedAt: base},
		{ID: "u1", OrderIndex: 1, CreatedAt: base},
	}
	got := Assemble(store.Course{ID: "c"}, units, nil)
	order := []string{got.Units[0].Unit.ID, got.Units[1].Unit.ID, got.Units[2].Unit.ID}
	if order[0] != "u1" || order[1] != "u2" || order[2] != "u3" {
		t.Fatalf("unit order = %v, want [u1 u2 u3]", order)
	}
}

func TestGetCourseWithContentMissingAndFailure(t *testing.T) {
	service, st, logs := newTestService(t, nil)
	ctx := context.Background()

	if got := service.GetCourseWithContent(ctx, "missing"); got != nil {
		t.Fatalf("expected nil for missing course, got %+v", got)
	}
	if logs.Len() != 0 {
		t.Fatalf("missing course must not be logged, got %d entries", logs.Len())
	}

	st.Fail("ListUnits", errors.New("connection refused"))
	if got := service.GetCourseWithContent(ctx, "course-1"); got != nil {
		t.Fatalf("expected nil on failure, got %+v", got)
	}
	if n := len(logs.FilterField(zap.String("op", "content.get")).All()); n != 1 {
		t.Fatalf("expected 1 content.get entry, got %d", n)
	}
}

func TestGetCourseWithContentFillSurvivesCancelledCaller(t *testing.T) {
	service, _, logs := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := service.GetCourseWithContent(ctx, "course-1")
	if got == nil || len(got.Units) != 2 {
		t.Fatalf("expected the shared load to finish, got %+v", got)
	}
	if n := len(logs.FilterField(zap.String("op", "content.get")).All()); n != 0 {
		t.Fatalf("expected no content.get failures, got %d", n)
	}
}

func TestGetCourseWithContentUsesCacheUntilInvalidated(t *testing.T) {
	s := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache("redis://"+s.Addr(), "course_content:", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	service, st, _ := newTestService(t, redisCache)
	ctx := context.Background()

	if got := service.GetCourseWithContent(ctx, "course-1"); got == nil {
		t.Fatal("first read returned nil")
	}
	if !s.Exists("course_content:course-1") {
		t.Fatal("expected the read to fill the cache")
	}

	// A store outage is invisible while the entry is cached.
	st.Fail("GetCourse", errors.New("down"))
	got := service.GetCourseWithContent(ctx, "course-1")
	if got == nil || got.Units[1].Lessons[0].ID != "lesson-a2" {
		t.Fatalf("cached read = %+v", got)
	}
	st.Recover()

	st.SeedLesson(store.Lesson{ID: "lesson-a0", UnitID: "unit-a", Title: "A0", OrderIndex: 0})
	service.Invalidate(ctx, "course-1")
	got = service.GetCourseWithContent(ctx, "course-1")
	if got.Units[1].Lessons[0].ID != "lesson-a0" {
		t.Fatalf("expected fresh content after invalidation, got %+v", got.Units[1].Lessons)
	}
}
