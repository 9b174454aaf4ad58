package search

import (
	"context"

	"linguist/api/internal/logger"
	"linguist/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// store-backed searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *logger.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback Searcher, log *logger.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: log.With("service", "Search")}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search: meilisearch error, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("search: fallback error", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCourse pushes a course to Meilisearch, or removes it once the course
// leaves the public catalog (fire-and-forget).
func (s *Service) IndexCourse(course store.Course) {
	if !s.meiliReady() {
		return
	}
	if !Listed(course) {
		s.DeleteCourse(course.ID)
		return
	}
	record := RecordFromCourse(course)
	go func() {
		if err := s.meili.IndexCourse(record); err != nil {
			s.log.Warn("search: index course", "course_id", record.ID, "error", err)
		}
	}()
}

// DeleteCourse removes a course from the index (fire-and-forget).
func (s *Service) DeleteCourse(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteCourse(id); err != nil {
			s.log.Warn("search: delete course", "course_id", id, "error", err)
		}
	}()
}

// ReindexAll reads every listed course from the store and pushes it to
// Meilisearch. Called at boot when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context, repos store.Repositories) {
	if !s.meiliReady() {
		return
	}
	courses, err := repos.Courses.ListPublishedCourses(ctx)
	if err != nil {
		s.log.Error("search: reindex load failed", "error", err)
		return
	}
	records := make([]CourseRecord, 0, len(courses))
	for _, course := range courses {
		records = append(records, RecordFromCourse(course))
	}
	if err := s.meili.IndexCourses(records); err != nil {
		s.log.Warn("search: reindex courses", "count", len(records), "error", err)
		return
	}
	s.log.Info("search: reindexed courses", "count", len(records))
}

// Close stops the Meilisearch health loop.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
