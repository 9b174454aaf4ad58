package search

import (
	"context"

	"linguist/api/internal/store"
)

// Result is a single catalog hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	LanguageCode string `json:"languageCode"`
}

// Query describes a catalog search request.
type Query struct {
	Text         string
	LanguageCode string // empty = all languages
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a catalog search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// CourseRecord is the data we index for a course.
type CourseRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	LanguageCode string `json:"languageCode"`
	OwnerID      string `json:"ownerId"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// Listed reports whether a course belongs in the public catalog.
func Listed(course store.Course) bool {
	return course.IsPublic && course.IsPublished
}

func RecordFromCourse(course store.Course) CourseRecord {
	return CourseRecord{
		ID:           course.ID,
		Title:        course.Title,
		Description:  course.Description,
		LanguageCode: course.LanguageCode,
		OwnerID:      course.OwnerID,
		UpdatedAt:    course.UpdatedAt.Unix(),
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
