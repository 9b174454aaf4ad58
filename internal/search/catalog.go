package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"linguist/api/internal/store"
)

// Catalog searches the published catalog straight from the store. It backs
// the in-memory driver where PostgreSQL full-text search is unavailable.
type Catalog struct {
	courses store.CourseRepository
}

func NewCatalog(courses store.CourseRepository) *Catalog {
	return &Catalog{courses: courses}
}

// Search matches every query term case-insensitively against title and
// description. Title matches rank first.
func (c *Catalog) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	courses, err := c.courses.ListPublishedCourses(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list published courses: %w", err)
	}

	type scored struct {
		course store.Course
		score  int
	}
	var matches []scored
	for _, course := range courses {
		if q.LanguageCode != "" && course.LanguageCode != q.LanguageCode {
			continue
		}
		if score, ok := matchTerms(course, terms); ok {
			matches = append(matches, scored{course: course, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].course.ID < matches[j].course.ID
	})

	total := len(matches)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limitOrDefault(q.Limit)
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-offset)
	for _, m := range matches[offset:end] {
		results = append(results, Result{
			ID:           m.course.ID,
			Title:        m.course.Title,
			Snippet:      m.course.Description,
			LanguageCode: m.course.LanguageCode,
		})
	}
	return results, total, nil
}

func matchTerms(course store.Course, terms []string) (int, bool) {
	title := strings.ToLower(course.Title)
	description := strings.ToLower(course.Description)
	score := 0
	for _, term := range terms {
		switch {
		case strings.Contains(title, term):
			score += 2
		case strings.Contains(description, term):
			score++
		default:
			return 0, false
		}
	}
	return score, true
}
