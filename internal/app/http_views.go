package app

import (
	"encoding/json"
	"time"

	"linguist/api/internal/content"
	"linguist/api/internal/enrollment"
	"linguist/api/internal/store"
	"linguist/api/internal/suggest"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func courseView(course store.Course) map[string]any {
	return map[string]any{
		"id":           course.ID,
		"ownerId":      course.OwnerID,
		"title":        course.Title,
		"description":  course.Description,
		"languageCode": course.LanguageCode,
		"isPublic":     course.IsPublic,
		"isPublished":  course.IsPublished,
		"openToCollab": course.OpenToCollab,
		"updatedAt":    formatTime(course.UpdatedAt),
	}
}

func courseContentView(loaded *content.CourseContent) map[string]any {
	units := make([]map[string]any, 0, len(loaded.Units))
	for _, unit := range loaded.Units {
		lessons := make([]map[string]any, 0, len(unit.Lessons))
		for _, lesson := range unit.Lessons {
			var body any
			if len(lesson.Content) > 0 {
				body = json.RawMessage(lesson.Content)
			}
			lessons = append(lessons, map[string]any{
				"id":          lesson.ID,
				"title":       lesson.Title,
				"contentType": lesson.ContentType,
				"content":     body,
				"orderIndex":  lesson.OrderIndex,
			})
		}
		units = append(units, map[string]any{
			"id":          unit.Unit.ID,
			"title":       unit.Unit.Title,
			"description": unit.Unit.Description,
			"orderIndex":  unit.Unit.OrderIndex,
			"lessons":     lessons,
		})
	}
	view := courseView(loaded.Course)
	view["units"] = units
	view["lessonCount"] = loaded.LessonCount()
	return view
}

func enrollmentView(e store.Enrollment) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"userId":          e.UserID,
		"courseId":        e.CourseID,
		"overallProgress": e.OverallProgress,
		"state":           string(enrollment.StateOf(e)),
		"completedAt":     formatOptionalTime(e.CompletedAt),
		"enrolledAt":      formatTime(e.EnrolledAt),
	}
}

func progressView(p store.LessonProgress) map[string]any {
	return map[string]any{
		"lessonId":  p.LessonID,
		"status":    string(p.Status),
		"updatedAt": formatTime(p.UpdatedAt),
	}
}

func collaboratorView(c store.Collaborator) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"courseId":  c.CourseID,
		"userId":    c.UserID,
		"status":    string(c.Status),
		"createdAt": formatTime(c.CreatedAt),
		"updatedAt": formatTime(c.UpdatedAt),
	}
}

func suggestionView(s store.SuggestedChange) map[string]any {
	view := map[string]any{
		"id":         s.ID,
		"courseId":   s.CourseID,
		"authorId":   s.AuthorID,
		"summary":    s.Summary,
		"payload":    json.RawMessage(s.Payload),
		"status":     string(s.Status),
		"reviewedAt": formatOptionalTime(s.ReviewedAt),
		"mergedAt":   formatOptionalTime(s.MergedAt),
		"createdAt":  formatTime(s.CreatedAt),
	}
	if s.ReviewedBy != nil {
		view["reviewedBy"] = *s.ReviewedBy
	}
	return view
}

func mergeView(m suggest.MergeResult) map[string]any {
	return map[string]any{
		"courseUpdated":  m.CourseUpdated,
		"createdUnits":   nonNilMap(m.CreatedUnits),
		"updatedUnits":   nonNilSlice(m.UpdatedUnits),
		"deletedUnits":   nonNilSlice(m.DeletedUnits),
		"createdLessons": nonNilSlice(m.CreatedLessons),
		"updatedLessons": nonNilSlice(m.UpdatedLessons),
		"deletedLessons": nonNilSlice(m.DeletedLessons),
		"recomputed":     m.Recomputed,
	}
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nonNilMap(items map[string]string) map[string]string {
	if items == nil {
		return map[string]string{}
	}
	return items
}
