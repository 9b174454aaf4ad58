package store

import (
	"context"
	"time"
)

// Single-row lookups return (nil, nil) when no row matches. Conditional
// updates report whether a row was changed. Every other failure is an *Error.

type CourseRepository interface {
	GetCourse(ctx context.Context, courseID string) (*Course, error)
	// LockCourse reads the row and holds it until the surrounding transaction
	// ends, so whole-row rewrites of the course tree are serialized.
	LockCourse(ctx context.Context, courseID string) (*Course, error)
	InsertCourse(ctx context.Context, course Course) error
	UpdateCourse(ctx context.Context, course Course) error
	ListPublishedCourses(ctx context.Context) ([]Course, error)
}

type UnitRepository interface {
	GetUnit(ctx context.Context, unitID string) (*Unit, error)
	ListUnits(ctx context.Context, courseID string) ([]Unit, error)
	InsertUnit(ctx context.Context, unit Unit) error
	UpdateUnit(ctx context.Context, unit Unit) error
	DeleteUnit(ctx context.Context, unitID string) error
}

type LessonRepository interface {
	GetLesson(ctx context.Context, lessonID string) (*Lesson, error)
	ListLessonsByCourse(ctx context.Context, courseID string) ([]Lesson, error)
	ListLessonIDsByCourse(ctx context.Context, courseID string) ([]string, error)
	InsertLesson(ctx context.Context, lesson Lesson) error
	UpdateLesson(ctx context.Context, lesson Lesson) error
	DeleteLesson(ctx context.Context, lessonID string) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

type ProgressRepository interface {
	GetLessonProgress(ctx context.Context, userID, lessonID string) (*LessonProgress, error)
	// InsertLessonProgress fails with ErrConflict when the (user, lesson) row exists.
	InsertLessonProgress(ctx context.Context, progress LessonProgress) error
	UpdateLessonProgressStatus(ctx context.Context, userID, lessonID string, status ProgressStatus, at time.Time) (bool, error)
	ListLessonProgress(ctx context.Context, userID string, lessonIDs []string) ([]LessonProgress, error)
}

type EnrollmentRepository interface {
	GetEnrollment(ctx context.Context, userID, courseID string) (*Enrollment, error)
	// LockEnrollment reads the row and holds it until the surrounding transaction ends.
	LockEnrollment(ctx context.Context, userID, courseID string) (*Enrollment, error)
	InsertEnrollment(ctx context.Context, enrollment Enrollment) error
	UpdateEnrollmentProgress(ctx context.Context, enrollmentID string, progress float64, completedAt *time.Time, at time.Time) error
	ListEnrollmentsByUser(ctx context.Context, userID string) ([]Enrollment, error)
	ListEnrollmentsByCourse(ctx context.Context, courseID string) ([]Enrollment, error)
}

type CollaboratorRepository interface {
	GetCollaborator(ctx context.Context, collaboratorID string) (*Collaborator, error)
	GetCollaboratorByCourseUser(ctx context.Context, courseID, userID string) (*Collaborator, error)
	// InsertCollaborator fails with ErrConflict when the (course, user) row exists.
	InsertCollaborator(ctx context.Context, collaborator Collaborator) error
	// TransitionCollaborator sets status only when the current status is one of from.
	TransitionCollaborator(ctx context.Context, collaboratorID string, to CollaboratorStatus, from []CollaboratorStatus, at time.Time) (bool, error)
	TransitionCollaboratorByCourseUser(ctx context.Context, courseID, userID string, to CollaboratorStatus, from []CollaboratorStatus, at time.Time) (bool, error)
	// ListCollaborators returns rows joined with profile fields, most recent first.
	ListCollaborators(ctx context.Context, courseID string) ([]CollaboratorWithProfile, error)
}

type SuggestionRepository interface {
	GetSuggestedChange(ctx context.Context, changeID string) (*SuggestedChange, error)
	InsertSuggestedChange(ctx context.Context, change SuggestedChange) error
	// ListSuggestedChanges returns a course's changes, most recent first.
	ListSuggestedChanges(ctx context.Context, courseID string) ([]SuggestedChange, error)
	// ReviewSuggestedChange moves a pending change to status and records the reviewer.
	ReviewSuggestedChange(ctx context.Context, changeID string, status SuggestionStatus, reviewerID string, at time.Time) (bool, error)
	// MarkSuggestedChangeMerged stamps an approved, unmerged change.
	MarkSuggestedChangeMerged(ctx context.Context, changeID string, at time.Time) (bool, error)
}

type Repositories struct {
	Courses       CourseRepository
	Units         UnitRepository
	Lessons       LessonRepository
	Profiles      ProfileRepository
	Progress      ProgressRepository
	Enrollments   EnrollmentRepository
	Collaborators CollaboratorRepository
	Suggestions   SuggestionRepository
}

// Store hands out repositories bound either to the pool or to a transaction.
type Store interface {
	Repos() Repositories
	// WithinTx runs fn in one transaction; any error returned by fn rolls it back.
	WithinTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
}
