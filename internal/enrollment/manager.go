package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"linguist/api/internal/logger"
	"linguist/api/internal/progress"
	"linguist/api/internal/store"
	"linguist/api/internal/telemetry"
)

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrAlreadyEnrolled = errors.New("already enrolled")
)

type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// StateOf derives the learner-facing state from the cached aggregate.
func StateOf(e store.Enrollment) State {
	switch {
	case e.CompletedAt != nil && e.OverallProgress >= 1:
		return StateCompleted
	case e.OverallProgress > 0:
		return StateInProgress
	case e.CompletedAt != nil:
		return StateInProgress
	default:
		return StateNotStarted
	}
}

type Manager struct {
	store store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewManager(st store.Store, log *logger.Logger) *Manager {
	return &Manager{
		store: st,
		log:   log.With("service", "EnrollmentManager"),
		now:   time.Now,
	}
}

// CheckIfEnrolled reports false both when no row exists and when the lookup
// fails; only the failure is logged.
func (m *Manager) CheckIfEnrolled(ctx context.Context, userID, courseID string) bool {
	enrollment, err := m.store.Repos().Enrollments.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Error("enrollment.check failed", "op", "enrollment.check", "user_id", userID, "course_id", courseID, "error", err)
		}
		return false
	}
	return enrollment != nil
}

// GetEnrollment follows the read-tolerant convention: nil for no row or failure.
func (m *Manager) GetEnrollment(ctx context.Context, userID, courseID string) *store.Enrollment {
	enrollment, err := m.store.Repos().Enrollments.GetEnrollment(ctx, userID, courseID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Error("enrollment.get failed", "op", "enrollment.get", "user_id", userID, "course_id", courseID, "error", err)
		}
		return nil
	}
	return enrollment
}

// ListUserEnrollments returns an empty slice for a learner without
// enrollments and nil when the query failed.
func (m *Manager) ListUserEnrollments(ctx context.Context, userID string) []store.Enrollment {
	items, err := m.store.Repos().Enrollments.ListEnrollmentsByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []store.Enrollment{}
		}
		m.log.Error("enrollment.list failed", "op", "enrollment.list", "user_id", userID, "error", err)
		return nil
	}
	if items == nil {
		items = []store.Enrollment{}
	}
	return items
}

// EnrollInCourse creates the enrollment and seeds overall_progress from any
// progress the learner recorded before enrolling.
func (m *Manager) EnrollInCourse(ctx context.Context, userID, courseID string) (*store.Enrollment, error) {
	ctx, span := telemetry.Start(ctx, "enrollment.enroll",
		attribute.String("user.id", userID),
		attribute.String("course.id", courseID),
	)
	defer span.End()

	var created *store.Enrollment
	err := m.store.WithinTx(ctx, func(repos store.Repositories) error {
		course, err := repos.Courses.GetCourse(ctx, courseID)
		if err != nil {
			return fmt.Errorf("get course: %w", err)
		}
		if course == nil {
			return ErrCourseNotFound
		}
		now := m.now()
		row := store.Enrollment{
			ID:         uuid.NewString(),
			UserID:     userID,
			CourseID:   courseID,
			EnrolledAt: now,
			UpdatedAt:  now,
		}
		if err := repos.Enrollments.InsertEnrollment(ctx, row); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: %w", ErrAlreadyEnrolled, err)
			}
			return fmt.Errorf("insert enrollment: %w", err)
		}
		created, err = progress.Recompute(ctx, repos, userID, courseID, now)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enroll")
		m.log.Error("enrollment.enroll failed", "op", "enrollment.enroll", "user_id", userID, "course_id", courseID, "error", err)
		return nil, err
	}
	return created, nil
}
