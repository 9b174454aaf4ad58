package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"linguist/api/internal/logger"
	"linguist/api/internal/store"
	"linguist/api/internal/telemetry"
)

var (
	ErrCourseNotFound       = errors.New("course not found")
	ErrCollaboratorNotFound = errors.New("collaborator not found")
	ErrOwnerCollaborator    = errors.New("course owner cannot be a collaborator")
	ErrInvalidStatus        = errors.New("invalid collaborator status")
	ErrInvalidTransition    = errors.New("invalid collaborator transition")
	ErrInvalidInitialStatus = errors.New("collaborator must start pending or active")
)

// predecessors lists, per target status, the statuses a row may move from.
// Same-state moves are allowed so retries are idempotent.
var predecessors = map[store.CollaboratorStatus][]store.CollaboratorStatus{
	store.CollaboratorPending:   {store.CollaboratorPending, store.CollaboratorRejected, store.CollaboratorCancelled},
	store.CollaboratorActive:    {store.CollaboratorPending, store.CollaboratorActive},
	store.CollaboratorRejected:  {store.CollaboratorPending, store.CollaboratorRejected},
	store.CollaboratorCancelled: {store.CollaboratorPending, store.CollaboratorActive, store.CollaboratorCancelled},
}

// CanTransition reports whether a row in status from may move to status to.
func CanTransition(from, to store.CollaboratorStatus) bool {
	for _, allowed := range predecessors[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

type Lifecycle struct {
	store store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewLifecycle(st store.Store, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store: st,
		log:   log.With("service", "CollaborationLifecycle"),
		now:   time.Now,
	}
}

// AddCollaborator inserts the (course, user) row, or revives the existing
// one when the insert hits the uniqueness constraint. Two racing calls
// converge on a single row.
func (l *Lifecycle) AddCollaborator(ctx context.Context, courseID, userID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	if status == "" {
		status = store.CollaboratorPending
	}
	ctx, span := telemetry.Start(ctx, "collab.add",
		attribute.String("course.id", courseID),
		attribute.String("user.id", userID),
		attribute.String("collaborator.status", string(status)),
	)
	defer span.End()

	collaborator, err := l.add(ctx, courseID, userID, status)
	if err != nil {
		l.fail(span, "collab.add", err, "course_id", courseID, "user_id", userID, "status", status)
		return nil, err
	}
	return collaborator, nil
}

func (l *Lifecycle) add(ctx context.Context, courseID, userID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	if status != store.CollaboratorPending && status != store.CollaboratorActive {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInitialStatus, status)
	}
	repos := l.store.Repos()
	course, err := repos.Courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}
	if course.OwnerID == userID {
		return nil, ErrOwnerCollaborator
	}

	now := l.now()
	row := store.Collaborator{
		ID:        uuid.NewString(),
		CourseID:  courseID,
		UserID:    userID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = repos.Collaborators.InsertCollaborator(ctx, row)
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("insert collaborator: %w", err)
	}
	return l.transitionByCourseUser(ctx, repos, courseID, userID, status)
}

// UpdateCollaboratorStatus moves a row addressed by id; the owner uses it to
// accept, decline or remove.
func (l *Lifecycle) UpdateCollaboratorStatus(ctx context.Context, collaboratorID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	ctx, span := telemetry.Start(ctx, "collab.update",
		attribute.String("collaborator.id", collaboratorID),
		attribute.String("collaborator.status", string(status)),
	)
	defer span.End()

	collaborator, err := l.updateByID(ctx, collaboratorID, status)
	if err != nil {
		l.fail(span, "collab.update", err, "collaborator_id", collaboratorID, "status", status)
		return nil, err
	}
	return collaborator, nil
}

func (l *Lifecycle) updateByID(ctx context.Context, collaboratorID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	repos := l.store.Repos()
	ok, err := repos.Collaborators.TransitionCollaborator(ctx, collaboratorID, status, predecessors[status], l.now())
	if err != nil {
		return nil, fmt.Errorf("transition collaborator: %w", err)
	}
	current, err := repos.Collaborators.GetCollaborator(ctx, collaboratorID)
	if err != nil {
		return nil, fmt.Errorf("get collaborator: %w", err)
	}
	if current == nil {
		return nil, ErrCollaboratorNotFound
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}
	return current, nil
}

// UpdateCollaborationStatus is the same transition addressed by (course,
// user); the requester uses it for their own row.
func (l *Lifecycle) UpdateCollaborationStatus(ctx context.Context, courseID, userID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	ctx, span := telemetry.Start(ctx, "collab.update",
		attribute.String("course.id", courseID),
		attribute.String("user.id", userID),
		attribute.String("collaborator.status", string(status)),
	)
	defer span.End()

	collaborator, err := l.updateByCourseUser(ctx, courseID, userID, status)
	if err != nil {
		l.fail(span, "collab.update", err, "course_id", courseID, "user_id", userID, "status", status)
		return nil, err
	}
	return collaborator, nil
}

func (l *Lifecycle) updateByCourseUser(ctx context.Context, courseID, userID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return l.transitionByCourseUser(ctx, l.store.Repos(), courseID, userID, status)
}

func (l *Lifecycle) transitionByCourseUser(ctx context.Context, repos store.Repositories, courseID, userID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	ok, err := repos.Collaborators.TransitionCollaboratorByCourseUser(ctx, courseID, userID, status, predecessors[status], l.now())
	if err != nil {
		return nil, fmt.Errorf("transition collaborator: %w", err)
	}
	current, err := repos.Collaborators.GetCollaboratorByCourseUser(ctx, courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("get collaborator: %w", err)
	}
	if current == nil {
		return nil, ErrCollaboratorNotFound
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}
	return current, nil
}

// CancelCollaboration ends the caller's own relationship with a course.
func (l *Lifecycle) CancelCollaboration(ctx context.Context, courseID, userID string) (*store.Collaborator, error) {
	ctx, span := telemetry.Start(ctx, "collab.cancel",
		attribute.String("course.id", courseID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	collaborator, err := l.transitionByCourseUser(ctx, l.store.Repos(), courseID, userID, store.CollaboratorCancelled)
	if err != nil {
		l.fail(span, "collab.cancel", err, "course_id", courseID, "user_id", userID)
		return nil, err
	}
	return collaborator, nil
}

// GetCourseCollaborator returns nil both for no row and for a failed lookup.
func (l *Lifecycle) GetCourseCollaborator(ctx context.Context, courseID, userID string) *store.Collaborator {
	collaborator, err := l.store.Repos().Collaborators.GetCollaboratorByCourseUser(ctx, courseID, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.log.Error("collab.get failed", "op", "collab.get", "course_id", courseID, "user_id", userID, "error", err)
		}
		return nil
	}
	return collaborator
}

// GetCourseCollaborators returns the course's rows newest first. An empty
// slice means there are none; nil means the query failed.
func (l *Lifecycle) GetCourseCollaborators(ctx context.Context, courseID string) []store.CollaboratorWithProfile {
	items, err := l.store.Repos().Collaborators.ListCollaborators(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []store.CollaboratorWithProfile{}
		}
		l.log.Error("collab.list failed", "op", "collab.list", "course_id", courseID, "error", err)
		return nil
	}
	if items == nil {
		items = []store.CollaboratorWithProfile{}
	}
	return items
}

// IsActiveCollaborator is a strict check used for authorization.
func (l *Lifecycle) IsActiveCollaborator(ctx context.Context, courseID, userID string) (bool, error) {
	collaborator, err := l.store.Repos().Collaborators.GetCollaboratorByCourseUser(ctx, courseID, userID)
	if err != nil {
		return false, fmt.Errorf("get collaborator: %w", err)
	}
	return collaborator != nil && collaborator.Status == store.CollaboratorActive, nil
}

// fail logs store failures as errors and rejected requests as warnings.
func (l *Lifecycle) fail(span trace.Span, op string, err error, keysAndValues ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	fields := append([]any{"op", op, "error", err}, keysAndValues...)
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		l.log.Error(op+" failed", fields...)
		return
	}
	l.log.Warn(op+" rejected", fields...)
}
