package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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
	ErrEditNotFound    = errors.New("suggested edit not found")
	ErrNotCollaborator = errors.New("author is not an active collaborator")
	ErrMissingSummary  = errors.New("summary is required")
	ErrInvalidDecision = errors.New("review decision must be approved or rejected")
	ErrNotPending      = errors.New("suggested edit already reviewed")
	ErrNotApproved     = errors.New("suggested edit is not approved")
	ErrAlreadyMerged   = errors.New("suggested edit already merged")
	ErrPayloadMismatch = errors.New("payload references rows outside the course")
)

type NewEdit struct {
	CourseID string
	AuthorID string
	Summary  string
	Payload  json.RawMessage
}

type Workflow struct {
	store store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewWorkflow(st store.Store, log *logger.Logger) *Workflow {
	return &Workflow{
		store: st,
		log:   log.With("service", "SuggestedEditWorkflow"),
		now:   time.Now,
	}
}

// InsertSuggestedEdit stores a pending edit. The payload is validated and
// stored in canonical form; it is never rewritten afterwards.
func (w *Workflow) InsertSuggestedEdit(ctx context.Context, edit NewEdit) (*store.SuggestedChange, error) {
	ctx, span := telemetry.Start(ctx, "suggest.insert",
		attribute.String("course.id", edit.CourseID),
		attribute.String("user.id", edit.AuthorID),
	)
	defer span.End()

	change, err := w.insert(ctx, edit)
	if err != nil {
		w.fail(span, "suggest.insert", err, "course_id", edit.CourseID, "author_id", edit.AuthorID)
		return nil, err
	}
	return change, nil
}

func (w *Workflow) insert(ctx context.Context, edit NewEdit) (*store.SuggestedChange, error) {
	summary := strings.TrimSpace(edit.Summary)
	if summary == "" {
		return nil, ErrMissingSummary
	}
	payload, err := ParsePayload(edit.Payload)
	if err != nil {
		return nil, err
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	repos := w.store.Repos()
	collaborator, err := repos.Collaborators.GetCollaboratorByCourseUser(ctx, edit.CourseID, edit.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("get collaborator: %w", err)
	}
	if collaborator == nil || collaborator.Status != store.CollaboratorActive {
		return nil, ErrNotCollaborator
	}

	now := w.now()
	change := store.SuggestedChange{
		ID:             uuid.NewString(),
		CourseID:       edit.CourseID,
		CollaboratorID: collaborator.ID,
		AuthorID:       edit.AuthorID,
		Summary:        summary,
		Payload:        canonical,
		Status:         store.SuggestionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repos.Suggestions.InsertSuggestedChange(ctx, change); err != nil {
		return nil, fmt.Errorf("insert suggested change: %w", err)
	}
	return &change, nil
}

// GetCourseSuggestedEdits returns edits newest first: an empty slice when
// there are none, nil when the query failed.
func (w *Workflow) GetCourseSuggestedEdits(ctx context.Context, courseID string) []store.SuggestedChange {
	items, err := w.store.Repos().Suggestions.ListSuggestedChanges(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []store.SuggestedChange{}
		}
		w.log.Error("suggest.list failed", "op", "suggest.list", "course_id", courseID, "error", err)
		return nil
	}
	if items == nil {
		items = []store.SuggestedChange{}
	}
	return items
}

func (w *Workflow) GetSuggestedEdit(ctx context.Context, editID string) *store.SuggestedChange {
	change, err := w.store.Repos().Suggestions.GetSuggestedChange(ctx, editID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.log.Error("suggest.get failed", "op", "suggest.get", "edit_id", editID, "error", err)
		}
		return nil
	}
	return change
}

// UpdateSuggestedEditStatus records a review decision and nothing else; the
// canonical course is untouched until ApplySuggestedEdit runs.
func (w *Workflow) UpdateSuggestedEditStatus(ctx context.Context, editID string, status store.SuggestionStatus, reviewerID string) (*store.SuggestedChange, error) {
	ctx, span := telemetry.Start(ctx, "suggest.review",
		attribute.String("edit.id", editID),
		attribute.String("edit.status", string(status)),
	)
	defer span.End()

	var change *store.SuggestedChange
	err := w.store.WithinTx(ctx, func(repos store.Repositories) error {
		var err error
		change, err = w.review(ctx, repos, editID, status, reviewerID)
		return err
	})
	if err != nil {
		w.fail(span, "suggest.review", err, "edit_id", editID, "status", status, "reviewer_id", reviewerID)
		return nil, err
	}
	return change, nil
}

func (w *Workflow) review(ctx context.Context, repos store.Repositories, editID string, status store.SuggestionStatus, reviewerID string) (*store.SuggestedChange, error) {
	if status != store.SuggestionApproved && status != store.SuggestionRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, status)
	}
	ok, err := repos.Suggestions.ReviewSuggestedChange(ctx, editID, status, reviewerID, w.now())
	if err != nil {
		return nil, fmt.Errorf("review suggested change: %w", err)
	}
	change, err := repos.Suggestions.GetSuggestedChange(ctx, editID)
	if err != nil {
		return nil, fmt.Errorf("get suggested change: %w", err)
	}
	if change == nil {
		return nil, ErrEditNotFound
	}
	if !ok {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPending, change.Status)
	}
	return change, nil
}

// ApproveSuggestedEdit approves a pending edit and merges its payload in one
// transaction; if the merge fails the edit stays pending.
func (w *Workflow) ApproveSuggestedEdit(ctx context.Context, editID, reviewerID string) (*MergeResult, error) {
	ctx, span := telemetry.Start(ctx, "suggest.approve", attribute.String("edit.id", editID))
	defer span.End()

	var result *MergeResult
	err := w.store.WithinTx(ctx, func(repos store.Repositories) error {
		change, err := w.review(ctx, repos, editID, store.SuggestionApproved, reviewerID)
		if err != nil {
			return err
		}
		result, err = w.merge(ctx, repos, *change)
		return err
	})
	if err != nil {
		w.fail(span, "suggest.approve", err, "edit_id", editID, "reviewer_id", reviewerID)
		return nil, err
	}
	return result, nil
}

// ApplySuggestedEdit merges an edit that was approved earlier without merging.
func (w *Workflow) ApplySuggestedEdit(ctx context.Context, editID string) (*MergeResult, error) {
	ctx, span := telemetry.Start(ctx, "suggest.merge", attribute.String("edit.id", editID))
	defer span.End()

	var result *MergeResult
	err := w.store.WithinTx(ctx, func(repos store.Repositories) error {
		change, err := repos.Suggestions.GetSuggestedChange(ctx, editID)
		if err != nil {
			return fmt.Errorf("get suggested change: %w", err)
		}
		if change == nil {
			return ErrEditNotFound
		}
		if change.MergedAt != nil {
			return ErrAlreadyMerged
		}
		if change.Status != store.SuggestionApproved {
			return fmt.Errorf("%w: status is %s", ErrNotApproved, change.Status)
		}
		result, err = w.merge(ctx, repos, *change)
		return err
	})
	if err != nil {
		w.fail(span, "suggest.merge", err, "edit_id", editID)
		return nil, err
	}
	return result, nil
}

func (w *Workflow) fail(span trace.Span, op string, err error, keysAndValues ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	fields := append([]any{"op", op, "error", err}, keysAndValues...)
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		w.log.Error(op+" failed", fields...)
		return
	}
	w.log.Warn(op+" rejected", fields...)
}
