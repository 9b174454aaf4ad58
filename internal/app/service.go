package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"linguist/api/internal/auth"
	"linguist/api/internal/collab"
	"linguist/api/internal/content"
	"linguist/api/internal/enrollment"
	"linguist/api/internal/history"
	"linguist/api/internal/logger"
	"linguist/api/internal/progress"
	"linguist/api/internal/rbac"
	"linguist/api/internal/search"
	"linguist/api/internal/store"
	"linguist/api/internal/suggest"
)

// Session is the identity carried by a verified bearer token. The zero value
// is an anonymous visitor.
type Session struct {
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

// Deps are the collaborators the facade is built from. Cache, Search and
// History are optional.
type Deps struct {
	Store    store.Store
	Verifier *auth.Verifier
	Cache    content.Cache
	Search   *search.Service
	History  *history.Service
	Log      *logger.Logger
}

type Service struct {
	store       store.Store
	verifier    *auth.Verifier
	progress    *progress.Tracker
	enrollments *enrollment.Manager
	collab      *collab.Lifecycle
	suggestions *suggest.Workflow
	content     *content.Service
	search      *search.Service
	history     *history.Service
	log         *logger.Logger
}

func NewService(deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	searchService := deps.Search
	if searchService == nil {
		searchService = search.NewService(nil, search.NewCatalog(deps.Store.Repos().Courses), log)
	}
	return &Service{
		store:       deps.Store,
		verifier:    deps.Verifier,
		progress:    progress.NewTracker(deps.Store, log),
		enrollments: enrollment.NewManager(deps.Store, log),
		collab:      collab.NewLifecycle(deps.Store, log),
		suggestions: suggest.NewWorkflow(deps.Store, log),
		content:     content.NewService(deps.Store, deps.Cache, log),
		search:      searchService,
		history:     deps.History,
		log:         log.With("service", "App"),
	}
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	if s.verifier == nil {
		return Session{}, auth.ErrInvalidToken
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return Session{}, err
	}
	session := Session{UserID: claims.Subject, UserName: claims.Name}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// courseAccess loads a course and the caller's role on it. Courses the caller
// may not view are reported as not found.
func (s *Service) courseAccess(ctx context.Context, session Session, courseID string) (*store.Course, rbac.Role, error) {
	course, err := s.store.Repos().Courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, "", fmt.Errorf("get course: %w", err)
	}
	if course == nil {
		return nil, "", errCourseNotFound
	}
	active := false
	if session.Authenticated() && course.OwnerID != session.UserID {
		active, err = s.collab.IsActiveCollaborator(ctx, courseID, session.UserID)
		if err != nil {
			return nil, "", fmt.Errorf("check collaborator: %w", err)
		}
	}
	role := rbac.CourseRole(*course, session.UserID, active)
	if !rbac.CanView(*course, role) {
		return nil, "", errCourseNotFound
	}
	return course, role, nil
}

func (s *Service) authorize(ctx context.Context, session Session, courseID string, action rbac.Action) (*store.Course, rbac.Role, error) {
	if !session.Authenticated() && action != rbac.ActionRead {
		return nil, "", errUnauthorized
	}
	course, role, err := s.courseAccess(ctx, session, courseID)
	if err != nil {
		return nil, "", err
	}
	if !rbac.Can(role, action) {
		return nil, "", errForbidden
	}
	return course, role, nil
}

// requireMember admits the owner and active collaborators only.
func (s *Service) requireMember(ctx context.Context, session Session, courseID string) error {
	if !session.Authenticated() {
		return errUnauthorized
	}
	_, role, err := s.courseAccess(ctx, session, courseID)
	if err != nil {
		return err
	}
	if role != rbac.RoleOwner && role != rbac.RoleCollaborator {
		return errForbidden
	}
	return nil
}

func (s *Service) CourseWithContent(ctx context.Context, session Session, courseID string) (*content.CourseContent, error) {
	if _, _, err := s.authorize(ctx, session, courseID, rbac.ActionRead); err != nil {
		return nil, err
	}
	loaded := s.content.GetCourseWithContent(ctx, courseID)
	if loaded == nil {
		return nil, errCourseNotFound
	}
	return loaded, nil
}

func (s *Service) SearchCourses(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func (s *Service) CourseHistory(ctx context.Context, session Session, courseID string, limit int) ([]history.Commit, error) {
	if _, _, err := s.authorize(ctx, session, courseID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_DISABLED", "Course history is not configured", nil)
	}
	commits, err := s.history.History(courseID, limit)
	if errors.Is(err, history.ErrNoHistory) {
		return []history.Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return commits, nil
}

func (s *Service) Enroll(ctx context.Context, session Session, courseID string) (*store.Enrollment, error) {
	if _, _, err := s.authorize(ctx, session, courseID, rbac.ActionEnroll); err != nil {
		return nil, err
	}
	return s.enrollments.EnrollInCourse(ctx, session.UserID, courseID)
}

func (s *Service) Enrollment(ctx context.Context, session Session, courseID string) (*store.Enrollment, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	enrolled := s.enrollments.GetEnrollment(ctx, session.UserID, courseID)
	if enrolled == nil {
		return nil, domainError(http.StatusNotFound, "NOT_ENROLLED", "Not enrolled in this course", nil)
	}
	return enrolled, nil
}

func (s *Service) Enrollments(ctx context.Context, session Session) ([]store.Enrollment, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	items := s.enrollments.ListUserEnrollments(ctx, session.UserID)
	if items == nil {
		return nil, errStoreUnavailable
	}
	return items, nil
}

func (s *Service) RecordProgress(ctx context.Context, session Session, lessonID string, status store.ProgressStatus) (*progress.Result, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	return s.progress.RecordLessonProgress(ctx, session.UserID, lessonID, status)
}

func (s *Service) Collaborators(ctx context.Context, session Session, courseID string) ([]store.CollaboratorWithProfile, error) {
	if err := s.requireMember(ctx, session, courseID); err != nil {
		return nil, err
	}
	items := s.collab.GetCourseCollaborators(ctx, courseID)
	if items == nil {
		return nil, errStoreUnavailable
	}
	return items, nil
}

// AddCollaborator lets the owner invite any user. Any other signed-in user may
// only ask to join a course that is open to collaboration, and always starts
// pending.
func (s *Service) AddCollaborator(ctx context.Context, session Session, courseID, userID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	course, role, err := s.courseAccess(ctx, session, courseID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		if userID != "" && userID != session.UserID {
			return nil, errForbidden
		}
		if !course.OpenToCollab {
			return nil, domainError(http.StatusForbidden, "NOT_OPEN_TO_COLLAB", "Course is not open to collaboration", nil)
		}
		userID = session.UserID
		status = store.CollaboratorPending
	}
	if userID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	return s.collab.AddCollaborator(ctx, courseID, userID, status)
}

// UpdateCollaborator changes a collaborator row. The course owner may set any
// status; the collaborator may answer or withdraw from their own row.
func (s *Service) UpdateCollaborator(ctx context.Context, session Session, collaboratorID string, status store.CollaboratorStatus) (*store.Collaborator, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	row, err := s.store.Repos().Collaborators.GetCollaborator(ctx, collaboratorID)
	if err != nil {
		return nil, fmt.Errorf("get collaborator: %w", err)
	}
	if row == nil {
		return nil, collab.ErrCollaboratorNotFound
	}
	if row.UserID != session.UserID {
		if _, _, err := s.authorize(ctx, session, row.CourseID, rbac.ActionManage); err != nil {
			if errors.Is(err, errCourseNotFound) {
				return nil, collab.ErrCollaboratorNotFound
			}
			return nil, err
		}
	}
	return s.collab.UpdateCollaboratorStatus(ctx, collaboratorID, status)
}

func (s *Service) CancelCollaboration(ctx context.Context, session Session, courseID string) (*store.Collaborator, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	return s.collab.CancelCollaboration(ctx, courseID, session.UserID)
}

func (s *Service) Suggestions(ctx context.Context, session Session, courseID string) ([]store.SuggestedChange, error) {
	if err := s.requireMember(ctx, session, courseID); err != nil {
		return nil, err
	}
	items := s.suggestions.GetCourseSuggestedEdits(ctx, courseID)
	if items == nil {
		return nil, errStoreUnavailable
	}
	return items, nil
}

func (s *Service) SubmitSuggestion(ctx context.Context, session Session, courseID, summary string, payload json.RawMessage) (*store.SuggestedChange, error) {
	if _, _, err := s.authorize(ctx, session, courseID, rbac.ActionSuggest); err != nil {
		return nil, err
	}
	return s.suggestions.InsertSuggestedEdit(ctx, suggest.NewEdit{
		CourseID: courseID,
		AuthorID: session.UserID,
		Summary:  summary,
		Payload:  payload,
	})
}

// ReviewOutcome is the result of a review. Merge is set when an approval was
// merged into the course.
type ReviewOutcome struct {
	Edit  store.SuggestedChange
	Merge *suggest.MergeResult
}

// ReviewSuggestion records the owner's decision. Approval merges the payload
// in the same transaction.
func (s *Service) ReviewSuggestion(ctx context.Context, session Session, editID string, decision store.SuggestionStatus) (*ReviewOutcome, error) {
	if _, err := s.ownedEdit(ctx, session, editID); err != nil {
		return nil, err
	}
	switch decision {
	case store.SuggestionApproved:
		result, err := s.suggestions.ApproveSuggestedEdit(ctx, editID, session.UserID)
		if err != nil {
			return nil, err
		}
		s.afterMerge(ctx, session, result)
		return &ReviewOutcome{Edit: result.Edit, Merge: result}, nil
	default:
		edit, err := s.suggestions.UpdateSuggestedEditStatus(ctx, editID, decision, session.UserID)
		if err != nil {
			return nil, err
		}
		return &ReviewOutcome{Edit: *edit}, nil
	}
}

// MergeSuggestion merges an edit that was approved without being merged.
func (s *Service) MergeSuggestion(ctx context.Context, session Session, editID string) (*suggest.MergeResult, error) {
	if _, err := s.ownedEdit(ctx, session, editID); err != nil {
		return nil, err
	}
	result, err := s.suggestions.ApplySuggestedEdit(ctx, editID)
	if err != nil {
		return nil, err
	}
	s.afterMerge(ctx, session, result)
	return result, nil
}

func (s *Service) ownedEdit(ctx context.Context, session Session, editID string) (*store.SuggestedChange, error) {
	if !session.Authenticated() {
		return nil, errUnauthorized
	}
	edit := s.suggestions.GetSuggestedEdit(ctx, editID)
	if edit == nil {
		return nil, suggest.ErrEditNotFound
	}
	if _, _, err := s.authorize(ctx, session, edit.CourseID, rbac.ActionReview); err != nil {
		if errors.Is(err, errCourseNotFound) {
			return nil, suggest.ErrEditNotFound
		}
		return nil, err
	}
	return edit, nil
}

// afterMerge runs the side effects of a committed merge. They are best effort:
// the merge already happened, so failures are logged and never returned.
func (s *Service) afterMerge(ctx context.Context, session Session, result *suggest.MergeResult) {
	s.content.Invalidate(ctx, result.CourseID)

	loaded, err := content.Load(ctx, s.store.Repos(), result.CourseID)
	if err != nil || loaded == nil {
		s.log.Warn("app.after_merge reload failed", "op", "app.after_merge", "course_id", result.CourseID, "error", err)
		return
	}
	s.search.IndexCourse(loaded.Course)

	if s.history == nil {
		return
	}
	author := session.UserName
	if author == "" {
		author = session.UserID
	}
	message := fmt.Sprintf("Merge suggestion %s\n\n%s", result.Edit.ID, result.Edit.Summary)
	commit, err := s.history.CommitSnapshot(history.FromContent(*loaded), author, message)
	if err != nil {
		s.log.Warn("app.after_merge history commit failed", "op", "app.after_merge", "course_id", result.CourseID, "error", err)
		return
	}
	if err := s.history.Tag(result.CourseID, commit.Hash, suggestionTag(result.Edit.ID)); err != nil {
		s.log.Warn("app.after_merge history tag failed", "op", "app.after_merge", "course_id", result.CourseID, "error", err)
	}
}

func suggestionTag(editID string) string {
	short := editID
	if len(short) > 8 {
		short = short[:8]
	}
	return "suggestion-" + short
}
