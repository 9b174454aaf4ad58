package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"linguist/api/internal/logger"
	"linguist/api/internal/store"
	"linguist/api/internal/store/memstore"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, *memstore.Store, *observer.ObservedLogs) {
	t.Helper()
	st := memstore.New()
	st.SeedCourse(store.Course{ID: "course-1", OwnerID: "owner", Title: "Italian", OpenToCollab: true})
	st.SeedProfile(store.Profile{ID: "alice", DisplayName: "Alice", AvatarURL: "https://img/alice.png"})
	core, logs := observer.New(zap.DebugLevel)
	return NewLifecycle(st, logger.FromZap(zap.New(core))), st, logs
}

func TestAddCollaboratorTwiceLeavesOnePendingRow(t *testing.T) {
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	first, err := lifecycle.AddCollaborator(ctx, "course-1", "alice", store.CollaboratorPending)
	if err != nil {
		t.Fatalf("AddCollaborator() error = %v", err)
	}
	second, err := lifecycle.AddCollaborator(ctx, "course-1", "alice", store.CollaboratorPending)
	if err != nil {
		t.Fatalf("AddCollaborator() second call error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same row, got %s and %s", first.ID, second.ID)
	}
	if second.Status != store.CollaboratorPending {
		t.Fatalf("status = %s, want pending", second.Status)
	}
	if rows := st.CollaboratorRows("course-1", "alice"); rows != 1 {
		t.Fatalf("collaborator rows = %d, want 1", rows)
	}
}

func TestAddCollaboratorConcurrentCallsConverge(t *testing.T) {
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lifecycle.AddCollaborator(ctx, "course-1", "alice", store.CollaboratorPending); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AddCollaborator() error = %v", err)
	}
	if rows := st.CollaboratorRows("course-1", "alice"); rows != 1 {
		t.Fatalf("collaborator rows = %d, want 1", rows)
	}
}

func TestReinviteAfterRejectionReusesRow(t *testing.T) {
	lifecycle, st, _ := newTestLifecycle(t)
	st.SeedCollaborator(store.Collaborator{ID: "c1", CourseID: "course-1", UserID: "alice", Status: store.CollaboratorRejected})

	collaborator, err := lifecycle.AddCollaborator(context.Background(), "course-1", "alice", store.CollaboratorPending)
	if err != nil {
		t.Fatalf("AddCollaborator() error = %v", err)
	}
	if collaborator.ID != "c1" || collaborator.Status != store.CollaboratorPending {
		t.Fatalf("expected row c1 revived to pending, got %+v", collaborator)
	}
	if rows := st.CollaboratorRows("course-1", "alice"); rows != 1 {
		t.Fatalf("collaborator rows = %d, want 1", rows)
	}
}

func TestAddCollaboratorRejectsOwnerAndUnknownCourse(t *testing.T) {
	lifecycle, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	if _, err := lifecycle.AddCollaborator(ctx, "course-1", "owner", ""); !errors.Is(err, ErrOwnerCollaborator) {
		t.Fatalf("expected ErrOwnerCollaborator, got %v", err)
	}
	if _, err := lifecycle.AddCollaborator(ctx, "missing", "alice", ""); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
	if _, err := lifecycle.AddCollaborator(ctx, "course-1", "alice", store.CollaboratorRejected); !errors.Is(err, ErrInvalidInitialStatus) {
		t.Fatalf("expected ErrInvalidInitialStatus, got %v", err)
	}
}

func TestAddCollaboratorInsertFailureIsLoggedAndReturned(t *testing.T) {
	lifecycle, st, logs := newTestLifecycle(t)
	st.Fail("InsertCollaborator", errors.New("connection reset"))

	_, err := lifecycle.AddCollaborator(context.Background(), "course-1", "alice", store.CollaboratorPending)
	if err == nil {
		t.Fatal("expected error")
	}
	entries := logs.FilterField(zap.String("op", "collab.add")).All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error-level collab.add entry, got %+v", entries)
	}
}

func TestStatusTransitions(t *testing.T) {
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()
	st.SeedCollaborator(store.Collaborator{ID: "c1", CourseID: "course-1", UserID: "alice", Status: store.CollaboratorPending})

	steps := []struct {
		to      store.CollaboratorStatus
		wantErr error
	}{
		{store.CollaboratorActive, nil},
		{store.CollaboratorActive, nil},
		{store.CollaboratorRejected, ErrInvalidTransition},
		{store.CollaboratorCancelled, nil},
		{store.CollaboratorActive, ErrInvalidTransition},
		{store.CollaboratorPending, nil},
		{store.CollaboratorRejected, nil},
	}
	for i, step := range steps {
		collaborator, err := lifecycle.UpdateCollaboratorStatus(ctx, "c1", step.to)
		if step.wantErr != nil {
			if !errors.Is(err, step.wantErr) {
				t.Fatalf("step %d -> %s: expected %v, got %v", i, step.to, step.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d -> %s: UpdateCollaboratorStatus() error = %v", i, step.to, err)
		}
		if collaborator.Status != step.to {
			t.Fatalf("step %d: status = %s, want %s", i, collaborator.Status, step.to)
		}
	}

	if _, err := lifecycle.UpdateCollaboratorStatus(ctx, "missing", store.CollaboratorActive); !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("expected ErrCollaboratorNotFound, got %v", err)
	}
	if _, err := lifecycle.UpdateCollaboratorStatus(ctx, "c1", "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestCancelCollaborationByCompositeKey(t *testing.T) {
	lifecycle, st, logs := newTestLifecycle(t)
	ctx := context.Background()
	st.SeedCollaborator(store.Collaborator{ID: "c1", CourseID: "course-1", UserID: "alice", Status: store.CollaboratorActive})

	collaborator, err := lifecycle.CancelCollaboration(ctx, "course-1", "alice")
	if err != nil {
		t.Fatalf("CancelCollaboration() error = %v", err)
	}
	if collaborator.Status != store.CollaboratorCancelled {
		t.Fatalf("status = %s, want cancelled", collaborator.Status)
	}

	if _, err := lifecycle.CancelCollaboration(ctx, "course-1", "bob"); !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("expected ErrCollaboratorNotFound, got %v", err)
	}
	if got := len(logs.FilterField(zap.String("op", "collab.cancel")).All()); got != 1 {
		t.Fatalf("expected the failed cancel to be logged once, got %d", got)
	}

	st.Fail("TransitionCollaboratorByCourseUser", errors.New("timeout"))
	if _, err := lifecycle.UpdateCollaborationStatus(ctx, "course-1", "alice", store.CollaboratorPending); err == nil {
		t.Fatal("expected transient error")
	}
}

func TestGetCourseCollaborator(t *testing.T) {
	lifecycle, st, logs := newTestLifecycle(t)
	ctx := context.Background()

	if got := lifecycle.GetCourseCollaborator(ctx, "course-1", "alice"); got != nil {
		t.Fatalf("expected nil for missing row, got %+v", got)
	}
	if logs.Len() != 0 {
		t.Fatalf("missing row must not be logged, got %d entries", logs.Len())
	}

	st.Fail("GetCollaboratorByCourseUser", errors.New("connection refused"))
	if got := lifecycle.GetCourseCollaborator(ctx, "course-1", "alice"); got != nil {
		t.Fatalf("expected nil on failure, got %+v", got)
	}
	if got := len(logs.FilterField(zap.String("op", "collab.get")).All()); got != 1 {
		t.Fatalf("expected one collab.get entry, got %d", got)
	}
}

func TestGetCourseCollaboratorsOrderingAndFailure(t *testing.T) {
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	if items := lifecycle.GetCourseCollaborators(ctx, "course-1"); items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", items)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.SeedCollaborator(store.Collaborator{ID: "c1", CourseID: "course-1", UserID: "alice", Status: store.CollaboratorActive, CreatedAt: base})
	st.SeedCollaborator(store.Collaborator{ID: "c2", CourseID: "course-1", UserID: "bob", Status: store.CollaboratorPending, CreatedAt: base.Add(time.Hour)})

	items := lifecycle.GetCourseCollaborators(ctx, "course-1")
	if len(items) != 2 || items[0].ID != "c2" || items[1].ID != "c1" {
		t.Fatalf("expected [c2 c1], got %+v", items)
	}
	if items[1].DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q, want Alice", items[1].DisplayName)
	}

	st.Fail("ListCollaborators", errors.New("timeout"))
	if items := lifecycle.GetCourseCollaborators(ctx, "course-1"); items != nil {
		t.Fatalf("expected nil on failure, got %#v", items)
	}
}

func TestGetCourseCollaboratorsListsRevivedRowFirst(t *testing.T) {
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.SeedCollaborator(store.Collaborator{ID: "c1", CourseID: "course-1", UserID: "alice", Status: store.CollaboratorCancelled, CreatedAt: base})
	st.SeedCollaborator(store.Collaborator{ID: "c2", CourseID: "course-1", UserID: "bob", Status: store.CollaboratorActive, CreatedAt: base.Add(time.Hour)})
	lifecycle.now = func() time.Time { return base.Add(2 * time.Hour) }

	if _, err := lifecycle.AddCollaborator(ctx, "course-1", "alice", store.CollaboratorPending); err != nil {
		t.Fatalf("AddCollaborator() error = %v", err)
	}
	items := lifecycle.GetCourseCollaborators(ctx, "course-1")
	if len(items) != 2 || items[0].ID != "c1" || items[1].ID != "c2" {
		t.Fatalf("expected [c1 c2], got %+v", items)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(store.CollaboratorRejected, store.CollaboratorPending) {
		t.Fatal("rejected -> pending must be allowed")
	}
	if CanTransition(store.CollaboratorRejected, store.CollaboratorActive) {
		t.Fatal("rejected -> active must not be allowed")
	}
}
