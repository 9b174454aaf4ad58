package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"linguist/api/internal/content"
	"linguist/api/internal/store"
)

func sampleContent() content.CourseContent {
	return content.CourseContent{
		Course: store.Course{ID: "course-1", Title: "Portuguese", LanguageCode: "pt", IsPublic: true},
		Units: []content.UnitContent{
			{
				Unit: store.Unit{ID: "unit-1", CourseID: "course-1", Title: "Greetings", OrderIndex: 1},
				Lessons: []store.Lesson{
					{ID: "lesson-1", UnitID: "unit-1", Title: "Olá", ContentType: "text", Content: json.RawMessage(`{"body":"olá"}`)},
				},
			},
		},
	}
}

func TestCommitSnapshotLifecycle(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)

	first, err := svc.CommitSnapshot(FromContent(sampleContent()), "Avery Stone", "Merge suggestion 1")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if first.Hash == "" || first.Author != "Avery Stone" {
		t.Fatalf("unexpected commit: %+v", first)
	}
	if _, err := os.Stat(filepath.Join(dir, "course-1", snapshotFile)); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	changed := sampleContent()
	changed.Course.Title = "Portuguese II"
	second, err := svc.CommitSnapshot(FromContent(changed), "Avery Stone", "Merge suggestion 2")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	log, err := svc.History("course-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(log) != 2 || log[0].Hash != second.Hash || log[1].Hash != first.Hash {
		t.Fatalf("unexpected history order: %+v", log)
	}
	limited, err := svc.History("course-1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit=1) = %+v, %v", limited, err)
	}

	old, err := svc.SnapshotAt("course-1", first.Hash)
	if err != nil {
		t.Fatalf("SnapshotAt() error = %v", err)
	}
	if old.Title != "Portuguese" || len(old.Units) != 1 || old.Units[0].Lessons[0].ID != "lesson-1" {
		t.Fatalf("unexpected snapshot: %+v", old)
	}
	if string(old.Units[0].Lessons[0].Content) == "" {
		t.Fatal("expected lesson content in snapshot")
	}
}

func TestUnchangedSnapshotStillCommits(t *testing.T) {
	svc := New(t.TempDir())
	snap := FromContent(sampleContent())
	for i := 0; i < 2; i++ {
		if _, err := svc.CommitSnapshot(snap, "Avery", fmt.Sprintf("merge %d", i)); err != nil {
			t.Fatalf("CommitSnapshot(%d) error = %v", i, err)
		}
	}
	log, err := svc.History("course-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(log))
	}
}

func TestTagResolvesAndIsIdempotent(t *testing.T) {
	svc := New(t.TempDir())
	commit, err := svc.CommitSnapshot(FromContent(sampleContent()), "Avery", "merge")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.Tag("course-1", commit.Hash, "suggestion-abc12345"); err != nil {
			t.Fatalf("Tag() attempt %d error = %v", i, err)
		}
	}
	snap, err := svc.SnapshotAt("course-1", "suggestion-abc12345")
	if err != nil {
		t.Fatalf("SnapshotAt(tag) error = %v", err)
	}
	if snap.ID != "course-1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestMissingCourseHasNoHistory(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("nope", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() error = %v, want ErrNoHistory", err)
	}
	if _, err := svc.SnapshotAt("nope", "HEAD"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("SnapshotAt() error = %v, want ErrNoHistory", err)
	}
	if err := svc.Tag("nope", "HEAD", "x"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("Tag() error = %v, want ErrNoHistory", err)
	}
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := FromContent(sampleContent())
			snap.Title = fmt.Sprintf("Portuguese %d", i)
			_, err := svc.CommitSnapshot(snap, "Avery", fmt.Sprintf("merge %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CommitSnapshot() error = %v", err)
		}
	}
	log, err := svc.History("course-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(log) != 6 {
		t.Fatalf("expected 6 commits, got %d", len(log))
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Stone": "Avery.Stone",
		"user_42":     "user.42",
		"!!!":         "user",
	}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
	if strings.Contains(sanitizeEmail("a@b"), "@") {
		t.Fatal("sanitized local part must not contain @")
	}
}
