// Package history keeps a git repository per course whose commits are the
// canonical course snapshots written after each merged suggestion.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"linguist/api/internal/content"
)

const snapshotFile = "course.json"

var ErrNoHistory = errors.New("course has no history")

type Snapshot struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	LanguageCode string         `json:"language_code"`
	IsPublic     bool           `json:"is_public"`
	IsPublished  bool           `json:"is_published"`
	OpenToCollab bool           `json:"open_to_collab"`
	Units        []UnitSnapshot `json:"units"`
}

type UnitSnapshot struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	OrderIndex  int              `json:"order_index"`
	Lessons     []LessonSnapshot `json:"lessons"`
}

type LessonSnapshot struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	ContentType string          `json:"content_type"`
	Content     json.RawMessage `json:"content,omitempty"`
	OrderIndex  int             `json:"order_index"`
}

// Commit is one entry of a course's history.
type Commit struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// FromContent projects the read model onto the snapshot format. Timestamps
// are left out so that identical content produces identical files.
func FromContent(c content.CourseContent) Snapshot {
	snap := Snapshot{
		ID:           c.Course.ID,
		Title:        c.Course.Title,
		Description:  c.Course.Description,
		LanguageCode: c.Course.LanguageCode,
		IsPublic:     c.Course.IsPublic,
		IsPublished:  c.Course.IsPublished,
		OpenToCollab: c.Course.OpenToCollab,
		Units:        make([]UnitSnapshot, 0, len(c.Units)),
	}
	for _, unit := range c.Units {
		us := UnitSnapshot{
			ID:          unit.Unit.ID,
			Title:       unit.Unit.Title,
			Description: unit.Unit.Description,
			OrderIndex:  unit.Unit.OrderIndex,
			Lessons:     make([]LessonSnapshot, 0, len(unit.Lessons)),
		}
		for _, lesson := range unit.Lessons {
			us.Lessons = append(us.Lessons, LessonSnapshot{
				ID:          lesson.ID,
				Title:       lesson.Title,
				ContentType: lesson.ContentType,
				Content:     lesson.Content,
				OrderIndex:  lesson.OrderIndex,
			})
		}
		snap.Units = append(snap.Units, us)
	}
	return snap
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// CommitSnapshot writes the snapshot to the course repository, creating the
// repository on first use. An unchanged snapshot still produces a commit so
// that every merge is visible in the log.
func (s *Service) CommitSnapshot(snap Snapshot, author, message string) (Commit, error) {
	lock := s.courseLock(snap.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(snap.ID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.linguist.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// Tag names a commit. Re-tagging with an existing name is a no-op.
func (s *Service) Tag(courseID, hash, name string) error {
	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(courseID)
	if err != nil {
		return err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}
	_, err = repo.CreateTag(name, resolved, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Linguist",
			Email: "history@linguist.local",
			When:  s.now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// History lists commits newest first. A limit of zero returns everything.
func (s *Service) History(courseID string, limit int) ([]Commit, error) {
	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(courseID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt reads the snapshot recorded by a commit or tag.
func (s *Service) SnapshotAt(courseID, revision string) (Snapshot, error) {
	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(courseID)
	if err != nil {
		return Snapshot{}, err
	}
	resolved, err := resolveHash(repo, revision)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	return readSnapshot(commitObj)
}

func (s *Service) repoPath(courseID string) string {
	return filepath.Join(s.baseDir, courseID)
}

func (s *Service) open(courseID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(courseID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(courseID string) (*git.Repository, error) {
	repo, err := s.open(courseID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}
	path := s.repoPath(courseID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) courseLock(courseID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[courseID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[courseID] = lock
	return lock
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, revision string) (plumbing.Hash, error) {
	if len(revision) == 40 {
		return plumbing.NewHash(revision), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	return *resolved, nil
}
