// Package memstore is an in-memory store.Store. It backs service tests and
// the STORE_DRIVER=memory mode; transactions are serialized and applied
// copy-on-write so a failing callback leaves no trace.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"linguist/api/internal/store"
)

type dataset struct {
	courses       map[string]store.Course
	units         map[string]store.Unit
	lessons       map[string]store.Lesson
	profiles      map[string]store.Profile
	progress      map[string]store.LessonProgress
	enrollments   map[string]store.Enrollment
	collaborators map[string]store.Collaborator
	suggestions   map[string]store.SuggestedChange
}

func newDataset() *dataset {
	return &dataset{
		courses:       map[string]store.Course{},
		units:         map[string]store.Unit{},
		lessons:       map[string]store.Lesson{},
		profiles:      map[string]store.Profile{},
		progress:      map[string]store.LessonProgress{},
		enrollments:   map[string]store.Enrollment{},
		collaborators: map[string]store.Collaborator{},
		suggestions:   map[string]store.SuggestedChange{},
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for k, v := range d.courses {
		out.courses[k] = v
	}
	for k, v := range d.units {
		out.units[k] = v
	}
	for k, v := range d.lessons {
		out.lessons[k] = v
	}
	for k, v := range d.profiles {
		out.profiles[k] = v
	}
	for k, v := range d.progress {
		out.progress[k] = v
	}
	for k, v := range d.enrollments {
		out.enrollments[k] = v
	}
	for k, v := range d.collaborators {
		out.collaborators[k] = v
	}
	for k, v := range d.suggestions {
		out.suggestions[k] = v
	}
	return out
}

type Store struct {
	mu       sync.Mutex
	data     *dataset
	failures map[string]error
	now      func() time.Time
}

func New() *Store {
	return &Store{
		data:     newDataset(),
		failures: map[string]error{},
		now:      time.Now,
	}
}

// Fail makes every later call of the named repository method return err
// until Recover is called. A nil err clears the injection.
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

func (s *Store) Repos() store.Repositories {
	return (&repos{s: s}).all()
}

func (s *Store) WithinTx(ctx context.Context, fn func(store.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return store.NewError("begin tx", store.KindTransient, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn((&repos{s: s, tx: working}).all()); err != nil {
		return err
	}
	s.data = working
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return store.NewError("ping", store.KindTransient, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Ping"]; err != nil {
		return store.NewError("ping", store.KindTransient, err)
	}
	return nil
}

// Seed helpers write directly and bypass failure injection.

func (s *Store) SeedCourse(course store.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	course = stamp(course, s.now())
	s.data.courses[course.ID] = course
}

func (s *Store) SeedUnit(unit store.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = s.now()
	}
	if unit.UpdatedAt.IsZero() {
		unit.UpdatedAt = unit.CreatedAt
	}
	s.data.units[unit.ID] = unit
}

func (s *Store) SeedLesson(lesson store.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = s.now()
	}
	if lesson.UpdatedAt.IsZero() {
		lesson.UpdatedAt = lesson.CreatedAt
	}
	s.data.lessons[lesson.ID] = lesson
}

func (s *Store) SeedProfile(profile store.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.profiles[profile.ID] = profile
}

func (s *Store) SeedCollaborator(collaborator store.Collaborator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if collaborator.CreatedAt.IsZero() {
		collaborator.CreatedAt = s.now()
	}
	if collaborator.UpdatedAt.IsZero() {
		collaborator.UpdatedAt = collaborator.CreatedAt
	}
	s.data.collaborators[collaborator.ID] = collaborator
}

func (s *Store) SeedSuggestedChange(change store.SuggestedChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if change.CreatedAt.IsZero() {
		change.CreatedAt = s.now()
	}
	if change.UpdatedAt.IsZero() {
		change.UpdatedAt = change.CreatedAt
	}
	s.data.suggestions[change.ID] = change
}

func (s *Store) SeedEnrollment(enrollment store.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = s.now()
	}
	if enrollment.UpdatedAt.IsZero() {
		enrollment.UpdatedAt = enrollment.EnrolledAt
	}
	s.data.enrollments[enrollment.ID] = enrollment
}

// SetClock replaces the time source used for timestamps the store assigns.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Counts used by tests to assert row uniqueness.

func (s *Store) CollaboratorRows(courseID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.data.collaborators {
		if c.CourseID == courseID && c.UserID == userID {
			n++
		}
	}
	return n
}

func (s *Store) ProgressRows(userID, lessonID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.data.progress {
		if p.UserID == userID && p.LessonID == lessonID {
			n++
		}
	}
	return n
}

func stamp(course store.Course, now time.Time) store.Course {
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	if course.UpdatedAt.IsZero() {
		course.UpdatedAt = course.CreatedAt
	}
	return course
}

// repos operates on the tx dataset when set, otherwise on the live dataset
// under the store mutex.
type repos struct {
	s  *Store
	tx *dataset
}

func (r *repos) all() store.Repositories {
	return store.Repositories{
		Courses:       r,
		Units:         r,
		Lessons:       r,
		Profiles:      r,
		Progress:      r,
		Enrollments:   r,
		Collaborators: r,
		Suggestions:   r,
	}
}

// begin acquires the data for one call and reports an injected failure.
func (r *repos) begin(ctx context.Context, method string) (*dataset, func(), error) {
	release := func() {}
	if r.tx == nil {
		r.s.mu.Lock()
		release = r.s.mu.Unlock
	}
	if err := ctx.Err(); err != nil {
		release()
		return nil, nil, store.NewError(method, store.KindTransient, err)
	}
	if err := r.s.failures[method]; err != nil {
		release()
		var storeErr *store.Error
		if errors.As(err, &storeErr) {
			return nil, nil, err
		}
		return nil, nil, store.NewError(method, store.KindTransient, err)
	}
	if r.tx != nil {
		return r.tx, release, nil
	}
	return r.s.data, release, nil
}

func notFound(op, format string, args ...any) error {
	return store.NewError(op, store.KindNotFound, fmt.Errorf(format, args...))
}

func conflict(op, format string, args ...any) error {
	return store.NewError(op, store.KindConflict, fmt.Errorf(format, args...))
}

func sortNewestFirst[T any](items []T, at func(T) time.Time, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := at(items[i]), at(items[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return id(items[i]) > id(items[j])
	})
}
