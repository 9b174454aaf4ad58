package memstore

import (
	"context"
	"sort"
	"time"

	"linguist/api/internal/store"
)

func (r *repos) GetCourse(ctx context.Context, courseID string) (*store.Course, error) {
	return r.getCourse(ctx, "GetCourse", courseID)
}

// LockCourse needs no extra locking: transactions already hold the store mutex.
func (r *repos) LockCourse(ctx context.Context, courseID string) (*store.Course, error) {
	return r.getCourse(ctx, "LockCourse", courseID)
}

func (r *repos) getCourse(ctx context.Context, method, courseID string) (*store.Course, error) {
	d, release, err := r.begin(ctx, method)
	if err != nil {
		return nil, err
	}
	defer release()
	course, ok := d.courses[courseID]
	if !ok {
		return nil, nil
	}
	return &course, nil
}

func (r *repos) InsertCourse(ctx context.Context, course store.Course) error {
	d, release, err := r.begin(ctx, "InsertCourse")
	if err != nil {
		return err
	}
	defer release()
	if _, exists := d.courses[course.ID]; exists {
		return conflict("insert course", "course %s exists", course.ID)
	}
	d.courses[course.ID] = stamp(course, r.s.now())
	return nil
}

func (r *repos) UpdateCourse(ctx context.Context, course store.Course) error {
	d, release, err := r.begin(ctx, "UpdateCourse")
	if err != nil {
		return err
	}
	defer release()
	current, ok := d.courses[course.ID]
	if !ok {
		return notFound("update course", "course %s", course.ID)
	}
	current.Title = course.Title
	current.Description = course.Description
	current.LanguageCode = course.LanguageCode
	current.IsPublic = course.IsPublic
	current.IsPublished = course.IsPublished
	current.OpenToCollab = course.OpenToCollab
	current.UpdatedAt = r.s.now()
	d.courses[course.ID] = current
	return nil
}

func (r *repos) ListPublishedCourses(ctx context.Context) ([]store.Course, error) {
	d, release, err := r.begin(ctx, "ListPublishedCourses")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.Course, 0)
	for _, course := range d.courses {
		if course.IsPublic && course.IsPublished {
			items = append(items, course)
		}
	}
	sortNewestFirst(items, func(c store.Course) time.Time { return c.CreatedAt }, func(c store.Course) string { return c.ID })
	return items, nil
}

func (r *repos) GetUnit(ctx context.Context, unitID string) (*store.Unit, error) {
	d, release, err := r.begin(ctx, "GetUnit")
	if err != nil {
		return nil, err
	}
	defer release()
	unit, ok := d.units[unitID]
	if !ok {
		return nil, nil
	}
	return &unit, nil
}

func (r *repos) ListUnits(ctx context.Context, courseID string) ([]store.Unit, error) {
	d, release, err := r.begin(ctx, "ListUnits")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.Unit, 0)
	for _, unit := range d.units {
		if unit.CourseID == courseID {
			items = append(items, unit)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return items, nil
}

func (r *repos) InsertUnit(ctx context.Context, unit store.Unit) error {
	d, release, err := r.begin(ctx, "InsertUnit")
	if err != nil {
		return err
	}
	defer release()
	if _, exists := d.units[unit.ID]; exists {
		return conflict("insert unit", "unit %s exists", unit.ID)
	}
	if _, ok := d.courses[unit.CourseID]; !ok {
		return notFound("insert unit", "course %s", unit.CourseID)
	}
	now := r.s.now()
	unit.CreatedAt, unit.UpdatedAt = now, now
	d.units[unit.ID] = unit
	return nil
}

func (r *repos) UpdateUnit(ctx context.Context, unit store.Unit) error {
	d, release, err := r.begin(ctx, "UpdateUnit")
	if err != nil {
		return err
	}
	defer release()
	current, ok := d.units[unit.ID]
	if !ok {
		return notFound("update unit", "unit %s", unit.ID)
	}
	current.Title = unit.Title
	current.Description = unit.Description
	current.OrderIndex = unit.OrderIndex
	current.UpdatedAt = r.s.now()
	d.units[unit.ID] = current
	return nil
}

// DeleteUnit cascades to lessons and their progress rows like the schema does.
func (r *repos) DeleteUnit(ctx context.Context, unitID string) error {
	d, release, err := r.begin(ctx, "DeleteUnit")
	if err != nil {
		return err
	}
	defer release()
	if _, ok := d.units[unitID]; !ok {
		return notFound("delete unit", "unit %s", unitID)
	}
	delete(d.units, unitID)
	for id, lesson := range d.lessons {
		if lesson.UnitID == unitID {
			deleteLesson(d, id)
		}
	}
	return nil
}

func (r *repos) GetLesson(ctx context.Context, lessonID string) (*store.Lesson, error) {
	d, release, err := r.begin(ctx, "GetLesson")
	if err != nil {
		return nil, err
	}
	defer release()
	lesson, ok := d.lessons[lessonID]
	if !ok {
		return nil, nil
	}
	return &lesson, nil
}

func (r *repos) ListLessonsByCourse(ctx context.Context, courseID string) ([]store.Lesson, error) {
	d, release, err := r.begin(ctx, "ListLessonsByCourse")
	if err != nil {
		return nil, err
	}
	defer release()
	items := make([]store.Lesson, 0)
	for _, lesson := range d.lessons {
		if unit, ok := d.units[lesson.UnitID]; ok && unit.CourseID == courseID {
			items = append(items, lesson)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return items, nil
}

func (r *repos) ListLessonIDsByCourse(ctx context.Context, courseID string) ([]string, error) {
	d, release, err := r.begin(ctx, "ListLessonIDsByCourse")
	if err != nil {
		return nil, err
	}
	defer release()
	ids := make([]string, 0)
	for id, lesson := range d.lessons {
		if unit, ok := d.units[lesson.UnitID]; ok && unit.CourseID == courseID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *repos) InsertLesson(ctx context.Context, lesson store.Lesson) error {
	d, release, err := r.begin(ctx, "InsertLesson")
	if err != nil {
		return err
	}
	defer release()
	if _, exists := d.lessons[lesson.ID]; exists {
		return conflict("insert lesson", "lesson %s exists", lesson.ID)
	}
	if _, ok := d.units[lesson.UnitID]; !ok {
		return notFound("insert lesson", "unit %s", lesson.UnitID)
	}
	now := r.s.now()
	lesson.CreatedAt, lesson.UpdatedAt = now, now
	d.lessons[lesson.ID] = lesson
	return nil
}

func (r *repos) UpdateLesson(ctx context.Context, lesson store.Lesson) error {
	d, release, err := r.begin(ctx, "UpdateLesson")
	if err != nil {
		return err
	}
	defer release()
	current, ok := d.lessons[lesson.ID]
	if !ok {
		return notFound("update lesson", "lesson %s", lesson.ID)
	}
	if _, ok := d.units[lesson.UnitID]; !ok {
		return notFound("update lesson", "unit %s", lesson.UnitID)
	}
	current.UnitID = lesson.UnitID
	current.Title = lesson.Title
	current.ContentType = lesson.ContentType
	current.Content = lesson.Content
	current.OrderIndex = lesson.OrderIndex
	current.UpdatedAt = r.s.now()
	d.lessons[lesson.ID] = current
	return nil
}

func (r *repos) DeleteLesson(ctx context.Context, lessonID string) error {
	d, release, err := r.begin(ctx, "DeleteLesson")
	if err != nil {
		return err
	}
	defer release()
	if _, ok := d.lessons[lessonID]; !ok {
		return notFound("delete lesson", "lesson %s", lessonID)
	}
	deleteLesson(d, lessonID)
	return nil
}

func deleteLesson(d *dataset, lessonID string) {
	delete(d.lessons, lessonID)
	for id, row := range d.progress {
		if row.LessonID == lessonID {
			delete(d.progress, id)
		}
	}
}

func (r *repos) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	d, release, err := r.begin(ctx, "GetProfile")
	if err != nil {
		return nil, err
	}
	defer release()
	profile, ok := d.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}
