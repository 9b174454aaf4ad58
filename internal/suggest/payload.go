package suggest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPayload = errors.New("invalid suggested edit payload")

// Payload is the proposed change set. Existing rows are addressed by id; new
// units carry a client-chosen Ref so new lessons in the same payload can
// point at them through UnitRef.
type Payload struct {
	Course  *CoursePatch  `json:"course,omitempty"`
	Units   []UnitPatch   `json:"units,omitempty"`
	Lessons []LessonPatch `json:"lessons,omitempty"`
}

type CoursePatch struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsPublic     *bool   `json:"is_public,omitempty"`
	IsPublished  *bool   `json:"is_published,omitempty"`
	OpenToCollab *bool   `json:"open_to_collab,omitempty"`
}

type UnitPatch struct {
	ID          string  `json:"id,omitempty"`
	Ref         string  `json:"ref,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	OrderIndex  *int    `json:"order_index,omitempty"`
	Delete      bool    `json:"delete,omitempty"`
}

type LessonPatch struct {
	ID          string          `json:"id,omitempty"`
	UnitID      string          `json:"unit_id,omitempty"`
	UnitRef     string          `json:"unit_ref,omitempty"`
	Title       *string         `json:"title,omitempty"`
	ContentType *string         `json:"content_type,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	OrderIndex  *int            `json:"order_index,omitempty"`
	Delete      bool            `json:"delete,omitempty"`
}

// ParsePayload decodes and validates a payload. Unknown fields are rejected
// so a typo cannot silently drop part of a proposal.
func ParsePayload(raw []byte) (Payload, error) {
	var payload Payload
	if len(bytes.TrimSpace(raw)) == 0 {
		return payload, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

func (p Payload) Validate() error {
	if p.Course == nil && len(p.Units) == 0 && len(p.Lessons) == 0 {
		return fmt.Errorf("%w: no changes", ErrInvalidPayload)
	}
	if p.Course != nil && blank(p.Course.Title) {
		return fmt.Errorf("%w: course title cannot be blank", ErrInvalidPayload)
	}

	refs := map[string]bool{}
	seenUnits := map[string]bool{}
	for i, unit := range p.Units {
		switch {
		case unit.ID != "" && unit.Ref != "":
			return fmt.Errorf("%w: units[%d] has both id and ref", ErrInvalidPayload, i)
		case unit.ID == "" && unit.Ref == "":
			return fmt.Errorf("%w: units[%d] needs id or ref", ErrInvalidPayload, i)
		case unit.Ref != "":
			if unit.Delete {
				return fmt.Errorf("%w: units[%d] cannot delete a new unit", ErrInvalidPayload, i)
			}
			if unit.Title == nil || strings.TrimSpace(*unit.Title) == "" {
				return fmt.Errorf("%w: units[%d] new unit needs a title", ErrInvalidPayload, i)
			}
			if refs[unit.Ref] {
				return fmt.Errorf("%w: duplicate unit ref %q", ErrInvalidPayload, unit.Ref)
			}
			refs[unit.Ref] = true
		default:
			if seenUnits[unit.ID] {
				return fmt.Errorf("%w: unit %s patched twice", ErrInvalidPayload, unit.ID)
			}
			if blank(unit.Title) {
				return fmt.Errorf("%w: units[%d] title cannot be blank", ErrInvalidPayload, i)
			}
			seenUnits[unit.ID] = true
		}
	}

	seenLessons := map[string]bool{}
	for i, lesson := range p.Lessons {
		if lesson.UnitID != "" && lesson.UnitRef != "" {
			return fmt.Errorf("%w: lessons[%d] has both unit_id and unit_ref", ErrInvalidPayload, i)
		}
		if lesson.UnitRef != "" && !refs[lesson.UnitRef] {
			return fmt.Errorf("%w: lessons[%d] references unknown unit ref %q", ErrInvalidPayload, i, lesson.UnitRef)
		}
		if len(lesson.Content) > 0 && !json.Valid(lesson.Content) {
			return fmt.Errorf("%w: lessons[%d] content is not JSON", ErrInvalidPayload, i)
		}
		if lesson.ID != "" {
			if seenLessons[lesson.ID] {
				return fmt.Errorf("%w: lesson %s patched twice", ErrInvalidPayload, lesson.ID)
			}
			if blank(lesson.Title) {
				return fmt.Errorf("%w: lessons[%d] title cannot be blank", ErrInvalidPayload, i)
			}
			if blank(lesson.ContentType) {
				return fmt.Errorf("%w: lessons[%d] content_type cannot be blank", ErrInvalidPayload, i)
			}
			seenLessons[lesson.ID] = true
			continue
		}
		if lesson.Delete {
			return fmt.Errorf("%w: lessons[%d] delete needs an id", ErrInvalidPayload, i)
		}
		if lesson.UnitID == "" && lesson.UnitRef == "" {
			return fmt.Errorf("%w: lessons[%d] new lesson needs unit_id or unit_ref", ErrInvalidPayload, i)
		}
		if lesson.Title == nil || strings.TrimSpace(*lesson.Title) == "" {
			return fmt.Errorf("%w: lessons[%d] new lesson needs a title", ErrInvalidPayload, i)
		}
		if lesson.ContentType == nil || strings.TrimSpace(*lesson.ContentType) == "" {
			return fmt.Errorf("%w: lessons[%d] new lesson needs a content_type", ErrInvalidPayload, i)
		}
	}
	return nil
}

// blank reports whether an optional field is present but empty after trimming.
func blank(field *string) bool {
	return field != nil && strings.TrimSpace(*field) == ""
}

// ChangesLessonCount reports whether merging can change the number of
// lessons under the course, which invalidates every cached ratio.
func (p Payload) ChangesLessonCount() bool {
	for _, unit := range p.Units {
		if unit.Delete {
			return true
		}
	}
	for _, lesson := range p.Lessons {
		if lesson.Delete || lesson.ID == "" {
			return true
		}
	}
	return false
}
