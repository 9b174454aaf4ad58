package store

import (
	"encoding/json"
	"time"
)

type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressNotStarted, ProgressInProgress, ProgressCompleted:
		return true
	default:
		return false
	}
}

type CollaboratorStatus string

const (
	CollaboratorPending   CollaboratorStatus = "pending"
	CollaboratorActive    CollaboratorStatus = "active"
	CollaboratorRejected  CollaboratorStatus = "rejected"
	CollaboratorCancelled CollaboratorStatus = "cancelled"
)

func (s CollaboratorStatus) Valid() bool {
	switch s {
	case CollaboratorPending, CollaboratorActive, CollaboratorRejected, CollaboratorCancelled:
		return true
	default:
		return false
	}
}

type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

type Course struct {
	ID           string
	OwnerID      string
	Title        string
	Description  string
	LanguageCode string
	IsPublic     bool
	IsPublished  bool
	OpenToCollab bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Unit struct {
	ID          string
	CourseID    string
	Title       string
	Description string
	OrderIndex  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Lesson struct {
	ID          string
	UnitID      string
	Title       string
	ContentType string
	Content     json.RawMessage
	OrderIndex  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Profile is the read-only projection of a user owned by the auth service.
type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

type LessonProgress struct {
	ID        string
	UserID    string
	LessonID  string
	Status    ProgressStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Enrollment carries the cached completion ratio for a (user, course) pair.
// CompletedAt is set the first time OverallProgress reaches 1 and never cleared.
type Enrollment struct {
	ID              string
	UserID          string
	CourseID        string
	OverallProgress float64
	CompletedAt     *time.Time
	EnrolledAt      time.Time
	UpdatedAt       time.Time
}

type Collaborator struct {
	ID        string
	CourseID  string
	UserID    string
	Status    CollaboratorStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CollaboratorWithProfile struct {
	Collaborator
	DisplayName string
	AvatarURL   string
}

// SuggestedChange is a proposed edit to a course. Payload is written once on
// insert; only the review fields and MergedAt change afterwards.
type SuggestedChange struct {
	ID             string
	CourseID       string
	CollaboratorID string
	AuthorID       string
	Summary        string
	Payload        json.RawMessage
	Status         SuggestionStatus
	ReviewedBy     *string
	ReviewedAt     *time.Time
	MergedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
