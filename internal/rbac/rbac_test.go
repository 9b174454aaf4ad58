package rbac

import (
	"testing"

	"linguist/api/internal/store"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: true},
		{name: "guest enroll", role: RoleGuest, action: ActionEnroll, allow: false},
		{name: "learner enroll", role: RoleLearner, action: ActionEnroll, allow: true},
		{name: "learner suggest", role: RoleLearner, action: ActionSuggest, allow: false},
		{name: "collaborator suggest", role: RoleCollaborator, action: ActionSuggest, allow: true},
		{name: "collaborator review", role: RoleCollaborator, action: ActionReview, allow: false},
		{name: "owner review", role: RoleOwner, action: ActionReview, allow: true},
		{name: "owner manage", role: RoleOwner, action: ActionManage, allow: true},
		{name: "unknown role", role: Role("admin"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestCourseRole(t *testing.T) {
	course := store.Course{ID: "c1", OwnerID: "owner"}
	cases := []struct {
		userID string
		active bool
		want   Role
	}{
		{userID: "", active: true, want: RoleGuest},
		{userID: "owner", active: true, want: RoleOwner},
		{userID: "u1", active: true, want: RoleCollaborator},
		{userID: "u1", active: false, want: RoleLearner},
	}
	for _, tc := range cases {
		if got := CourseRole(course, tc.userID, tc.active); got != tc.want {
			t.Fatalf("CourseRole(%q, %v) = %q, want %q", tc.userID, tc.active, got, tc.want)
		}
	}
}

func TestCanView(t *testing.T) {
	draft := store.Course{IsPublic: true}
	listed := store.Course{IsPublic: true, IsPublished: true}
	if CanView(draft, RoleLearner) {
		t.Fatal("learners must not see drafts")
	}
	if !CanView(draft, RoleCollaborator) || !CanView(draft, RoleOwner) {
		t.Fatal("owner and collaborators see drafts")
	}
	if !CanView(listed, RoleGuest) {
		t.Fatal("guests see listed courses")
	}
}
