package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"linguist/api/internal/auth"
	"linguist/api/internal/collab"
	"linguist/api/internal/enrollment"
	"linguist/api/internal/store"
	"linguist/api/internal/suggest"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain", err: errForbidden, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "expired token", err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "wrapped conflict", err: fmt.Errorf("%w: %w", enrollment.ErrAlreadyEnrolled, store.ErrConflict), status: http.StatusConflict, code: "ALREADY_ENROLLED"},
		{name: "transition", err: collab.ErrInvalidTransition, status: http.StatusConflict, code: "INVALID_TRANSITION"},
		{name: "payload", err: fmt.Errorf("%w: no changes", suggest.ErrInvalidPayload), status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "not collaborator", err: suggest.ErrNotCollaborator, status: http.StatusForbidden, code: "NOT_COLLABORATOR"},
		{name: "transient", err: fmt.Errorf("get course: %w", store.NewError("get course", store.KindTransient, errors.New("reset"))), status: http.StatusServiceUnavailable, code: "STORE_UNAVAILABLE"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
			}
		})
	}
}

func TestMapErrorValidationDetails(t *testing.T) {
	_, _, message, details := mapError(fmt.Errorf("%w: units[0] needs id or ref", suggest.ErrInvalidPayload))
	if message != suggest.ErrInvalidPayload.Error() {
		t.Fatalf("unexpected message %q", message)
	}
	if details != "invalid suggested edit payload: units[0] needs id or ref" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestSuggestionTag(t *testing.T) {
	if got := suggestionTag("0123456789abcdef"); got != "suggestion-01234567" {
		t.Fatalf("suggestionTag() = %q", got)
	}
	if got := suggestionTag("abc"); got != "suggestion-abc" {
		t.Fatalf("suggestionTag() = %q", got)
	}
}
