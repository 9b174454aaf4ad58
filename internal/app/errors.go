package app

import (
	"errors"
	"fmt"
	"net/http"

	"linguist/api/internal/auth"
	"linguist/api/internal/collab"
	"linguist/api/internal/enrollment"
	"linguist/api/internal/progress"
	"linguist/api/internal/store"
	"linguist/api/internal/suggest"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errUnauthorized     = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden        = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errCourseNotFound   = domainError(http.StatusNotFound, "NOT_FOUND", "Course not found", nil)
	errStoreUnavailable = domainError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage is temporarily unavailable", nil)
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{progress.ErrLessonNotFound, http.StatusNotFound, "NOT_FOUND"},
	{enrollment.ErrCourseNotFound, http.StatusNotFound, "NOT_FOUND"},
	{collab.ErrCourseNotFound, http.StatusNotFound, "NOT_FOUND"},
	{collab.ErrCollaboratorNotFound, http.StatusNotFound, "NOT_FOUND"},
	{suggest.ErrEditNotFound, http.StatusNotFound, "NOT_FOUND"},

	{progress.ErrInvalidStatus, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{collab.ErrInvalidStatus, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{collab.ErrInvalidInitialStatus, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{suggest.ErrMissingSummary, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{suggest.ErrInvalidDecision, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{suggest.ErrInvalidPayload, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{suggest.ErrPayloadMismatch, http.StatusUnprocessableEntity, "PAYLOAD_MISMATCH"},

	{suggest.ErrNotCollaborator, http.StatusForbidden, "NOT_COLLABORATOR"},
	{collab.ErrOwnerCollaborator, http.StatusConflict, "OWNER_COLLABORATOR"},
	{enrollment.ErrAlreadyEnrolled, http.StatusConflict, "ALREADY_ENROLLED"},
	{collab.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{suggest.ErrNotPending, http.StatusConflict, "ALREADY_REVIEWED"},
	{suggest.ErrNotApproved, http.StatusConflict, "NOT_APPROVED"},
	{suggest.ErrAlreadyMerged, http.StatusConflict, "ALREADY_MERGED"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.code == "VALIDATION_ERROR" {
				details = err.Error()
			}
			return m.status, m.code, m.target.Error(), details
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Kind == store.KindTransient {
		return errStoreUnavailable.Status, errStoreUnavailable.Code, errStoreUnavailable.Message, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
