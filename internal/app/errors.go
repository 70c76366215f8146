package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/ratelimit"
	"github.com/johnobriendev/notionesqueServer/internal/store"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func forbiddenError(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// notFoundError names what was missing while still matching ErrNotFound.
func notFoundError(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

// AccessError reports a caller whose role on an existing project is too low.
// A RoleNone caller is answered as if the project did not exist.
type AccessError struct {
	ProjectID string
	Role      rbac.Role
	Required  string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied: role %s on project %s, requires %s", e.Role, e.ProjectID, e.Required)
}

func (e *AccessError) Unwrap() error {
	return ErrAccessDenied
}

type VersionConflictError struct {
	TaskID          string     `json:"taskId"`
	ExpectedVersion int        `json:"expectedVersion"`
	CurrentVersion  int        `json:"currentVersion"`
	LastUpdatedBy   *string    `json:"lastUpdatedBy"`
	Current         store.Task `json:"currentTask"`
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("task %s: expected version %d, current %d", e.TaskID, e.ExpectedVersion, e.CurrentVersion)
}

func versionConflict(expected int, current store.Task) *VersionConflictError {
	return &VersionConflictError{
		TaskID:          current.ID,
		ExpectedVersion: expected,
		CurrentVersion:  current.Version,
		LastUpdatedBy:   current.UpdatedBy,
		Current:         current,
	}
}

type RateLimitError struct {
	Class      ratelimit.Class
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %ds", e.Class, e.RetryAfter)
}

// batchError turns a store batch mismatch into a client error.
func batchError(err error) error {
	var mismatch *store.BatchMismatchError
	if errors.As(err, &mismatch) {
		return domainError(http.StatusBadRequest, "BATCH_MISMATCH",
			"Some tasks were not found in this project; no changes were applied",
			map[string]any{"requested": mismatch.Requested, "matched": mismatch.Matched})
	}
	return err
}
