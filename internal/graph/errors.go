package graph

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrValidation is returned when input is malformed
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a task is not found
	ErrNotFound = errors.New("task not found")

	// ErrCycle is returned when a dependency would close a cycle
	ErrCycle = errors.New("circular dependency detected")
)

// ValidationError describes rejected input. No state is changed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

// Is lets errors.Is match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError names the task id that does not exist
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.ID)
}

// Is lets errors.Is match ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CycleError reports the edge that was rejected and the loop it would have closed.
// Path starts and ends with TaskID.
type CycleError struct {
	TaskID      string
	DependsOnID string
	Path        []string
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("%s: adding dependency %s -> %s would create a cycle", ErrCycle, e.TaskID, e.DependsOnID)
	if len(e.Path) > 0 {
		msg += " (" + strings.Join(e.Path, " -> ") + ")"
	}
	return msg
}

// Is lets errors.Is match ErrCycle
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// StatusCode maps an error from this package to an HTTP status code
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCycle):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
