package main

import (
	"fmt"
	"strings"

	"github.com/t77yq/taskgraph/internal/graph"
)

// InvalidStatusError indicates an unknown status value.
type InvalidStatusError struct {
	Value string
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status: %s (valid: pending, in_progress, completed, blocked)", e.Value)
}

// Is lets the status code mapping treat it as a validation error.
func (e InvalidStatusError) Is(target error) bool {
	return target == graph.ErrValidation
}

// DependentsExistError warns that removing a task would strip it from other tasks.
type DependentsExistError struct {
	ID         string
	Dependents []string
}

func (e DependentsExistError) Error() string {
	return fmt.Sprintf("task %s is a dependency of %s; use --force to remove it anyway",
		e.ID, strings.Join(e.Dependents, ", "))
}
