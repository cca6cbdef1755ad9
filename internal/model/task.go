package model

import (
	"slices"
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is one of the known statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// ParseTaskStatus converts user input into a TaskStatus.
// Accepts the canonical values plus "in-progress" and "inprogress".
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch s {
	case "in-progress", "inprogress":
		return TaskStatusInProgress, true
	}
	status := TaskStatus(s)
	return status, status.Valid()
}

// Task represents a unit of work and the tasks it depends on
type Task struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description,omitempty"`
	Status      TaskStatus `json:"status" yaml:"status"`

	// Dependencies holds the ids this task depends on, in insertion order.
	// Entries are unique.
	Dependencies []string `json:"dependencies" yaml:"dependencies"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// DependsOn reports whether the task has id in its dependency set
func (t *Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	if c.Dependencies == nil {
		c.Dependencies = []string{}
	}
	return &c
}

// StatusChange is a single recorded status transition
type StatusChange struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	From      TaskStatus  `json:"from"`
	To        TaskStatus  `json:"to"`
	Cause     ChangeCause `json:"cause"`
	SourceID  string      `json:"source_id,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}

// ChangeCause tells whether a status change came from a caller or from propagation
type ChangeCause string

const (
	ChangeCauseManual      ChangeCause = "manual"
	ChangeCausePropagation ChangeCause = "propagation"
)

// GraphStats summarises the dependency graph
type GraphStats struct {
	TotalTasks  int                `json:"total_tasks"`
	TotalEdges  int                `json:"total_edges"`
	Roots       int                `json:"roots"`
	ByStatus    map[TaskStatus]int `json:"by_status"`
	CollectedAt time.Time          `json:"collected_at"`
}
