package model

import "time"

// TaskEventType identifies what happened to a task
type TaskEventType string

const (
	TaskEventCreated           TaskEventType = "created"
	TaskEventUpdated           TaskEventType = "updated"
	TaskEventStatus            TaskEventType = "status"
	TaskEventDependencyAdded   TaskEventType = "dependency_added"
	TaskEventDependencyRemoved TaskEventType = "dependency_removed"
	TaskEventDeleted           TaskEventType = "deleted"
	TaskEventPropagated        TaskEventType = "propagated"
)

// TaskEvent is a notification emitted after a successful mutation
type TaskEvent struct {
	ID          string        `json:"id"`
	Type        TaskEventType `json:"type"`
	TaskID      string        `json:"task_id"`
	Title       string        `json:"title,omitempty"`
	Status      TaskStatus    `json:"status,omitempty"`
	DependsOnID string        `json:"depends_on_id,omitempty"`
	Changed     []string      `json:"changed,omitempty"`
	At          time.Time     `json:"at"`
}
