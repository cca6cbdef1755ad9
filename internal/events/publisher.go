package events

import (
	"context"

	"github.com/t77yq/taskgraph/internal/model"
)

// Publisher delivers task events to interested parties
type Publisher interface {
	Publish(ctx context.Context, event *model.TaskEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, *model.TaskEvent) error {
	return nil
}

// Subject returns the subject an event of type t is published on
func Subject(t model.TaskEventType) string {
	return subjectPrefix + string(t)
}
