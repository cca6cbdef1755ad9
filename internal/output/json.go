package output

import (
	"encoding/json"
	"errors"

	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/model"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSONFormatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// marshalJSON marshals a value to indented JSON with a trailing newline
func marshalJSON(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data) + "\n"
}

// FormatTask formats a single task as JSON
func (f *JSONFormatter) FormatTask(t *model.Task) string {
	return marshalJSON(t)
}

// FormatTaskList formats a list of tasks as JSON
func (f *JSONFormatter) FormatTaskList(tasks []*model.Task) string {
	if tasks == nil {
		tasks = []*model.Task{}
	}
	return marshalJSON(tasks)
}

type statusResultJSON struct {
	Task       *model.Task `json:"task"`
	Propagated []string    `json:"propagated"`
}

// FormatStatusResult formats a status change as JSON
func (f *JSONFormatter) FormatStatusResult(t *model.Task, propagated []string) string {
	if propagated == nil {
		propagated = []string{}
	}
	return marshalJSON(statusResultJSON{Task: t, Propagated: propagated})
}

type dependentsJSON struct {
	ID         string        `json:"id"`
	Dependents []*model.Task `json:"dependents"`
}

// FormatDependents formats dependents as JSON
func (f *JSONFormatter) FormatDependents(id string, dependents []*model.Task) string {
	if dependents == nil {
		dependents = []*model.Task{}
	}
	return marshalJSON(dependentsJSON{ID: id, Dependents: dependents})
}

type propagatedJSON struct {
	ID      string   `json:"id"`
	Changed []string `json:"changed"`
}

// FormatPropagated formats a propagation run as JSON
func (f *JSONFormatter) FormatPropagated(id string, changed []string) string {
	if changed == nil {
		changed = []string{}
	}
	return marshalJSON(propagatedJSON{ID: id, Changed: changed})
}

type historyJSON struct {
	Total   int                   `json:"total"`
	Changes []*model.StatusChange `json:"changes"`
}

// FormatHistory formats status changes as JSON
func (f *JSONFormatter) FormatHistory(changes []*model.StatusChange, total int) string {
	if changes == nil {
		changes = []*model.StatusChange{}
	}
	return marshalJSON(historyJSON{Total: total, Changes: changes})
}

// FormatStats formats a graph summary as JSON
func (f *JSONFormatter) FormatStats(stats model.GraphStats) string {
	return marshalJSON(stats)
}

type errorJSON struct {
	Error string   `json:"error"`
	Code  int      `json:"code"`
	Path  []string `json:"path,omitempty"`
}

// FormatError formats an error as JSON with its status code and, for
// rejected dependencies, the cycle it would have closed
func (f *JSONFormatter) FormatError(err error) string {
	out := errorJSON{Error: err.Error(), Code: graph.StatusCode(err)}
	var cycleErr *graph.CycleError
	if errors.As(err, &cycleErr) {
		out.Path = cycleErr.Path
	}
	return marshalJSON(out)
}

type messageJSON struct {
	Message string `json:"message"`
}

// FormatMessage formats a simple message as JSON
func (f *JSONFormatter) FormatMessage(msg string) string {
	return marshalJSON(messageJSON{Message: msg})
}
