package output

import (
	"github.com/t77yq/taskgraph/internal/model"
)

// Formatter renders command results for the terminal
type Formatter interface {
	FormatTask(t *model.Task) string
	FormatTaskList(tasks []*model.Task) string
	FormatStatusResult(t *model.Task, propagated []string) string
	FormatDependents(id string, dependents []*model.Task) string
	FormatPropagated(id string, changed []string) string
	FormatHistory(changes []*model.StatusChange, total int) string
	FormatStats(stats model.GraphStats) string
	FormatError(err error) string
	FormatMessage(msg string) string
}

// New returns the JSON formatter when jsonOutput is set, the human one otherwise
func New(jsonOutput bool) Formatter {
	if jsonOutput {
		return NewJSONFormatter()
	}
	return NewHumanFormatter()
}
