package output

import (
	"fmt"
	"strings"

	"github.com/t77yq/taskgraph/internal/model"
)

const timeLayout = "2006-01-02 15:04"

// HumanFormatter formats output for terminal display
type HumanFormatter struct{}

// NewHumanFormatter creates a new HumanFormatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// FormatTask formats a single task
func (f *HumanFormatter) FormatTask(t *model.Task) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%s] %s\n", t.ID, t.Title)
	fmt.Fprintf(&sb, "  Status:   %s\n", t.Status)
	fmt.Fprintf(&sb, "  Created:  %s\n", t.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(&sb, "  Updated:  %s\n", t.UpdatedAt.Local().Format(timeLayout))
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(&sb, "  Depends:  %s\n", strings.Join(t.Dependencies, ", "))
	}
	if t.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(t.Description)
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatTaskList formats tasks one per line
func (f *HumanFormatter) FormatTaskList(tasks []*model.Task) string {
	if len(tasks) == 0 {
		return "No tasks found.\n"
	}

	var sb strings.Builder
	for _, t := range tasks {
		sb.WriteString(f.formatTaskLine(t))
	}
	return sb.String()
}

func (f *HumanFormatter) formatTaskLine(t *model.Task) string {
	deps := ""
	if len(t.Dependencies) > 0 {
		deps = fmt.Sprintf(" [depends on: %s]", strings.Join(t.Dependencies, ", "))
	}
	return fmt.Sprintf("%s [%s] %s%s\n", f.statusIcon(t.Status), t.ID, t.Title, deps)
}

func (f *HumanFormatter) statusIcon(s model.TaskStatus) string {
	switch s {
	case model.TaskStatusPending:
		return "[ ]"
	case model.TaskStatusInProgress:
		return "[*]"
	case model.TaskStatusCompleted:
		return "[X]"
	case model.TaskStatusBlocked:
		return "[!]"
	default:
		return "[?]"
	}
}

// FormatStatusResult formats a status change and the tasks it advanced
func (f *HumanFormatter) FormatStatusResult(t *model.Task, propagated []string) string {
	var sb strings.Builder
	sb.WriteString(f.formatTaskLine(t))
	if len(propagated) > 0 {
		fmt.Fprintf(&sb, "Propagated to: %s\n", strings.Join(propagated, ", "))
	}
	return sb.String()
}

// FormatDependents lists the tasks that depend on id
func (f *HumanFormatter) FormatDependents(id string, dependents []*model.Task) string {
	if len(dependents) == 0 {
		return fmt.Sprintf("No tasks depend on %s.\n", id)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tasks depending on %s:\n", id)
	for _, t := range dependents {
		sb.WriteString("  ")
		sb.WriteString(f.formatTaskLine(t))
	}
	return sb.String()
}

// FormatPropagated formats the result of an explicit propagation run
func (f *HumanFormatter) FormatPropagated(id string, changed []string) string {
	if len(changed) == 0 {
		return fmt.Sprintf("No dependents of %s changed.\n", id)
	}
	return fmt.Sprintf("Propagated from %s to: %s\n", id, strings.Join(changed, ", "))
}

// FormatHistory formats status changes newest first
func (f *HumanFormatter) FormatHistory(changes []*model.StatusChange, total int) string {
	if len(changes) == 0 {
		return "No status changes recorded.\n"
	}

	var sb strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&sb, "%s  %s  %s -> %s  (%s", c.ChangedAt.Local().Format(timeLayout), c.TaskID, c.From, c.To, c.Cause)
		if c.SourceID != "" {
			fmt.Fprintf(&sb, " from %s", c.SourceID)
		}
		sb.WriteString(")\n")
	}
	if total > len(changes) {
		fmt.Fprintf(&sb, "Showing %d of %d changes.\n", len(changes), total)
	}
	return sb.String()
}

// FormatStats formats a graph summary
func (f *HumanFormatter) FormatStats(stats model.GraphStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tasks:         %d\n", stats.TotalTasks)
	fmt.Fprintf(&sb, "Dependencies:  %d\n", stats.TotalEdges)
	fmt.Fprintf(&sb, "Roots:         %d\n", stats.Roots)
	for _, s := range []model.TaskStatus{
		model.TaskStatusPending,
		model.TaskStatusInProgress,
		model.TaskStatusCompleted,
		model.TaskStatusBlocked,
	} {
		fmt.Fprintf(&sb, "  %-12s %d\n", s, stats.ByStatus[s])
	}
	return sb.String()
}

// FormatError formats an error
func (f *HumanFormatter) FormatError(err error) string {
	return fmt.Sprintf("Error: %s\n", err.Error())
}

// FormatMessage formats a simple message
func (f *HumanFormatter) FormatMessage(msg string) string {
	return msg + "\n"
}
