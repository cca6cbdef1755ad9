package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/model"
)

func parseStatus(s string) model.TaskStatus {
	status, ok := model.ParseTaskStatus(s)
	if !ok {
		printError(InvalidStatusError{Value: s})
	}
	return status
}

// addCmd implements 'taskgraph add'.
func addCmd() *cobra.Command {
	var description string
	var status string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			t, err := application.tracker.Create(cmd.Context(), args[0], description, parseStatus(status))
			if err != nil {
				printError(err)
			}
			printOutput(formatter.FormatTask(t))
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&status, "status", "s", string(model.TaskStatusPending),
		"Initial status (pending, in_progress, completed, blocked)")
	return cmd
}

// editCmd implements 'taskgraph edit'.
func editCmd() *cobra.Command {
	var title string
	var description string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a task's title or description",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			current, err := application.tracker.Get(args[0])
			if err != nil {
				printError(err)
			}
			if !cmd.Flags().Changed("title") {
				title = current.Title
			}
			if !cmd.Flags().Changed("description") {
				description = current.Description
			}

			t, err := application.tracker.Update(cmd.Context(), args[0], title, description)
			if err != nil {
				printError(err)
			}
			printOutput(formatter.FormatTask(t))
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	return cmd
}

// listCmd implements 'taskgraph list'.
func listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Run: func(_ *cobra.Command, _ []string) {
			tasks := application.tracker.List()
			if status != "" {
				want := parseStatus(status)
				filtered := tasks[:0]
				for _, t := range tasks {
					if t.Status == want {
						filtered = append(filtered, t)
					}
				}
				tasks = filtered
			}
			printOutput(formatter.FormatTaskList(tasks))
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show tasks with this status")
	return cmd
}

// showCmd implements 'taskgraph show'.
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			t, err := application.tracker.Get(args[0])
			if err != nil {
				printError(err)
			}
			printOutput(formatter.FormatTask(t))
		},
	}
}

// statusCmd implements 'taskgraph status'.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set a task's status; completing a task advances its dependents",
		Args:  cobra.ExactArgs(2), //nolint:mnd // CLI takes 2 positional args
		Run: func(cmd *cobra.Command, args []string) {
			result, err := application.tracker.SetStatus(cmd.Context(), args[0], parseStatus(args[1]))
			if err != nil {
				if result == nil {
					printError(err)
				}
				application.logger.Warn(err.Error())
			}
			printOutput(formatter.FormatStatusResult(result.Task, result.Propagated))
		},
	}
}

// depCmd implements 'taskgraph dep'.
func depCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dep <id> <depends-on-id>",
		Short: "Add a dependency",
		Args:  cobra.ExactArgs(2), //nolint:mnd // CLI takes 2 positional args
		Run: func(cmd *cobra.Command, args []string) {
			t, err := application.tracker.AddDependency(cmd.Context(), args[0], args[1])
			if err != nil {
				printError(err)
			}
			printOutput(formatter.FormatTask(t))
		},
	}
}

// undepCmd implements 'taskgraph undep'.
func undepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undep <id> <depends-on-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2), //nolint:mnd // CLI takes 2 positional args
		Run: func(cmd *cobra.Command, args []string) {
			before, err := application.tracker.Get(args[0])
			if err != nil {
				printError(err)
			}

			// Unknown ids on either side are reported by the tracker
			t, err := application.tracker.RemoveDependency(cmd.Context(), args[0], args[1])
			if err != nil {
				printError(err)
			}
			if !before.DependsOn(args[1]) {
				printOutput(formatter.FormatMessage("Dependency not found"))
				return
			}
			printOutput(formatter.FormatTask(t))
		},
	}
}

// dependentsCmd implements 'taskgraph dependents'.
func dependentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dependents <id>",
		Short: "List tasks that depend on a task",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			dependents, err := application.tracker.Dependents(args[0])
			if err != nil {
				printError(err)
			}
			printOutput(formatter.FormatDependents(args[0], dependents))
		},
	}
}

// rmCmd implements 'taskgraph rm'.
func rmCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			taskID := args[0]

			dependents, err := application.tracker.Dependents(taskID)
			if err != nil {
				printError(err)
			}
			if len(dependents) > 0 && !force {
				ids := make([]string, len(dependents))
				for i, d := range dependents {
					ids[i] = d.ID
				}
				printError(DependentsExistError{ID: taskID, Dependents: ids})
			}

			affected, err := application.tracker.Delete(cmd.Context(), taskID)
			if err != nil && affected == nil {
				printError(err)
			}
			if err != nil {
				application.logger.Warn(err.Error())
			}

			msg := fmt.Sprintf("Removed task %s", taskID)
			if len(affected) > 0 {
				msg += fmt.Sprintf(" (dependency dropped from %d task(s))", len(affected))
			}
			printOutput(formatter.FormatMessage(msg))
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Remove even if other tasks depend on it")
	return cmd
}

// propagateCmd implements 'taskgraph propagate'.
func propagateCmd() *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "propagate <id>",
		Short: "Re-run completion propagation from a completed task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var p graph.Policy
			if policy != "" {
				var err error
				if p, err = graph.ParsePolicy(policy); err != nil {
					printError(err)
				}
			}

			changed, err := application.tracker.Propagate(cmd.Context(), args[0], p)
			if err != nil && changed == nil {
				printError(err)
			}
			if err != nil {
				application.logger.Warn(err.Error())
			}
			printOutput(formatter.FormatPropagated(args[0], changed))
		},
	}
	cmd.Flags().StringVarP(&policy, "policy", "p", "",
		"Propagation policy (all_deps_complete, unconditional, recompute); defaults to the configured one")
	return cmd
}

// statsCmd implements 'taskgraph stats'.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the dependency graph",
		Run: func(_ *cobra.Command, _ []string) {
			printOutput(formatter.FormatStats(application.tracker.Stats()))
		},
	}
}
