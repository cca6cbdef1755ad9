package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/taskgraph/internal/model"
	"github.com/t77yq/taskgraph/internal/snapshot"
	"github.com/t77yq/taskgraph/internal/storage"
)

// historyCmd implements 'taskgraph history'.
func historyCmd() *cobra.Command {
	var taskID string
	var cause string
	var since time.Duration
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded status changes, newest first",
		Run: func(cmd *cobra.Command, _ []string) {
			filter := storage.HistoryFilter{TaskID: taskID}
			switch model.ChangeCause(cause) {
			case "":
			case model.ChangeCauseManual, model.ChangeCausePropagation:
				filter.Cause = model.ChangeCause(cause)
			default:
				printError(fmt.Errorf("invalid cause: %s (valid: manual, propagation)", cause))
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			changes, total, err := application.tracker.History(cmd.Context(), filter, offset, limit)
			if err != nil {
				printError(err)
			}
			printOutput(formatter.FormatHistory(changes, total))
		},
	}
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "Only changes to this task")
	cmd.Flags().StringVar(&cause, "cause", "", "Only changes with this cause (manual, propagation)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only changes newer than this, e.g. 24h")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many changes")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of changes to show") //nolint:mnd // default page size
	return cmd
}

// exportCmd implements 'taskgraph export'.
func exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the task graph to a JSON or YAML file (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			f := snapshot.FormatJSON
			if len(args) == 1 {
				f = snapshot.FormatFromPath(args[0])
			}
			if format != "" {
				var err error
				if f, err = snapshot.ParseFormat(format); err != nil {
					printError(err)
				}
			}

			doc := snapshot.New(application.tracker.List(), time.Now())
			if len(args) == 0 {
				if err := snapshot.Encode(os.Stdout, doc, f); err != nil {
					printError(err)
				}
				return
			}

			file, err := os.Create(args[0])
			if err != nil {
				printError(err)
			}
			if err := snapshot.Encode(file, doc, f); err != nil {
				file.Close()
				printError(err)
			}
			if err := file.Close(); err != nil {
				printError(err)
			}
			printOutput(formatter.FormatMessage(fmt.Sprintf("Exported %d task(s) to %s", len(doc.Tasks), args[0])))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (json, yaml); guessed from the file name by default")
	return cmd
}

// importCmd implements 'taskgraph import'.
func importCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the task graph with the contents of a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := snapshot.FormatFromPath(args[0])
			if format != "" {
				var err error
				if f, err = snapshot.ParseFormat(format); err != nil {
					printError(err)
				}
			}

			file, err := os.Open(args[0])
			if err != nil {
				printError(err)
			}
			defer file.Close()

			doc, err := snapshot.Decode(file, f)
			if err != nil {
				printError(err)
			}
			if err := application.tracker.Import(cmd.Context(), doc.Tasks); err != nil {
				printError(err)
			}
			printOutput(formatter.FormatMessage(fmt.Sprintf("Imported %d task(s) from %s", len(doc.Tasks), args[0])))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format (json, yaml); guessed from the file name by default")
	return cmd
}
