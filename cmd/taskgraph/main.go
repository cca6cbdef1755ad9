package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/t77yq/taskgraph/internal/config"
	"github.com/t77yq/taskgraph/internal/output"
)

//nolint:gochecknoglobals // CLI flags and shared state are package-level
var (
	cfgPath     string
	jsonOutput  bool
	formatter   output.Formatter = output.NewHumanFormatter()
	application *app
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "taskgraph",
		Short:         "Track tasks and the dependencies between them",
		Long:          "taskgraph - a task tracker that keeps dependencies acyclic and propagates completion to dependent tasks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			formatter = output.New(jsonOutput)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printError(err)
			}
			application, err = newApp(cmd.Context(), cfg)
			if err != nil {
				printError(err)
			}
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if application != nil {
				application.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		addCmd(),
		editCmd(),
		listCmd(),
		showCmd(),
		statusCmd(),
		depCmd(),
		undepCmd(),
		dependentsCmd(),
		rmCmd(),
		propagateCmd(),
		historyCmd(),
		statsCmd(),
		exportCmd(),
		importCmd(),
		maintainCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printOutput(s string) {
	os.Stdout.WriteString(s) //nolint:gosec // stdout write errors are unrecoverable
}

func printError(err error) {
	os.Stdout.WriteString(formatter.FormatError(err)) //nolint:gosec // stdout write errors are unrecoverable
	if application != nil {
		application.Close()
	}
	os.Exit(1)
}
