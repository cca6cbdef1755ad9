package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/maintenance"
	"github.com/t77yq/taskgraph/internal/model"
	"github.com/t77yq/taskgraph/internal/monitor"
)

// maintainCmd implements 'taskgraph maintain'.
func maintainCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run history pruning, integrity checks and stats publishing until interrupted",
		Run: func(cmd *cobra.Command, _ []string) {
			a := application
			logger := a.logger

			scheduler := maintenance.NewScheduler(logger)
			if err := scheduler.AddJob(maintenance.PruneHistoryJob, a.cfg.Maintenance.PruneSchedule,
				maintenance.PruneHistory(a.sqlite, a.cfg.Maintenance.HistoryMaxAge, logger)); err != nil {
				printError(err)
			}
			if err := scheduler.AddJob(maintenance.IntegrityCheckJob, a.cfg.Maintenance.IntegritySchedule,
				maintenance.CheckIntegrity(a.sqlite, logger)); err != nil {
				printError(err)
			}

			if once {
				for _, entry := range scheduler.Entries() {
					if err := scheduler.RunNow(cmd.Context(), entry.Name); err != nil {
						printError(fmt.Errorf("%s: %w", entry.Name, err))
					}
				}
				printOutput(formatter.FormatMessage("Maintenance jobs completed"))
				return
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
				cancel()
			}()

			collector := monitor.NewStatsCollector(a.js, storedStats(ctx, a), a.cfg.Maintenance.StatsInterval, logger)
			if err := collector.Start(ctx); err != nil {
				printError(err)
			}
			defer collector.Stop()

			if a.publisher != nil {
				eventLogger := logger.Named("event-log")
				if err := a.publisher.Subscribe(ctx, func(event *model.TaskEvent) {
					eventLogger.Info("Task event",
						zap.String("type", string(event.Type)),
						zap.String("task_id", event.TaskID),
						zap.Strings("changed", event.Changed))
				}); err != nil {
					printError(err)
				}
			}

			scheduler.Start()
			for _, entry := range scheduler.Entries() {
				logger.Info("Scheduled maintenance job",
					zap.String("name", entry.Name),
					zap.Time("next_run", entry.Next))
			}

			<-ctx.Done()
			scheduler.Stop()
			logger.Info("Maintenance stopped gracefully")
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run every maintenance job once and exit")
	return cmd
}

// storedStats samples the persisted graph, so changes made by other
// invocations show up while maintain is running
func storedStats(ctx context.Context, a *app) monitor.StatsFunc {
	return func() model.GraphStats {
		tasks, err := a.sqlite.LoadSnapshot(ctx)
		if err != nil {
			a.logger.Error("Failed to load snapshot for stats", zap.Error(err))
			return a.tracker.Stats()
		}
		scratch := graph.NewStore(zap.NewNop())
		if err := scratch.Restore(tasks); err != nil {
			a.logger.Error("Stored graph is invalid", zap.Error(err))
			return a.tracker.Stats()
		}
		return scratch.Stats()
	}
}
