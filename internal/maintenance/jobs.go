package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/storage"
)

const (
	PruneHistoryJob   = "prune-history"
	IntegrityCheckJob = "integrity-check"
)

// PruneHistory returns a job that deletes status history older than maxAge
func PruneHistory(history storage.HistoryStorage, maxAge time.Duration, logger *zap.Logger) Job {
	logger = logger.Named(PruneHistoryJob)
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-maxAge)
		deleted, err := history.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		logger.Info("Pruned status history",
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", deleted))
		return nil
	}
}

// CheckIntegrity returns a job that loads the persisted snapshot into a
// scratch store, which rejects duplicate ids, dangling edges and cycles.
func CheckIntegrity(snapshots storage.SnapshotStorage, logger *zap.Logger) Job {
	logger = logger.Named(IntegrityCheckJob)
	return func(ctx context.Context) error {
		tasks, err := snapshots.LoadSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}

		scratch := graph.NewStore(zap.NewNop())
		if err := scratch.Restore(tasks); err != nil {
			logger.Error("Snapshot failed integrity check",
				zap.Int("tasks", len(tasks)),
				zap.Error(err))
			return fmt.Errorf("snapshot integrity: %w", err)
		}

		stats := scratch.Stats()
		logger.Info("Snapshot passed integrity check",
			zap.Int("tasks", stats.TotalTasks),
			zap.Int("edges", stats.TotalEdges))
		return nil
	}
}
