package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "taskgraph", cfg.App.Name)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)
	assert.Equal(t, "taskgraph.db", cfg.Storage.Path)
	assert.False(t, cfg.NATS.Enabled())
	assert.Equal(t, "TASKGRAPH", cfg.NATS.Stream)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, 5, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, graph.PolicyAllDepsComplete, cfg.Policy())
	assert.Equal(t, model.TaskStatusInProgress, cfg.NextStatus())
	assert.Equal(t, "0 0 3 * * *", cfg.Maintenance.PruneSchedule)
	assert.Equal(t, 720*time.Hour, cfg.Maintenance.HistoryMaxAge)
	assert.Equal(t, "0 */15 * * * *", cfg.Maintenance.IntegritySchedule)
	assert.Equal(t, time.Minute, cfg.Maintenance.StatsInterval)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  development: true
storage:
  path: /var/lib/taskgraph/graph.db
nats:
  url: nats://localhost:4222
  connect_timeout: 10s
propagation:
  policy: recompute
  next_status: completed
maintenance:
  history_max_age: 48h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "/var/lib/taskgraph/graph.db", cfg.Storage.Path)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, 10*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, graph.PolicyRecompute, cfg.Policy())
	assert.Equal(t, model.TaskStatusCompleted, cfg.NextStatus())
	assert.Equal(t, 48*time.Hour, cfg.Maintenance.HistoryMaxAge)

	// Untouched keys keep their defaults
	assert.Equal(t, "TASKGRAPH", cfg.NATS.Stream)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("TASKGRAPH_STORAGE_PATH", "env.db")
	t.Setenv("TASKGRAPH_PROPAGATION_POLICY", "unconditional")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Storage.Path)
	assert.Equal(t, graph.PolicyUnconditional, cfg.Policy())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "Unknown policy", content: "propagation:\n  policy: sometimes\n"},
		{name: "Unknown next status", content: "propagation:\n  next_status: done\n"},
		{name: "Zero history age", content: "maintenance:\n  history_max_age: 0s\n"},
		{name: "Zero stats interval", content: "maintenance:\n  stats_interval: 0s\n"},
		{name: "Malformed yaml", content: "log: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	t.Run("Missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
