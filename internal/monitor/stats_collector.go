package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/events"
	"github.com/t77yq/taskgraph/internal/model"
)

// StatsFunc returns a fresh summary of the dependency graph
type StatsFunc func() model.GraphStats

// StatsCollector periodically samples graph statistics and publishes them
type StatsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration
	collect  StatsFunc

	mu   sync.RWMutex
	last *model.GraphStats

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStatsCollector creates a stats collector. js may be nil, in which case
// samples are only logged.
func NewStatsCollector(js nats.JetStreamContext, collect StatsFunc, interval time.Duration, logger *zap.Logger) *StatsCollector {
	return &StatsCollector{
		logger:   logger.Named("stats-collector"),
		js:       js,
		interval: interval,
		collect:  collect,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *StatsCollector) Start(ctx context.Context) error {
	if c.interval <= 0 {
		return fmt.Errorf("invalid stats interval %s", c.interval)
	}
	c.logger.Info("Starting stats collector", zap.Duration("interval", c.interval))

	go c.collectLoop(ctx)

	return nil
}

// Stop stops the collection loop
func (c *StatsCollector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping stats collector")
		close(c.stop)
	})
}

func (c *StatsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect takes one sample and publishes it
func (c *StatsCollector) Collect() {
	stats := c.collect()
	if stats.CollectedAt.IsZero() {
		stats.CollectedAt = time.Now().UTC()
	}

	c.mu.Lock()
	c.last = &stats
	c.mu.Unlock()

	c.logger.Debug("Graph stats collected",
		zap.Int("total_tasks", stats.TotalTasks),
		zap.Int("total_edges", stats.TotalEdges),
		zap.Int("roots", stats.Roots))

	if c.js == nil {
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to marshal stats", zap.Error(err))
		return
	}

	if _, err := c.js.Publish(events.StatsSubject, data); err != nil {
		c.logger.Error("Failed to publish stats", zap.Error(err))
	}
}

// Last returns the most recent sample, or nil before the first one
func (c *StatsCollector) Last() *model.GraphStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.last == nil {
		return nil
	}
	stats := *c.last
	return &stats
}
