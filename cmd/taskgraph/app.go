package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/config"
	"github.com/t77yq/taskgraph/internal/events"
	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/service"
	"github.com/t77yq/taskgraph/internal/storage"
)

const natsConnectRetries = 3

// app holds everything a command needs
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	sqlite    *storage.SQLiteStore
	store     *graph.Store
	tracker   *service.Tracker
	nc        *nats.Conn
	js        nats.JetStreamContext
	publisher *events.NATSPublisher
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level

	return zapCfg.Build()
}

// newApp opens storage, loads the graph and connects to NATS when configured
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("app", cfg.App.Name))

	sqlite, err := storage.NewSQLiteStore(logger, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		sqlite: sqlite,
	}

	opts := []service.TrackerOption{
		service.WithPolicy(cfg.Policy()),
		service.WithHistory(sqlite),
		service.WithSnapshots(sqlite),
	}

	if cfg.NATS.Enabled() {
		if err := a.connectNATS(ctx); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithPublisher(a.publisher))
	}

	a.store = graph.NewStore(logger)
	propagator := graph.NewPropagator(a.store, logger, graph.WithNextStatus(cfg.NextStatus()))
	a.tracker = service.NewTracker(a.store, propagator, logger, opts...)

	if err := a.tracker.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connectNATS(ctx context.Context) error {
	logger := a.logger.Named("nats")
	opts := []nats.Option{
		nats.Name(a.cfg.App.Name),
		nats.MaxReconnects(a.cfg.NATS.MaxReconnects),
		nats.ReconnectWait(a.cfg.NATS.ReconnectWait),
		nats.Timeout(a.cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < natsConnectRetries; i++ {
		nc, err = nats.Connect(a.cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher, err := events.NewNATSPublisher(js, a.cfg.NATS.Stream, a.logger)
	if err != nil {
		nc.Close()
		return err
	}

	a.nc = nc
	a.js = js
	a.publisher = publisher
	return nil
}

// Close releases connections. Safe to call on a partially built app.
func (a *app) Close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Error("Failed to close storage", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
