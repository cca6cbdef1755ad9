package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/model"
)

const (
	DefaultStreamName = "TASKGRAPH"

	// StatsSubject carries periodic graph statistics
	StatsSubject = "metrics.graph"

	subjectPrefix    = "task."
	streamMaxAge     = 7 * 24 * time.Hour
	streamMaxMsgs    = -1
	operationTimeout = 30 * time.Second
)

// StreamSubjects lists every subject captured by the event stream
var StreamSubjects = []string{subjectPrefix + "*", "metrics.*"}

// NATSPublisher publishes task events to a JetStream stream
type NATSPublisher struct {
	js     nats.JetStreamContext
	stream string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher and makes sure its stream exists
func NewNATSPublisher(js nats.JetStreamContext, stream string, logger *zap.Logger) (*NATSPublisher, error) {
	if stream == "" {
		stream = DefaultStreamName
	}
	p := &NATSPublisher{
		js:     js,
		stream: stream,
		logger: logger.Named("events"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := p.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	return p, nil
}

func (p *NATSPublisher) setupStream(ctx context.Context) error {
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     p.stream,
		Subjects: StreamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  streamMaxMsgs,
	}, nats.Context(ctx))

	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			p.logger.Info("Stream already exists", zap.String("stream", p.stream))
			return nil
		}
		return err
	}

	p.logger.Info("Stream created successfully", zap.String("stream", p.stream))
	return nil
}

// Stream returns the name of the backing stream
func (p *NATSPublisher) Stream() string {
	return p.stream
}

// Publish sends event on its type subject
func (p *NATSPublisher) Publish(ctx context.Context, event *model.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	subject := Subject(event.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published",
		zap.String("event_id", event.ID),
		zap.String("subject", subject),
		zap.String("task_id", event.TaskID))
	return nil
}

// Subscribe delivers task events published from now on to handler until ctx is done
func (p *NATSPublisher) Subscribe(ctx context.Context, handler func(*model.TaskEvent)) error {
	sub, err := p.js.Subscribe(subjectPrefix+"*", func(msg *nats.Msg) {
		var event model.TaskEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.Error("Failed to unmarshal event", zap.Error(err))
			msg.Term()
			return
		}

		handler(&event)
		msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
