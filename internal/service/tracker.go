package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/events"
	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/model"
	"github.com/t77yq/taskgraph/internal/storage"
)

// StatusResult is the outcome of a manual status change
type StatusResult struct {
	Task       *model.Task `json:"task"`
	Propagated []string    `json:"propagated"`
}

// Tracker is the entry point used by callers outside the graph packages.
//
// Each operation runs the core mutation, then records history, publishes
// events and saves a snapshot. A failure in those later steps is returned
// alongside the result; the in-memory graph is not rolled back.
type Tracker struct {
	logger     *zap.Logger
	mu         sync.Mutex
	store      *graph.Store
	propagator *graph.Propagator
	policy     graph.Policy
	history    storage.HistoryStorage
	snapshots  storage.SnapshotStorage
	publisher  events.Publisher
	newID      func() string
	now        func() time.Time
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithPolicy sets the propagation policy applied after completions
func WithPolicy(policy graph.Policy) TrackerOption {
	return func(t *Tracker) {
		t.policy = policy
	}
}

// WithHistory records every status change in history
func WithHistory(history storage.HistoryStorage) TrackerOption {
	return func(t *Tracker) {
		t.history = history
	}
}

// WithSnapshots saves the graph to snapshots after every mutation
func WithSnapshots(snapshots storage.SnapshotStorage) TrackerOption {
	return func(t *Tracker) {
		t.snapshots = snapshots
	}
}

// WithPublisher publishes task events to publisher
func WithPublisher(publisher events.Publisher) TrackerOption {
	return func(t *Tracker) {
		t.publisher = publisher
	}
}

// NewTracker creates a tracker over store and propagator
func NewTracker(store *graph.Store, propagator *graph.Propagator, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		logger:     logger.Named("tracker"),
		store:      store,
		propagator: propagator,
		policy:     graph.PolicyAllDepsComplete,
		publisher:  events.NopPublisher{},
		newID:      func() string { return uuid.New().String() },
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy returns the configured propagation policy
func (t *Tracker) Policy() graph.Policy {
	return t.policy
}

// Load replaces the graph with the persisted snapshot, if snapshots are configured
func (t *Tracker) Load(ctx context.Context) error {
	if t.snapshots == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tasks, err := t.snapshots.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := t.store.Restore(tasks); err != nil {
		return fmt.Errorf("failed to restore graph: %w", err)
	}

	t.logger.Info("Graph loaded", zap.Int("tasks", len(tasks)))
	return nil
}

// Import replaces the whole graph with tasks and persists the result
func (t *Tracker) Import(ctx context.Context, tasks []*model.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.Restore(tasks); err != nil {
		return err
	}
	t.logger.Info("Graph imported", zap.Int("tasks", len(tasks)))
	return t.persist(ctx)
}

// Create adds a new task
func (t *Tracker) Create(ctx context.Context, title, description string, status model.TaskStatus) (*model.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.store.CreateTask(title, description, status)
	if err != nil {
		return nil, err
	}

	err = multierr.Append(
		t.publish(ctx, &model.TaskEvent{Type: model.TaskEventCreated, TaskID: task.ID, Title: task.Title, Status: task.Status}),
		t.persist(ctx),
	)
	return task, err
}

// Update edits a task's title and description
func (t *Tracker) Update(ctx context.Context, id, title, description string) (*model.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.store.UpdateTask(id, title, description)
	if err != nil {
		return nil, err
	}

	err = multierr.Append(
		t.publish(ctx, &model.TaskEvent{Type: model.TaskEventUpdated, TaskID: task.ID, Title: task.Title, Status: task.Status}),
		t.persist(ctx),
	)
	return task, err
}

// SetStatus changes a task's status. Completing a task propagates the
// completion to its dependents using the tracker policy.
func (t *Tracker) SetStatus(ctx context.Context, id string, status model.TaskStatus) (*StatusResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	before, ok := t.store.GetTask(id)
	if !ok {
		return nil, &graph.NotFoundError{ID: id}
	}

	task, err := t.store.SetStatus(id, status)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{Task: task, Propagated: []string{}}
	var changes []*model.StatusChange
	if before.Status != task.Status {
		changes = append(changes, t.change(task.ID, before.Status, task.Status, model.ChangeCauseManual, ""))
	}

	var transitions []graph.Transition
	if task.Status == model.TaskStatusCompleted {
		transitions = t.propagator.Propagate(id, t.policy)
		for _, tr := range transitions {
			result.Propagated = append(result.Propagated, tr.TaskID)
			changes = append(changes, t.change(tr.TaskID, tr.From, tr.To, model.ChangeCausePropagation, tr.SourceID))
		}
	}

	if len(changes) == 0 {
		return result, nil
	}

	err = t.record(ctx, changes)
	if before.Status != task.Status {
		err = multierr.Append(err, t.publish(ctx, &model.TaskEvent{
			Type:   model.TaskEventStatus,
			TaskID: task.ID,
			Title:  task.Title,
			Status: task.Status,
		}))
	}
	if len(transitions) > 0 {
		t.logger.Info("Completion propagated",
			zap.String("task_id", id),
			zap.String("policy", string(t.policy)),
			zap.Strings("changed", result.Propagated))
		err = multierr.Append(err, t.publish(ctx, &model.TaskEvent{
			Type:    model.TaskEventPropagated,
			TaskID:  id,
			Status:  task.Status,
			Changed: result.Propagated,
		}))
	}
	err = multierr.Append(err, t.persist(ctx))
	return result, err
}

// Propagate reapplies completion propagation from id with policy.
// An empty policy uses the tracker policy.
func (t *Tracker) Propagate(ctx context.Context, id string, policy graph.Policy) ([]string, error) {
	if policy == "" {
		policy = t.policy
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.store.GetTask(id); !ok {
		return nil, &graph.NotFoundError{ID: id}
	}

	transitions := t.propagator.Propagate(id, policy)
	changed := make([]string, 0, len(transitions))
	if len(transitions) == 0 {
		return changed, nil
	}

	changes := make([]*model.StatusChange, 0, len(transitions))
	for _, tr := range transitions {
		changed = append(changed, tr.TaskID)
		changes = append(changes, t.change(tr.TaskID, tr.From, tr.To, model.ChangeCausePropagation, tr.SourceID))
	}

	err := multierr.Combine(
		t.record(ctx, changes),
		t.publish(ctx, &model.TaskEvent{Type: model.TaskEventPropagated, TaskID: id, Changed: changed}),
		t.persist(ctx),
	)
	return changed, err
}

// AddDependency records that taskID depends on dependsOnID. Under the
// recompute policy the task's status is then re-derived from its dependencies.
func (t *Tracker) AddDependency(ctx context.Context, taskID, dependsOnID string) (*model.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	before, _ := t.store.GetTask(taskID)
	task, err := t.store.AddDependency(taskID, dependsOnID)
	if err != nil {
		return nil, err
	}
	if before != nil && before.DependsOn(dependsOnID) {
		return task, nil
	}

	err = t.publish(ctx, &model.TaskEvent{Type: model.TaskEventDependencyAdded, TaskID: taskID, DependsOnID: dependsOnID})

	if t.policy == graph.PolicyRecompute {
		if tr, changed := t.propagator.Recompute(taskID); changed {
			task, _ = t.store.GetTask(taskID)
			t.logger.Info("Task status recomputed",
				zap.String("task_id", taskID),
				zap.String("from", string(tr.From)),
				zap.String("to", string(tr.To)))
			err = multierr.Combine(
				err,
				t.record(ctx, []*model.StatusChange{
					t.change(taskID, tr.From, tr.To, model.ChangeCausePropagation, dependsOnID),
				}),
				t.publish(ctx, &model.TaskEvent{
					Type:    model.TaskEventPropagated,
					TaskID:  dependsOnID,
					Changed: []string{taskID},
				}),
			)
		}
	}

	err = multierr.Append(err, t.persist(ctx))
	return task, err
}

// RemoveDependency drops the edge taskID -> dependsOnID
func (t *Tracker) RemoveDependency(ctx context.Context, taskID, dependsOnID string) (*model.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	before, _ := t.store.GetTask(taskID)
	task, err := t.store.RemoveDependency(taskID, dependsOnID)
	if err != nil {
		return nil, err
	}
	if before != nil && !before.DependsOn(dependsOnID) {
		return task, nil
	}

	err = multierr.Append(
		t.publish(ctx, &model.TaskEvent{Type: model.TaskEventDependencyRemoved, TaskID: taskID, DependsOnID: dependsOnID}),
		t.persist(ctx),
	)
	return task, err
}

// Delete removes a task. The ids of tasks that lost a dependency are returned.
func (t *Tracker) Delete(ctx context.Context, id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dependents := t.store.ListDependents(id)
	if err := t.store.DeleteTask(id); err != nil {
		return nil, err
	}

	affected := make([]string, len(dependents))
	for i, d := range dependents {
		affected[i] = d.ID
	}

	err := multierr.Append(
		t.publish(ctx, &model.TaskEvent{Type: model.TaskEventDeleted, TaskID: id, Changed: affected}),
		t.persist(ctx),
	)
	return affected, err
}

// Get returns the task with id
func (t *Tracker) Get(id string) (*model.Task, error) {
	task, ok := t.store.GetTask(id)
	if !ok {
		return nil, &graph.NotFoundError{ID: id}
	}
	return task, nil
}

// List returns every task in insertion order
func (t *Tracker) List() []*model.Task {
	return t.store.ListTasks()
}

// Dependents returns the tasks that directly depend on id
func (t *Tracker) Dependents(id string) ([]*model.Task, error) {
	if _, ok := t.store.GetTask(id); !ok {
		return nil, &graph.NotFoundError{ID: id}
	}
	return t.store.ListDependents(id), nil
}

// Stats summarises the graph
func (t *Tracker) Stats() model.GraphStats {
	return t.store.Stats()
}

// History lists recorded status changes newest first, with the total matching count
func (t *Tracker) History(ctx context.Context, filter storage.HistoryFilter, offset, limit int) ([]*model.StatusChange, int, error) {
	if t.history == nil {
		return nil, 0, fmt.Errorf("status history is not configured")
	}

	total, err := t.history.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	changes, err := t.history.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return changes, total, nil
}

func (t *Tracker) change(taskID string, from, to model.TaskStatus, cause model.ChangeCause, sourceID string) *model.StatusChange {
	return &model.StatusChange{
		ID:        t.newID(),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Cause:     cause,
		SourceID:  sourceID,
		ChangedAt: t.now(),
	}
}

func (t *Tracker) record(ctx context.Context, changes []*model.StatusChange) error {
	if t.history == nil || len(changes) == 0 {
		return nil
	}
	if err := t.history.Record(ctx, changes...); err != nil {
		t.logger.Error("Failed to record status history",
			zap.Int("changes", len(changes)),
			zap.Error(err))
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

func (t *Tracker) publish(ctx context.Context, event *model.TaskEvent) error {
	event.ID = t.newID()
	event.At = t.now()
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Error("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("task_id", event.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func (t *Tracker) persist(ctx context.Context) error {
	if t.snapshots == nil {
		return nil
	}
	if err := t.snapshots.SaveSnapshot(ctx, t.store.ListTasks()); err != nil {
		t.logger.Error("Failed to save snapshot", zap.Error(err))
		return fmt.Errorf("failed to persist graph: %w", err)
	}
	return nil
}
