package graph

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/model"
)

// maxIDAttempts bounds how often a colliding id is regenerated
const maxIDAttempts = 8

// Store owns the authoritative set of tasks and their dependency edges.
//
// All mutations validate before touching state, so a failed call leaves the
// graph unchanged. Returned tasks are copies.
type Store struct {
	logger *zap.Logger
	mu     sync.RWMutex
	tasks  map[string]*model.Task // Map of task ID to task
	order  []string               // Insertion order of live task IDs
	issued map[string]struct{}    // Every ID handed out, including deleted ones
	newID  func() string
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithIDGenerator replaces the uuid-based id generator
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithClock replaces time.Now for CreatedAt/UpdatedAt stamps
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		s.now = fn
	}
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		logger: logger.Named("graph-store"),
		tasks:  make(map[string]*model.Task),
		issued: make(map[string]struct{}),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask adds a new task with an empty dependency set.
// An empty status defaults to pending.
func (s *Store) CreateTask(title, description string, status model.TaskStatus) (*model.Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, invalidf("task title required")
	}
	if status == "" {
		status = model.TaskStatusPending
	}
	if !status.Valid() {
		return nil, invalidf("unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextIDLocked()
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := &model.Task{
		ID:           id,
		Title:        title,
		Description:  description,
		Status:       status,
		Dependencies: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.tasks[id] = task
	s.order = append(s.order, id)

	s.logger.Debug("Task created",
		zap.String("task_id", id),
		zap.String("status", string(status)))

	return task.Clone(), nil
}

// GetTask returns a copy of the task, or false if it does not exist
func (s *Store) GetTask(id string) (*model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// ListTasks returns every task in insertion order
func (s *Store) ListTasks() []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*model.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id].Clone())
	}
	return tasks
}

// SetStatus replaces a task's status unconditionally.
// Dependencies are not consulted; manual status edits are always allowed.
func (s *Store) SetStatus(id string, status model.TaskStatus) (*model.Task, error) {
	if !status.Valid() {
		return nil, invalidf("unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	if task.Status != status {
		s.logger.Debug("Task status changed",
			zap.String("task_id", id),
			zap.String("from", string(task.Status)),
			zap.String("to", string(status)))
		task.Status = status
		task.UpdatedAt = s.now()
	}

	return task.Clone(), nil
}

// UpdateTask replaces a task's title and description
func (s *Store) UpdateTask(id, title, description string) (*model.Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, invalidf("task title required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	task.Title = title
	task.Description = description
	task.UpdatedAt = s.now()

	return task.Clone(), nil
}

// AddDependency records that taskID depends on dependsOnID.
// Adding an edge that already exists is a no-op.
func (s *Store) AddDependency(taskID, dependsOnID string) (*model.Task, error) {
	if taskID == "" || dependsOnID == "" {
		return nil, invalidf("both task and dependency must be selected")
	}
	if taskID == dependsOnID {
		return nil, invalidf("task cannot depend on itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	if _, ok := s.tasks[dependsOnID]; !ok {
		return nil, &NotFoundError{ID: dependsOnID}
	}

	if task.DependsOn(dependsOnID) {
		return task.Clone(), nil
	}

	// dependsOnID already reaching taskID means the new edge closes a loop
	if path := s.findPathLocked(dependsOnID, taskID); path != nil {
		s.logger.Info("Rejected circular dependency",
			zap.String("task_id", taskID),
			zap.String("depends_on_id", dependsOnID),
			zap.Strings("path", path))
		return nil, &CycleError{
			TaskID:      taskID,
			DependsOnID: dependsOnID,
			Path:        append([]string{taskID}, path...),
		}
	}

	task.Dependencies = append(task.Dependencies, dependsOnID)
	task.UpdatedAt = s.now()

	s.logger.Debug("Dependency added",
		zap.String("task_id", taskID),
		zap.String("depends_on_id", dependsOnID))

	return task.Clone(), nil
}

// RemoveDependency drops a single edge. Removing an absent edge is a no-op.
func (s *Store) RemoveDependency(taskID, dependsOnID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	if _, ok := s.tasks[dependsOnID]; !ok {
		return nil, &NotFoundError{ID: dependsOnID}
	}

	if task.DependsOn(dependsOnID) {
		task.Dependencies = slices.DeleteFunc(task.Dependencies, func(d string) bool {
			return d == dependsOnID
		})
		task.UpdatedAt = s.now()
	}
	return task.Clone(), nil
}

// DeleteTask removes a task and strips it from every dependency set
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return &NotFoundError{ID: id}
	}

	delete(s.tasks, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })

	// Orphan cleanup
	now := s.now()
	for _, taskID := range s.order {
		task := s.tasks[taskID]
		if !task.DependsOn(id) {
			continue
		}
		task.Dependencies = slices.DeleteFunc(task.Dependencies, func(d string) bool {
			return d == id
		})
		task.UpdatedAt = now
	}

	s.logger.Debug("Task deleted", zap.String("task_id", id))
	return nil
}

// ListDependents returns the tasks that directly depend on id, in insertion order.
// Unknown ids have no dependents.
func (s *Store) ListDependents(id string) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dependents := s.dependentsLocked(id)
	out := make([]*model.Task, len(dependents))
	for i, t := range dependents {
		out[i] = t.Clone()
	}
	return out
}

// DependsTransitively reports whether from reaches to by following dependency edges
func (s *Store) DependsTransitively(from, to string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == to {
		return false
	}
	return s.findPathLocked(from, to) != nil
}

// Stats summarises the current graph
func (s *Store) Stats() model.GraphStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.GraphStats{
		TotalTasks: len(s.order),
		ByStatus: map[model.TaskStatus]int{
			model.TaskStatusPending:    0,
			model.TaskStatusInProgress: 0,
			model.TaskStatusCompleted:  0,
			model.TaskStatusBlocked:    0,
		},
		CollectedAt: s.now(),
	}
	for _, id := range s.order {
		task := s.tasks[id]
		stats.ByStatus[task.Status]++
		stats.TotalEdges += len(task.Dependencies)
		if len(task.Dependencies) == 0 {
			stats.Roots++
		}
	}
	return stats
}

// Restore replaces the store contents with a persisted snapshot.
// The snapshot must satisfy every graph invariant and may not bring back an
// id this store already deleted; otherwise the store is left untouched.
func (s *Store) Restore(tasks []*model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := make(map[string]*model.Task, len(tasks))
	order := make([]string, 0, len(tasks))

	for _, t := range tasks {
		if t.ID == "" {
			return invalidf("task id is required")
		}
		if _, dup := restored[t.ID]; dup {
			return invalidf("duplicate task id %q", t.ID)
		}
		if s.retiredLocked(t.ID) {
			return invalidf("task id %q was deleted and cannot be reused", t.ID)
		}
		if strings.TrimSpace(t.Title) == "" {
			return invalidf("task %s: title required", t.ID)
		}
		if !t.Status.Valid() {
			return invalidf("task %s: unknown status %q", t.ID, t.Status)
		}
		c := t.Clone()
		c.Dependencies = c.Dependencies[:0]
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return invalidf("task %s cannot depend on itself", t.ID)
			}
			if !slices.Contains(c.Dependencies, dep) {
				c.Dependencies = append(c.Dependencies, dep)
			}
		}
		restored[c.ID] = c
		order = append(order, c.ID)
	}

	for _, id := range order {
		for _, dep := range restored[id].Dependencies {
			if _, ok := restored[dep]; !ok {
				return &NotFoundError{ID: dep}
			}
		}
	}

	if err := checkAcyclic(restored, order); err != nil {
		return err
	}

	s.tasks = restored
	s.order = order
	for _, id := range order {
		s.issued[id] = struct{}{}
	}

	s.logger.Info("Graph restored", zap.Int("tasks", len(order)))
	return nil
}

// retiredLocked reports whether id was issued by this store and has since been deleted
func (s *Store) retiredLocked(id string) bool {
	if _, issued := s.issued[id]; !issued {
		return false
	}
	_, live := s.tasks[id]
	return !live
}

// nextIDLocked returns an id that has never been issued by this store
func (s *Store) nextIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, used := s.issued[id]; used {
			continue
		}
		s.issued[id] = struct{}{}
		return id, nil
	}
	return "", invalidf("could not allocate a unique task id")
}

// dependentsLocked returns live pointers to the direct dependents of id
func (s *Store) dependentsLocked(id string) []*model.Task {
	var dependents []*model.Task
	for _, taskID := range s.order {
		task := s.tasks[taskID]
		if task.DependsOn(id) {
			dependents = append(dependents, task)
		}
	}
	return dependents
}

// findPathLocked runs an iterative depth-first search from start along
// dependency edges. It returns the path start..target, or nil if target is
// unreachable. Missing ids are treated as having no edges.
func (s *Store) findPathLocked(start, target string) []string {
	return findPath(s.tasks, start, target)
}

func findPath(tasks map[string]*model.Task, start, target string) []string {
	parent := make(map[string]string)
	visited := map[string]bool{start: true}
	stack := []string{start}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == target {
			path := []string{current}
			for current != start {
				current = parent[current]
				path = append(path, current)
			}
			slices.Reverse(path)
			return path
		}

		task := tasks[current]
		if task == nil {
			continue
		}
		for _, dep := range task.Dependencies {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			parent[dep] = current
			stack = append(stack, dep)
		}
	}
	return nil
}

// checkAcyclic peels off tasks whose dependencies are all resolved (Kahn).
// Anything left over sits on or behind a cycle; one closing loop is reported.
func checkAcyclic(tasks map[string]*model.Task, order []string) error {
	pending := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))
	for _, id := range order {
		pending[id] = len(tasks[id].Dependencies)
		for _, dep := range tasks[id].Dependencies {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, id := range order {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	resolved := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		resolved++
		for _, d := range dependents[id] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if resolved == len(order) {
		return nil
	}

	for _, id := range order {
		if pending[id] == 0 {
			continue
		}
		for _, dep := range tasks[id].Dependencies {
			if path := findPath(tasks, dep, id); path != nil {
				return &CycleError{TaskID: id, DependsOnID: dep, Path: append([]string{id}, path...)}
			}
		}
	}
	return &CycleError{}
}
