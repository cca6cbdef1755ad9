package graph

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/model"
)

// Policy decides what happens to a dependent when one of its dependencies completes
type Policy string

const (
	// PolicyAllDepsComplete advances a dependent only once every dependency is completed
	PolicyAllDepsComplete Policy = "all_deps_complete"

	// PolicyUnconditional advances a dependent whenever any dependency completes
	PolicyUnconditional Policy = "unconditional"

	// PolicyRecompute derives the dependent's status from all of its dependencies:
	// blocked if any is blocked, the next status if all are completed, pending otherwise
	PolicyRecompute Policy = "recompute"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAllDepsComplete, PolicyUnconditional, PolicyRecompute:
		return p, nil
	default:
		return "", fmt.Errorf("unknown propagation policy %q", s)
	}
}

// Transition is one status change applied by propagation
type Transition struct {
	TaskID   string
	From     model.TaskStatus
	To       model.TaskStatus
	SourceID string // the completed task that triggered the change
}

// Propagator cascades completion outward along dependency edges
type Propagator struct {
	logger *zap.Logger
	store  *Store
	next   model.TaskStatus
}

// PropagatorOption configures a Propagator
type PropagatorOption func(*Propagator)

// WithNextStatus sets the status a dependent advances to (default in_progress)
func WithNextStatus(status model.TaskStatus) PropagatorOption {
	return func(p *Propagator) {
		p.next = status
	}
}

// NewPropagator creates a propagator working on store
func NewPropagator(store *Store, logger *zap.Logger, opts ...PropagatorOption) *Propagator {
	p := &Propagator{
		logger: logger.Named("propagator"),
		store:  store,
		next:   model.TaskStatusInProgress,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextStatus returns the status dependents advance to
func (p *Propagator) NextStatus() model.TaskStatus {
	return p.next
}

// PropagateCompletion applies policy to the dependents of completedID and
// returns the ids whose status changed, in the order they changed.
func (p *Propagator) PropagateCompletion(completedID string, policy Policy) []string {
	transitions := p.Propagate(completedID, policy)
	ids := make([]string, len(transitions))
	for i, t := range transitions {
		ids[i] = t.TaskID
	}
	return ids
}

// Propagate is PropagateCompletion with the full transition detail.
//
// The walk is breadth-first from completedID. A task's own dependents are only
// scanned when the task is completed, either because it is the starting point
// or because the policy advanced it to completed. Each task is expanded at most
// once and changed at most once, so the walk terminates on any DAG.
func (p *Propagator) Propagate(completedID string, policy Policy) []Transition {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.tasks[completedID]
	if !ok || start.Status != model.TaskStatusCompleted {
		return nil
	}

	var transitions []Transition
	expanded := map[string]bool{completedID: true}
	changed := make(map[string]bool)
	queue := []string{completedID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range s.dependentsLocked(current) {
			if changed[dependent.ID] || dependent.Status == model.TaskStatusCompleted {
				continue
			}

			target, advance := p.apply(policy, dependent)
			if !advance || target == dependent.Status {
				continue
			}

			transitions = append(transitions, Transition{
				TaskID:   dependent.ID,
				From:     dependent.Status,
				To:       target,
				SourceID: current,
			})
			dependent.Status = target
			dependent.UpdatedAt = s.now()
			changed[dependent.ID] = true

			if target == model.TaskStatusCompleted && !expanded[dependent.ID] {
				expanded[dependent.ID] = true
				queue = append(queue, dependent.ID)
			}
		}
	}

	if len(transitions) > 0 {
		p.logger.Debug("Propagated completion",
			zap.String("task_id", completedID),
			zap.String("policy", string(policy)),
			zap.Int("changed", len(transitions)))
	}
	return transitions
}

// Recompute re-derives id's status from its dependencies the way
// PolicyRecompute does. Completed and unknown tasks are left alone; false
// means nothing changed.
func (p *Propagator) Recompute(id string) (Transition, bool) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status == model.TaskStatusCompleted {
		return Transition{}, false
	}

	target := p.recompute(task)
	if target == task.Status {
		return Transition{}, false
	}

	tr := Transition{TaskID: id, From: task.Status, To: target}
	task.Status = target
	task.UpdatedAt = s.now()

	p.logger.Debug("Recomputed task status",
		zap.String("task_id", id),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)))
	return tr, true
}

// apply returns the status policy assigns to dependent and whether it applies
func (p *Propagator) apply(policy Policy, dependent *model.Task) (model.TaskStatus, bool) {
	switch policy {
	case PolicyUnconditional:
		return p.next, true
	case PolicyRecompute:
		return p.recompute(dependent), true
	default:
		if p.allDepsCompleted(dependent) {
			return p.next, true
		}
		return "", false
	}
}

// allDepsCompleted must be called with the store lock held
func (p *Propagator) allDepsCompleted(task *model.Task) bool {
	for _, depID := range task.Dependencies {
		dep, ok := p.store.tasks[depID]
		if !ok {
			continue
		}
		if dep.Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// recompute must be called with the store lock held
func (p *Propagator) recompute(task *model.Task) model.TaskStatus {
	allCompleted := true
	for _, depID := range task.Dependencies {
		dep, ok := p.store.tasks[depID]
		if !ok {
			continue
		}
		if dep.Status == model.TaskStatusBlocked {
			return model.TaskStatusBlocked
		}
		if dep.Status != model.TaskStatusCompleted {
			allCompleted = false
		}
	}
	if allCompleted {
		return p.next
	}
	return model.TaskStatusPending
}
