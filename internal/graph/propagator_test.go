package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/model"
)

func complete(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.SetStatus(id, model.TaskStatusCompleted)
	require.NoError(t, err)
}

func statusOf(t *testing.T, s *Store, id string) model.TaskStatus {
	t.Helper()
	task, ok := s.GetTask(id)
	require.True(t, ok)
	return task.Status
}

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{"all_deps_complete", "unconditional", "recompute"} {
		p, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, Policy(name), p)
	}
	_, err := ParsePolicy("eventually")
	assert.Error(t, err)
}

func TestPropagator_AllDepsComplete(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop())

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	// C depends on A and B
	mustDepend(t, s, c.ID, a.ID)
	mustDepend(t, s, c.ID, b.ID)

	complete(t, s, a.ID)
	changed := p.PropagateCompletion(a.ID, PolicyAllDepsComplete)
	assert.Empty(t, changed)
	assert.Equal(t, model.TaskStatusPending, statusOf(t, s, c.ID))

	complete(t, s, b.ID)
	changed = p.PropagateCompletion(b.ID, PolicyAllDepsComplete)
	assert.Equal(t, []string{c.ID}, changed)
	assert.Equal(t, model.TaskStatusInProgress, statusOf(t, s, c.ID))

	// Running again changes nothing
	assert.Empty(t, p.PropagateCompletion(b.ID, PolicyAllDepsComplete))
}

func TestPropagator_Unconditional(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop())

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	mustDepend(t, s, c.ID, a.ID)
	mustDepend(t, s, c.ID, b.ID)

	complete(t, s, a.ID)
	changed := p.PropagateCompletion(a.ID, PolicyUnconditional)
	assert.Equal(t, []string{c.ID}, changed)
	assert.Equal(t, model.TaskStatusInProgress, statusOf(t, s, c.ID))
}

func TestPropagator_Recompute(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop())

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	d := mustCreate(t, s, "D")
	mustDepend(t, s, c.ID, a.ID)
	mustDepend(t, s, c.ID, b.ID)
	mustDepend(t, s, d.ID, a.ID)

	_, err := s.SetStatus(b.ID, model.TaskStatusBlocked)
	require.NoError(t, err)
	_, err = s.SetStatus(d.ID, model.TaskStatusBlocked)
	require.NoError(t, err)
	complete(t, s, a.ID)

	transitions := p.Propagate(a.ID, PolicyRecompute)
	require.Len(t, transitions, 2)

	// C has a blocked dependency
	assert.Equal(t, c.ID, transitions[0].TaskID)
	assert.Equal(t, model.TaskStatusPending, transitions[0].From)
	assert.Equal(t, model.TaskStatusBlocked, transitions[0].To)
	assert.Equal(t, a.ID, transitions[0].SourceID)

	// D only depends on A, which is complete
	assert.Equal(t, d.ID, transitions[1].TaskID)
	assert.Equal(t, model.TaskStatusBlocked, transitions[1].From)
	assert.Equal(t, model.TaskStatusInProgress, transitions[1].To)
}

func TestPropagator_RecomputeSingleTask(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop())

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	_, err := s.SetStatus(a.ID, model.TaskStatusBlocked)
	require.NoError(t, err)
	_, err = s.SetStatus(b.ID, model.TaskStatusInProgress)
	require.NoError(t, err)
	mustDepend(t, s, b.ID, a.ID)

	tr, changed := p.Recompute(b.ID)
	require.True(t, changed)
	assert.Equal(t, Transition{TaskID: b.ID, From: model.TaskStatusInProgress, To: model.TaskStatusBlocked}, tr)
	assert.Equal(t, model.TaskStatusBlocked, statusOf(t, s, b.ID))

	_, changed = p.Recompute(b.ID)
	assert.False(t, changed)

	complete(t, s, b.ID)
	_, changed = p.Recompute(b.ID)
	assert.False(t, changed)
	assert.Equal(t, model.TaskStatusCompleted, statusOf(t, s, b.ID))

	_, changed = p.Recompute("missing")
	assert.False(t, changed)
}

func TestPropagator_ChainVisitsEachOnce(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop(), WithNextStatus(model.TaskStatusCompleted))
	assert.Equal(t, model.TaskStatusCompleted, p.NextStatus())

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	mustDepend(t, s, b.ID, a.ID)
	mustDepend(t, s, c.ID, b.ID)

	complete(t, s, a.ID)
	changed := p.PropagateCompletion(a.ID, PolicyAllDepsComplete)
	assert.Equal(t, []string{b.ID, c.ID}, changed)
	assert.Equal(t, model.TaskStatusCompleted, statusOf(t, s, b.ID))
	assert.Equal(t, model.TaskStatusCompleted, statusOf(t, s, c.ID))

	// Second run in sequence is a no-op
	assert.Empty(t, p.PropagateCompletion(a.ID, PolicyAllDepsComplete))
}

func TestPropagator_DiamondAdvancesJoinOnce(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop(), WithNextStatus(model.TaskStatusCompleted))

	// B and C depend on A, D depends on B and C
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	d := mustCreate(t, s, "D")
	mustDepend(t, s, b.ID, a.ID)
	mustDepend(t, s, c.ID, a.ID)
	mustDepend(t, s, d.ID, b.ID)
	mustDepend(t, s, d.ID, c.ID)

	complete(t, s, a.ID)
	changed := p.PropagateCompletion(a.ID, PolicyAllDepsComplete)
	assert.Equal(t, []string{b.ID, c.ID, d.ID}, changed)
}

func TestPropagator_UnconditionalDiamondChangesOnce(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop(), WithNextStatus(model.TaskStatusCompleted))

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	d := mustCreate(t, s, "D")
	mustDepend(t, s, b.ID, a.ID)
	mustDepend(t, s, c.ID, a.ID)
	mustDepend(t, s, d.ID, b.ID)
	mustDepend(t, s, d.ID, c.ID)
	mustDepend(t, s, d.ID, a.ID)

	complete(t, s, a.ID)
	changed := p.PropagateCompletion(a.ID, PolicyUnconditional)
	assert.Equal(t, []string{b.ID, c.ID, d.ID}, changed)
}

func TestPropagator_EdgeCases(t *testing.T) {
	s := newTestStore(t)
	p := NewPropagator(s, zap.NewNop())

	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	mustDepend(t, s, b.ID, a.ID)

	t.Run("Unknown id", func(t *testing.T) {
		assert.Empty(t, p.PropagateCompletion("ghost", PolicyUnconditional))
	})

	t.Run("Source not completed", func(t *testing.T) {
		assert.Empty(t, p.PropagateCompletion(a.ID, PolicyUnconditional))
		assert.Equal(t, model.TaskStatusPending, statusOf(t, s, b.ID))
	})

	t.Run("Completed dependents are left alone", func(t *testing.T) {
		complete(t, s, b.ID)
		complete(t, s, a.ID)
		assert.Empty(t, p.PropagateCompletion(a.ID, PolicyRecompute))
		assert.Equal(t, model.TaskStatusCompleted, statusOf(t, s, b.ID))
	})
}
