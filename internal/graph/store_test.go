package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/model"
)

// sequentialIDs yields "1", "2", "3", ... so tests can refer to tasks by number
func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("%d", n)
	})
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zap.NewNop(), sequentialIDs())
}

func mustCreate(t *testing.T, s *Store, title string) *model.Task {
	t.Helper()
	task, err := s.CreateTask(title, "", model.TaskStatusPending)
	require.NoError(t, err)
	return task
}

func mustDepend(t *testing.T, s *Store, taskID, dependsOnID string) {
	t.Helper()
	_, err := s.AddDependency(taskID, dependsOnID)
	require.NoError(t, err)
}

// assertAcyclic checks that no task can reach itself
func assertAcyclic(t *testing.T, s *Store) {
	t.Helper()
	for _, task := range s.ListTasks() {
		for _, dep := range task.Dependencies {
			assert.False(t, s.DependsTransitively(dep, task.ID),
				"cycle through %s -> %s", task.ID, dep)
		}
	}
}

func TestStore_CreateTask(t *testing.T) {
	s := newTestStore(t)

	t.Run("Assigns id and empty dependencies", func(t *testing.T) {
		task, err := s.CreateTask("Design", "Create clean UI", model.TaskStatusInProgress)
		require.NoError(t, err)
		assert.Equal(t, "1", task.ID)
		assert.Equal(t, "Design", task.Title)
		assert.Equal(t, "Create clean UI", task.Description)
		assert.Equal(t, model.TaskStatusInProgress, task.Status)
		assert.Empty(t, task.Dependencies)
		assert.False(t, task.CreatedAt.IsZero())
		assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	})

	t.Run("Defaults to pending", func(t *testing.T) {
		task, err := s.CreateTask("Build", "", "")
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusPending, task.Status)
	})

	t.Run("Rejects blank title", func(t *testing.T) {
		for _, title := range []string{"", "   ", "\t\n"} {
			_, err := s.CreateTask(title, "desc", model.TaskStatusPending)
			assert.ErrorIs(t, err, ErrValidation)
		}
		assert.Len(t, s.ListTasks(), 2)
	})

	t.Run("Rejects unknown status", func(t *testing.T) {
		_, err := s.CreateTask("Deploy", "", model.TaskStatus("done"))
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestStore_IDsNeverReused(t *testing.T) {
	ids := []string{"a", "a", "b", "a", "c"}
	i := 0
	s := NewStore(zap.NewNop(), WithIDGenerator(func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}))

	first := mustCreate(t, s, "first")
	require.NoError(t, s.DeleteTask(first.ID))

	second := mustCreate(t, s, "second")
	third := mustCreate(t, s, "third")

	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, "c", third.ID)
}

func TestStore_DefaultIDsAreUnique(t *testing.T) {
	s := NewStore(zap.NewNop())
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		task := mustCreate(t, s, fmt.Sprintf("task %d", i))
		require.False(t, seen[task.ID])
		seen[task.ID] = true
	}
}

func TestStore_SetStatus(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	mustDepend(t, s, b.ID, a.ID)

	// Completing a dependent before its dependency is allowed
	updated, err := s.SetStatus(b.ID, model.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, updated.Status)

	got, ok := s.GetTask(b.ID)
	require.True(t, ok)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)

	_, err = s.SetStatus("missing", model.TaskStatusCompleted)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.ID)

	_, err = s.SetStatus(a.ID, model.TaskStatus("bogus"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStore_SetStatusSameStatusKeepsTimestamp(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(zap.NewNop(), sequentialIDs(), WithClock(func() time.Time { return clock }))
	a := mustCreate(t, s, "A")

	clock = clock.Add(time.Hour)
	unchanged, err := s.SetStatus(a.ID, model.TaskStatusPending)
	require.NoError(t, err)
	assert.Equal(t, a.UpdatedAt, unchanged.UpdatedAt)

	changed, err := s.SetStatus(a.ID, model.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, clock, changed.UpdatedAt)
}

func TestStore_UpdateTask(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")

	updated, err := s.UpdateTask(a.ID, "A2", "new description")
	require.NoError(t, err)
	assert.Equal(t, "A2", updated.Title)
	assert.Equal(t, "new description", updated.Description)

	_, err = s.UpdateTask(a.ID, " ", "x")
	assert.ErrorIs(t, err, ErrValidation)

	got, _ := s.GetTask(a.ID)
	assert.Equal(t, "A2", got.Title)

	_, err = s.UpdateTask("nope", "t", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AddDependency(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")

	t.Run("Self dependency", func(t *testing.T) {
		for _, task := range []*model.Task{a, b, c} {
			_, err := s.AddDependency(task.ID, task.ID)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
		}
	})

	t.Run("Missing selection", func(t *testing.T) {
		_, err := s.AddDependency("", b.ID)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = s.AddDependency(a.ID, "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("Unknown ids", func(t *testing.T) {
		_, err := s.AddDependency("ghost", a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.AddDependency(a.ID, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Chain then cycle", func(t *testing.T) {
		// A depends on B, B depends on C
		mustDepend(t, s, a.ID, b.ID)
		mustDepend(t, s, b.ID, c.ID)

		_, err := s.AddDependency(c.ID, a.ID)
		var cycle *CycleError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, c.ID, cycle.TaskID)
		assert.Equal(t, a.ID, cycle.DependsOnID)
		assert.Equal(t, []string{c.ID, a.ID, b.ID, c.ID}, cycle.Path)
		assert.ErrorIs(t, err, ErrCycle)

		got, _ := s.GetTask(c.ID)
		assert.Empty(t, got.Dependencies)

		_, err = s.AddDependency(c.ID, b.ID)
		assert.ErrorIs(t, err, ErrCycle)
		assertAcyclic(t, s)
	})

	t.Run("Shortcut edge is allowed", func(t *testing.T) {
		task, err := s.AddDependency(a.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID, c.ID}, task.Dependencies)
	})

	t.Run("Idempotent", func(t *testing.T) {
		first, err := s.AddDependency(a.ID, b.ID)
		require.NoError(t, err)
		second, err := s.AddDependency(a.ID, b.ID)
		require.NoError(t, err)
		assert.Len(t, second.Dependencies, len(first.Dependencies))
		assert.Equal(t, first.Dependencies, second.Dependencies)
	})
}

func TestStore_RemoveDependency(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	mustDepend(t, s, a.ID, b.ID)

	task, err := s.RemoveDependency(a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, task.Dependencies)

	// Absent edge
	task, err = s.RemoveDependency(a.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, task.Dependencies)

	// Reverse edge is now legal
	_, err = s.AddDependency(b.ID, a.ID)
	require.NoError(t, err)

	_, err = s.RemoveDependency(a.ID, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteTask(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	mustDepend(t, s, a.ID, b.ID)
	mustDepend(t, s, c.ID, b.ID)
	mustDepend(t, s, c.ID, a.ID)

	require.NoError(t, s.DeleteTask(b.ID))

	_, ok := s.GetTask(b.ID)
	assert.False(t, ok)

	got, _ := s.GetTask(a.ID)
	assert.Empty(t, got.Dependencies)
	got, _ = s.GetTask(c.ID)
	assert.Equal(t, []string{a.ID}, got.Dependencies)

	ids := make([]string, 0)
	for _, task := range s.ListTasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{a.ID, c.ID}, ids)

	err := s.DeleteTask(b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListDependents(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	d := mustCreate(t, s, "D")
	mustDepend(t, s, d.ID, a.ID)
	mustDepend(t, s, b.ID, a.ID)
	mustDepend(t, s, c.ID, b.ID)

	tests := []struct {
		id   string
		want []string
	}{
		{a.ID, []string{b.ID, d.ID}}, // insertion order, not edge order
		{b.ID, []string{c.ID}},
		{c.ID, nil},
		{"ghost", nil},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			var got []string
			for _, task := range s.ListDependents(tt.id) {
				got = append(got, task.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	mustDepend(t, s, a.ID, b.ID)

	got, _ := s.GetTask(a.ID)
	got.Dependencies[0] = "tampered"
	got.Status = model.TaskStatusBlocked

	again, _ := s.GetTask(a.ID)
	assert.Equal(t, []string{b.ID}, again.Dependencies)
	assert.Equal(t, model.TaskStatusPending, again.Status)
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	c := mustCreate(t, s, "C")
	mustDepend(t, s, b.ID, a.ID)
	mustDepend(t, s, c.ID, a.ID)
	mustDepend(t, s, c.ID, b.ID)
	_, err := s.SetStatus(a.ID, model.TaskStatusCompleted)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 3, stats.TotalTasks)
	assert.Equal(t, 3, stats.TotalEdges)
	assert.Equal(t, 1, stats.Roots)
	assert.Equal(t, 1, stats.ByStatus[model.TaskStatusCompleted])
	assert.Equal(t, 2, stats.ByStatus[model.TaskStatusPending])
	assert.Equal(t, 0, stats.ByStatus[model.TaskStatusBlocked])
}

func TestStore_Restore(t *testing.T) {
	snapshot := func() []*model.Task {
		return []*model.Task{
			{ID: "1", Title: "Design", Status: model.TaskStatusCompleted},
			{ID: "2", Title: "Build", Status: model.TaskStatusPending, Dependencies: []string{"1", "1"}},
			{ID: "3", Title: "Deploy", Status: model.TaskStatusPending, Dependencies: []string{"2"}},
		}
	}

	t.Run("Valid snapshot", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Restore(snapshot()))

		tasks := s.ListTasks()
		require.Len(t, tasks, 3)
		assert.Equal(t, "1", tasks[0].ID)
		assert.Equal(t, []string{"1"}, tasks[1].Dependencies)

		// Restored ids are never handed out again
		created := mustCreate(t, s, "Next")
		assert.Equal(t, "4", created.ID)
	})

	tests := []struct {
		name   string
		mutate func([]*model.Task) []*model.Task
		target error
	}{
		{"Duplicate id", func(ts []*model.Task) []*model.Task {
			return append(ts, &model.Task{ID: "1", Title: "dup", Status: model.TaskStatusPending})
		}, ErrValidation},
		{"Blank title", func(ts []*model.Task) []*model.Task {
			ts[0].Title = " "
			return ts
		}, ErrValidation},
		{"Bad status", func(ts []*model.Task) []*model.Task {
			ts[0].Status = "done"
			return ts
		}, ErrValidation},
		{"Self loop", func(ts []*model.Task) []*model.Task {
			ts[0].Dependencies = []string{"1"}
			return ts
		}, ErrValidation},
		{"Dangling edge", func(ts []*model.Task) []*model.Task {
			ts[2].Dependencies = append(ts[2].Dependencies, "99")
			return ts
		}, ErrNotFound},
		{"Cycle", func(ts []*model.Task) []*model.Task {
			ts[0].Dependencies = []string{"3"}
			return ts
		}, ErrCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			existing := mustCreate(t, s, "existing")

			err := s.Restore(tt.mutate(snapshot()))
			require.ErrorIs(t, err, tt.target)

			tasks := s.ListTasks()
			require.Len(t, tasks, 1)
			assert.Equal(t, existing.ID, tasks[0].ID)
		})
	}

	t.Run("Cycle path", func(t *testing.T) {
		s := newTestStore(t)
		ts := snapshot()
		ts[0].Dependencies = []string{"3"}
		err := s.Restore(ts)
		var cycle *CycleError
		require.ErrorAs(t, err, &cycle)
		require.NotEmpty(t, cycle.Path)
		assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
	})
}

func TestStore_RestoreRejectsDeletedIDs(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, "A")
	b := mustCreate(t, s, "B")
	require.NoError(t, s.DeleteTask(a.ID))

	err := s.Restore([]*model.Task{
		{ID: a.ID, Title: "A again", Status: model.TaskStatusPending},
	})
	require.ErrorIs(t, err, ErrValidation)

	tasks := s.ListTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, b.ID, tasks[0].ID)

	// Live ids and never-issued ids are still accepted
	require.NoError(t, s.Restore([]*model.Task{
		{ID: b.ID, Title: "B", Status: model.TaskStatusPending},
		{ID: "fresh", Title: "Fresh", Status: model.TaskStatusPending, Dependencies: []string{b.ID}},
	}))
	assert.Len(t, s.ListTasks(), 2)

	created := mustCreate(t, s, "C")
	assert.Equal(t, "3", created.ID)

	require.NoError(t, s.DeleteTask(b.ID))
	err = s.Restore([]*model.Task{{ID: b.ID, Title: "B", Status: model.TaskStatusPending}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStore_RandomInsertionsStayAcyclic(t *testing.T) {
	s := newTestStore(t)
	rng := rand.New(rand.NewSource(42))

	var ids []string
	for i := 0; i < 25; i++ {
		ids = append(ids, mustCreate(t, s, fmt.Sprintf("task %d", i)).ID)
	}

	for i := 0; i < 300; i++ {
		from := ids[rng.Intn(len(ids))]
		to := ids[rng.Intn(len(ids))]
		_, err := s.AddDependency(from, to)
		if err != nil {
			require.True(t, errors.Is(err, ErrCycle) || errors.Is(err, ErrValidation), err)
			continue
		}
		assertAcyclic(t, s)
	}
}

func TestStore_DependentsMatchDependencySets(t *testing.T) {
	s := newTestStore(t)
	rng := rand.New(rand.NewSource(7))

	var ids []string
	for i := 0; i < 15; i++ {
		ids = append(ids, mustCreate(t, s, fmt.Sprintf("task %d", i)).ID)
	}
	for i := 0; i < 60; i++ {
		_, _ = s.AddDependency(ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))])
	}

	tasks := s.ListTasks()
	for _, target := range tasks {
		var want []string
		for _, task := range tasks {
			if task.DependsOn(target.ID) {
				want = append(want, task.ID)
			}
		}
		var got []string
		for _, task := range s.ListDependents(target.ID) {
			got = append(got, task.ID)
		}
		assert.Equal(t, want, got, "dependents of %s", target.ID)
	}
}

func TestScenario_DesignBuildDeploy(t *testing.T) {
	s := newTestStore(t)
	design := mustCreate(t, s, "Design")
	build := mustCreate(t, s, "Build")
	deploy := mustCreate(t, s, "Deploy")
	mustDepend(t, s, build.ID, design.ID)
	mustDepend(t, s, deploy.ID, build.ID)

	// Deploy -> Build -> Design already exists, so Design -> Deploy closes the loop
	_, err := s.AddDependency(design.ID, deploy.ID)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"1", "3", "2", "1"}, cycle.Path)
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	got, _ := s.GetTask(design.ID)
	assert.Empty(t, got.Dependencies)
}

func TestScenario_DeleteClearsDependents(t *testing.T) {
	s := newTestStore(t)
	first := mustCreate(t, s, "first")
	second := mustCreate(t, s, "second")
	mustDepend(t, s, second.ID, first.ID)

	require.NoError(t, s.DeleteTask(first.ID))

	got, ok := s.GetTask(second.ID)
	require.True(t, ok)
	assert.Empty(t, got.Dependencies)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&ValidationError{Reason: "x"}, http.StatusBadRequest},
		{&NotFoundError{ID: "x"}, http.StatusNotFound},
		{&CycleError{TaskID: "a", DependsOnID: "b"}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", &NotFoundError{ID: "x"}), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err))
	}
}
