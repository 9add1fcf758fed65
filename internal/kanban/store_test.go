package kanban

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "kanban.json"), nil)
	require.NoError(t, s.Init())
	return s
}

func TestAddTaskAndRoundTrip(t *testing.T) {
	s := newTestStore(t)

	task, err := s.AddTask(TaskInput{Title: "Build thing", Priority: PriorityHigh, Creator: "planner-1"})
	require.NoError(t, err)
	require.Equal(t, StatusBacklog, task.Status)
	require.Len(t, task.History, 1)
	require.Equal(t, ActionCreated, task.History[0].Action)

	all, err := s.GetAllTasks()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, task.ID, all[0].ID)
}

func TestMoveTaskAppendsHistoryDetail(t *testing.T) {
	s := newTestStore(t)
	task, err := s.AddTask(TaskInput{Title: "X"})
	require.NoError(t, err)

	updated, err := s.MoveTask(task.ID, StatusInProgress, "eng-1", "")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, updated.Status)
	last := updated.History[len(updated.History)-1]
	require.Equal(t, ActionStatusChanged, last.Action)
	require.Contains(t, last.Detail, "backlog -> in_progress")
}

func TestUpdateTaskUnknownIDFails(t *testing.T) {
	s := newTestStore(t)
	title := "nope"
	_, err := s.UpdateTask("missing", TaskPatch{Title: &title}, "actor")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAreDependenciesMet(t *testing.T) {
	s := newTestStore(t)
	dep, err := s.AddTask(TaskInput{Title: "dep"})
	require.NoError(t, err)
	task, err := s.AddTask(TaskInput{Title: "main", DependsOn: []string{dep.ID}})
	require.NoError(t, err)

	met, err := s.AreDependenciesMet(task)
	require.NoError(t, err)
	require.False(t, met, "dependency is still in backlog")

	_, err = s.MoveTask(dep.ID, StatusDone, "eng-1", "")
	require.NoError(t, err)

	task, err = s.GetTask(task.ID)
	require.NoError(t, err)
	met, err = s.AreDependenciesMet(task)
	require.NoError(t, err)
	require.True(t, met)
}

func TestBlockedDependencyNeverMet(t *testing.T) {
	s := newTestStore(t)
	dep, err := s.AddTask(TaskInput{Title: "dep"})
	require.NoError(t, err)
	task, err := s.AddTask(TaskInput{Title: "main", DependsOn: []string{dep.ID}})
	require.NoError(t, err)

	_, err = s.MoveTask(dep.ID, StatusBlocked, "eng-1", "unrecoverable")
	require.NoError(t, err)

	met, err := s.AreDependenciesMet(task)
	require.NoError(t, err)
	require.False(t, met, "a blocked dependency is never treated as met")
}

// TestConcurrentMutationsSerialize exercises the lock-safety invariant from
// spec.md §8: for any interleaving of N concurrent mutations against the
// same state file, the final state equals some serial execution of them.
func TestConcurrentMutationsSerialize(t *testing.T) {
	s := newTestStore(t)
	const n = 20

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.AddTask(TaskInput{Title: "concurrent"})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.GetAllTasks()
	require.NoError(t, err)
	require.Len(t, all, n, "every concurrent AddTask must be reflected exactly once")

	ids := make(map[string]struct{}, n)
	for _, task := range all {
		ids[task.ID] = struct{}{}
	}
	require.Len(t, ids, n, "no two concurrent AddTask calls may collide on id")
}
