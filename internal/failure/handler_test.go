package failure

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/kanban"
)

func newStore(t *testing.T) *kanban.Store {
	t.Helper()
	s := kanban.New(filepath.Join(t.TempDir(), "kanban.json"), nil)
	require.NoError(t, s.Init())
	return s
}

func TestRetryBelowMaxRetries(t *testing.T) {
	store := newStore(t)
	task, err := store.AddTask(kanban.TaskInput{Title: "t"})
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusBlocked, "eng-1", "flaky test")
	require.NoError(t, err)

	var slept time.Duration
	h := &Handler{Store: store, MaxRetries: 3, Sleep: func(d time.Duration) { slept = d }}

	outcome, err := h.Process(task)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetry, outcome)
	require.Equal(t, 2*time.Second, slept)

	updated, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusBacklog, updated.Status)
	require.Equal(t, 1, updated.RetryCount)
}

func TestReassignWhenRetriesExhausted(t *testing.T) {
	store := newStore(t)
	task, err := store.AddTask(kanban.TaskInput{Title: "t"})
	require.NoError(t, err)
	task, err = store.AssignTask(task.ID, "eng-claude")
	require.NoError(t, err)
	three := 3
	task, err = store.UpdateTask(task.ID, kanban.TaskPatch{RetryCount: &three}, "test")
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusBlocked, "eng-claude", "flaky")
	require.NoError(t, err)

	h := &Handler{
		Store:      store,
		MaxRetries: 3,
		Sleep:      func(time.Duration) {},
		Engineers: []Engineer{
			{ID: "eng-claude", Backend: "claude", Model: "sonnet"},
			{ID: "eng-codex", Backend: "codex", Model: "gpt"},
		},
	}

	outcome, err := h.Process(task)
	require.NoError(t, err)
	require.Equal(t, OutcomeReassigned, outcome)

	updated, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusBacklog, updated.Status)
	require.Equal(t, 0, updated.RetryCount)
	require.Empty(t, updated.Assignee)
}

func TestBlockWhenNoAlternateEngineer(t *testing.T) {
	store := newStore(t)
	task, err := store.AddTask(kanban.TaskInput{Title: "t"})
	require.NoError(t, err)
	task, err = store.AssignTask(task.ID, "eng-claude")
	require.NoError(t, err)
	three := 3
	task, err = store.UpdateTask(task.ID, kanban.TaskPatch{RetryCount: &three}, "test")
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusBlocked, "eng-claude", "flaky")
	require.NoError(t, err)

	h := &Handler{Store: store, MaxRetries: 3, Sleep: func(time.Duration) {}}
	outcome, err := h.Process(task)
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, outcome)
}

func TestUnrecoverableReasonShortCircuitsToBlock(t *testing.T) {
	store := newStore(t)
	task, err := store.AddTask(kanban.TaskInput{Title: "t"})
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusBlocked, "rev-1", "Merge/cleanup failed: conflict")
	require.NoError(t, err)

	h := &Handler{Store: store, MaxRetries: 3, Sleep: func(time.Duration) { t.Fatal("must not sleep/retry") }}
	outcome, err := h.Process(task)
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, outcome)
}

func TestPermanentBlockEventEmittedExactlyOnce(t *testing.T) {
	store := newStore(t)
	task, err := store.AddTask(kanban.TaskInput{Title: "t"})
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusBlocked, "rev-1", "Merge/cleanup failed: conflict")
	require.NoError(t, err)

	notifyCount := 0
	h := &Handler{Store: store, MaxRetries: 3, Notify: func(kanban.Task) { notifyCount++ }}

	for i := 0; i < 5; i++ {
		outcome, err := h.Process(task)
		require.NoError(t, err)
		require.Equal(t, OutcomeBlocked, outcome)
	}
	require.Equal(t, 1, notifyCount, "permanent block notification fires exactly once across repeated sweeps")
}
