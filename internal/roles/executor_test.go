package roles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/kanban"
	"github.com/arkaledge/orchestrator/internal/worktree"
)

func setupExecutorFixture(t *testing.T) (*kanban.Store, *worktree.Manager, kanban.Task) {
	t.Helper()
	repo := t.TempDir()
	wt := worktree.New(repo)
	ctx := context.Background()
	require.NoError(t, wt.EnsureReady(ctx))

	store := kanban.New(filepath.Join(repo, ".arkaledge", "kanban.json"), nil)
	require.NoError(t, store.Init())

	task, err := store.AddTask(kanban.TaskInput{Title: "Add a file", Priority: kanban.PriorityHigh})
	require.NoError(t, err)

	branch := worktree.BranchName(task.ID, task.Title)
	path, err := wt.CreateWorktree(ctx, task.ID, branch)
	require.NoError(t, err)

	branchCopy, pathCopy := branch, path
	task, err = store.UpdateTask(task.ID, kanban.TaskPatch{Branch: &branchCopy, Worktree: &pathCopy}, "scheduler")
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusInProgress, "scheduler", "")
	require.NoError(t, err)

	return store, wt, task
}

func TestExecutorSuccessMovesToReviewAndCommits(t *testing.T) {
	store, wt, task := setupExecutorFixture(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(task.Worktree, "feature.txt"), []byte("content"), 0o644))

	fake := agentruntime.NewFakeRuntime(agentruntime.Script{Messages: []agentruntime.Message{
		{Kind: agentruntime.KindText, Content: "implemented and tests pass"},
	}})

	ex := &Executor{Runtime: fake, Worktree: wt, Store: store, AgentID: "eng-1", MaxRetries: 3}
	updated, err := ex.Run(ctx, task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusReview, updated.Status)

	count, err := wt.CommitCount(ctx, task.Worktree, task.Branch)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestExecutorRetriesThenSucceeds(t *testing.T) {
	store, wt, task := setupExecutorFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(task.Worktree, "feature.txt"), []byte("x"), 0o644))

	fake := agentruntime.NewFakeRuntime(
		agentruntime.Script{Messages: []agentruntime.Message{{Kind: agentruntime.KindToolResult, Content: "tests failed: 1 FAIL"}}},
		agentruntime.Script{Messages: []agentruntime.Message{{Kind: agentruntime.KindToolResult, Content: "tests failed: 1 FAIL"}}},
		agentruntime.Script{Messages: []agentruntime.Message{{Kind: agentruntime.KindText, Content: "fixed, tests pass"}}},
	)

	ex := &Executor{Runtime: fake, Worktree: wt, Store: store, AgentID: "eng-1", MaxRetries: 3}
	updated, err := ex.Run(ctx, task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusReview, updated.Status)
	require.Equal(t, 2, updated.RetryCount)
}

func TestExecutorBlocksAfterRetriesExhausted(t *testing.T) {
	store, wt, task := setupExecutorFixture(t)
	ctx := context.Background()

	failing := agentruntime.Script{Messages: []agentruntime.Message{{Kind: agentruntime.KindToolResult, Content: "tests failed: 1 FAIL"}}}
	fake := agentruntime.NewFakeRuntime(failing, failing, failing, failing)

	ex := &Executor{Runtime: fake, Worktree: wt, Store: store, AgentID: "eng-1", MaxRetries: 2}
	updated, err := ex.Run(ctx, task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusBlocked, updated.Status)
	require.Contains(t, updated.BlockedReason, "Failed after")
}

func TestExecutorMissingWorktreeMetadataBlocksImmediately(t *testing.T) {
	repo := t.TempDir()
	store := kanban.New(filepath.Join(repo, "kanban.json"), nil)
	require.NoError(t, store.Init())
	task, err := store.AddTask(kanban.TaskInput{Title: "no worktree"})
	require.NoError(t, err)

	ex := &Executor{Store: store, AgentID: "eng-1", MaxRetries: 3}
	updated, err := ex.Run(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusBlocked, updated.Status)
	require.Equal(t, "missing worktree metadata", updated.BlockedReason)
}
