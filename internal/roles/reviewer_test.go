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

func setupReviewFixture(t *testing.T) (*kanban.Store, *worktree.Manager, kanban.Task) {
	t.Helper()
	repo := t.TempDir()
	wt := worktree.New(repo)
	ctx := context.Background()
	require.NoError(t, wt.EnsureReady(ctx))

	store := kanban.New(filepath.Join(repo, ".arkaledge", "kanban.json"), nil)
	require.NoError(t, store.Init())

	task, err := store.AddTask(kanban.TaskInput{Title: "Reviewed task"})
	require.NoError(t, err)
	branch := worktree.BranchName(task.ID, task.Title)
	path, err := wt.CreateWorktree(ctx, task.ID, branch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "new.txt"), []byte("hi"), 0o644))
	require.NoError(t, wt.CommitAll(ctx, path, "feat: add new.txt"))

	branchCopy, pathCopy := branch, path
	task, err = store.UpdateTask(task.ID, kanban.TaskPatch{Branch: &branchCopy, Worktree: &pathCopy}, "scheduler")
	require.NoError(t, err)
	task, err = store.MoveTask(task.ID, kanban.StatusReview, "eng-1", "")
	require.NoError(t, err)
	return store, wt, task
}

func TestReviewerApprovesAndMerges(t *testing.T) {
	store, wt, task := setupReviewFixture(t)
	fake := agentruntime.NewFakeRuntime(agentruntime.TextScript(`{"verdict":"approved","comments":[]}`))

	rv := &Reviewer{Runtime: fake, Worktree: wt, Store: store, AgentID: "rev-1", AutoMerge: true}
	updated, err := rv.Run(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusDone, updated.Status)
	require.Empty(t, updated.Worktree)
	require.NoDirExists(t, task.Worktree)
}

func TestReviewerRejectsAndRecordsComments(t *testing.T) {
	store, wt, task := setupReviewFixture(t)
	fake := agentruntime.NewFakeRuntime(agentruntime.TextScript(`{"verdict":"rejected","comments":["missing tests"]}`))

	rv := &Reviewer{Runtime: fake, Worktree: wt, Store: store, AgentID: "rev-1", AutoMerge: true}
	updated, err := rv.Run(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusInProgress, updated.Status)
	require.Contains(t, updated.ReviewComments, "missing tests")
}

func TestReviewerTreatsUnparsableVerdictAsRejection(t *testing.T) {
	store, wt, task := setupReviewFixture(t)
	fake := agentruntime.NewFakeRuntime(agentruntime.TextScript(`I could not produce JSON for this review.`))

	rv := &Reviewer{Runtime: fake, Worktree: wt, Store: store, AgentID: "rev-1", AutoMerge: true}
	updated, err := rv.Run(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusInProgress, updated.Status)
	require.NotEmpty(t, updated.ReviewComments)
}

func TestReviewerManualMergeLeavesTaskDoneWithoutMerging(t *testing.T) {
	store, wt, task := setupReviewFixture(t)
	fake := agentruntime.NewFakeRuntime(agentruntime.TextScript(`{"verdict":"approved","comments":[]}`))

	rv := &Reviewer{Runtime: fake, Worktree: wt, Store: store, AgentID: "rev-1", AutoMerge: false}
	updated, err := rv.Run(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, kanban.StatusDone, updated.Status)
	require.NotEmpty(t, updated.Worktree, "worktree is left in place when auto_merge is false")
}
