package arkaledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/config"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

func testConfig(projectDir string) config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.ProjectDir = projectDir
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Team.Agents = []config.AgentConfig{
		{ID: "pm", Role: config.RoleProductManager, Backend: "fake", Model: "fake"},
		{ID: "eng-1", Role: config.RoleEngineer, Backend: "fake", Model: "fake"},
	}
	return cfg
}

func noopRuntimeFor(agentID string) agentruntime.Runtime {
	return agentruntime.NewFakeRuntime()
}

// TestIsResumeFalseOnEmptyState covers the fresh-run half of spec.md §6's
// resume contract: an empty kanban state means this is not a resume.
func TestIsResumeFalseOnEmptyState(t *testing.T) {
	orch, err := New(testConfig(t.TempDir()), noopRuntimeFor)
	require.NoError(t, err)
	defer orch.Close()

	resume, err := orch.IsResume()
	require.NoError(t, err)
	require.False(t, resume)
}

// TestIsResumeTrueWithExistingTask covers the resume half: once the kanban
// state holds at least one task, the engine must recognize resume mode.
func TestIsResumeTrueWithExistingTask(t *testing.T) {
	projectDir := t.TempDir()
	orch, err := New(testConfig(projectDir), noopRuntimeFor)
	require.NoError(t, err)
	_, err = orch.Store.AddTask(kanban.TaskInput{Title: "seed task", Creator: "pm"})
	require.NoError(t, err)
	orch.Close()

	// A second New against the same project directory must observe the
	// already-persisted task and therefore resume.
	orch2, err := New(testConfig(projectDir), noopRuntimeFor)
	require.NoError(t, err)
	defer orch2.Close()

	resume, err := orch2.IsResume()
	require.NoError(t, err)
	require.True(t, resume)
}

// TestBootstrapSkipsPlannerOnResume is the direct test of spec.md §276's
// testable property: on resume, the planner must never run.
func TestBootstrapSkipsPlannerOnResume(t *testing.T) {
	projectDir := t.TempDir()
	orch, err := New(testConfig(projectDir), noopRuntimeFor)
	require.NoError(t, err)
	_, err = orch.Store.AddTask(kanban.TaskInput{Title: "seed task", Creator: "pm"})
	require.NoError(t, err)

	plannerRuntime := agentruntime.NewFakeRuntime()
	require.NoError(t, orch.Bootstrap(context.Background(), "pm", plannerRuntime))
	require.Equal(t, 0, plannerRuntime.CallCount(), "planner backend must not be invoked on resume")
	orch.Close()
}

// TestBootstrapInvokesPlannerOnFreshRun is the complementary case: a fresh
// project directory with no tasks yet must run the planner exactly once.
func TestBootstrapInvokesPlannerOnFreshRun(t *testing.T) {
	projectDir := t.TempDir()
	cfg := testConfig(projectDir)
	cfg.SpecText = `# spec\n\nBuild a thing.`
	orch, err := New(cfg, noopRuntimeFor)
	require.NoError(t, err)
	defer orch.Close()

	plannerRuntime := agentruntime.NewFakeRuntime(agentruntime.Script{
		Messages: []agentruntime.Message{
			{Kind: agentruntime.KindText, Content: `[{"title":"Do the thing","description":"d","acceptanceCriteria":["works"],"priority":"medium"}]`},
		},
	})
	require.NoError(t, orch.Bootstrap(context.Background(), "pm", plannerRuntime))
	require.Equal(t, 1, plannerRuntime.CallCount())

	tasks, err := orch.Store.GetAllTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "Do the thing", tasks[0].Title)
}
