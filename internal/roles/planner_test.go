package roles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

func TestPlannerMaterializesDependsOnAsIDs(t *testing.T) {
	dir := t.TempDir()
	store := kanban.New(filepath.Join(dir, "kanban.json"), nil)
	require.NoError(t, store.Init())

	script := agentruntime.TextScript(`[
		{"title":"Set up project scaffold","priority":"high"},
		{"title":"Implement feature","priority":"medium","dependsOn":[0]}
	]`)
	fake := agentruntime.NewFakeRuntime(script)

	p := &Planner{Runtime: fake, Store: store, AgentID: "planner-1"}
	tasks, err := p.Plan(context.Background(), "build a thing", dir)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	all, err := store.GetAllTasks()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Empty(t, all[0].DependsOn)
	require.Equal(t, []string{all[0].ID}, all[1].DependsOn)
}

func TestPlannerRejectsForwardDependency(t *testing.T) {
	dir := t.TempDir()
	store := kanban.New(filepath.Join(dir, "kanban.json"), nil)
	require.NoError(t, store.Init())

	script := agentruntime.TextScript(`[
		{"title":"A","dependsOn":[1]},
		{"title":"B"}
	]`)
	fake := agentruntime.NewFakeRuntime(script)
	p := &Planner{Runtime: fake, Store: store, AgentID: "planner-1"}

	_, err := p.Plan(context.Background(), "spec", dir)
	require.Error(t, err)
}
