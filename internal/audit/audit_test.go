package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/kanban"
)

func TestRecordTaskIsIdempotent(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer m.Close()

	task := kanban.Task{
		ID: "task-1",
		History: []kanban.TaskHistoryEvent{
			{Timestamp: time.Now().UTC(), AgentID: "pm", Action: kanban.ActionCreated},
		},
	}

	ctx := context.Background()
	require.NoError(t, m.RecordTask(ctx, task))
	require.NoError(t, m.RecordTask(ctx, task))

	rows, err := m.History(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "re-recording the same history entry must not duplicate rows")
}

func TestHistoryReturnsInsertionOrder(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer m.Close()

	base := time.Now().UTC()
	task := kanban.Task{
		ID: "task-2",
		History: []kanban.TaskHistoryEvent{
			{Timestamp: base, Action: kanban.ActionCreated},
			{Timestamp: base.Add(time.Second), Action: kanban.ActionAssigned, Detail: "eng-1"},
			{Timestamp: base.Add(2 * time.Second), Action: kanban.ActionStatusChanged, Detail: "backlog -> in_progress"},
		},
	}

	ctx := context.Background()
	require.NoError(t, m.RecordTask(ctx, task))

	rows, err := m.History(ctx, "task-2")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, string(kanban.ActionCreated), rows[0].Action)
	require.Equal(t, string(kanban.ActionStatusChanged), rows[2].Action)
}
