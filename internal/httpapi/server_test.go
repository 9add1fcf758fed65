package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

func newTestServer(t *testing.T) (*Server, *kanban.Store, string) {
	t.Helper()
	root := t.TempDir()
	store := kanban.New(filepath.Join(root, ".arkaledge", "kanban.json"), events.New())
	require.NoError(t, store.Init())
	bus := events.New()
	s := New("127.0.0.1:0", store, bus, root, nil)
	return s, store, root
}

func TestHandleTasksReturnsJSON(t *testing.T) {
	s, store, _ := newTestServer(t)
	_, err := store.AddTask(kanban.TaskInput{Title: "t1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	s.handleTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []kanban.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	require.Equal(t, "t1", tasks[0].Title)
}

func TestHandleHealthReportsSystemHealth(t *testing.T) {
	s, store, _ := newTestServer(t)
	task, err := store.AddTask(kanban.TaskInput{Title: "t1"})
	require.NoError(t, err)
	_, err = store.MoveTask(task.ID, kanban.StatusBlocked, "test", "stuck")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health kanban.SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, 1.0, health.BlockedRatio)
}

func TestWorktreeServesFileWithinRoot(t *testing.T) {
	s, _, root := newTestServer(t)
	wtDir := filepath.Join(root, ".arkaledge", "worktrees", "task-1")
	require.NoError(t, os.MkdirAll(wtDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wtDir, "out.txt"), []byte("hello"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/task-1/worktree/out.txt", nil)
	req.SetPathValue("taskId", "task-1")
	req.SetPathValue("path", "out.txt")
	rec := httptest.NewRecorder()
	s.handleWorktree(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestWorktreeRejectsPathTraversal(t *testing.T) {
	s, _, root := newTestServer(t)
	wtDir := filepath.Join(root, ".arkaledge", "worktrees", "task-1")
	require.NoError(t, os.MkdirAll(wtDir, 0o755))
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("do not serve"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/task-1/worktree/../../secret.txt", nil)
	req.SetPathValue("taskId", "task-1")
	req.SetPathValue("path", "../../secret.txt")
	rec := httptest.NewRecorder()
	s.handleWorktree(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "do not serve")
}

func TestWorktreeServesIndexHTMLForDirectory(t *testing.T) {
	s, _, root := newTestServer(t)
	wtDir := filepath.Join(root, ".arkaledge", "worktrees", "task-1")
	require.NoError(t, os.MkdirAll(wtDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wtDir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/task-1/worktree/", nil)
	req.SetPathValue("taskId", "task-1")
	req.SetPathValue("path", "")
	rec := httptest.NewRecorder()
	s.handleWorktree(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<h1>hi</h1>", rec.Body.String())
}

func TestWorktreeListsDirectoryAsEscapedHTMLWithoutIndex(t *testing.T) {
	s, _, root := newTestServer(t)
	wtDir := filepath.Join(root, ".arkaledge", "worktrees", "task-1")
	require.NoError(t, os.MkdirAll(wtDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wtDir, "<evil>.txt"), []byte("x"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/task-1/worktree/", nil)
	req.SetPathValue("taskId", "task-1")
	req.SetPathValue("path", "")
	rec := httptest.NewRecorder()
	s.handleWorktree(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "&lt;evil&gt;.txt")
	require.NotContains(t, rec.Body.String(), "<evil>.txt")
}

func TestWorktreeRejectsNulByte(t *testing.T) {
	s, _, root := newTestServer(t)
	wtDir := filepath.Join(root, ".arkaledge", "worktrees", "task-1")
	require.NoError(t, os.MkdirAll(wtDir, 0o755))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/task-1/worktree/x", nil)
	req.SetPathValue("taskId", "task-1")
	req.SetPathValue("path", "a\x00b")
	rec := httptest.NewRecorder()
	s.handleWorktree(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEventsStreamsPublishedEvent(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleEvents(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Bus.Publish(events.Event{Type: events.TypeTaskCreated, Summary: "hello sse"})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	found := false
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "hello sse") {
			found = true
		}
	}
	require.True(t, found, "SSE stream should contain the published event")
}
