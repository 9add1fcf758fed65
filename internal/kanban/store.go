package kanban

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/arkaledge/orchestrator/internal/events"
)

// Store is the single source of truth for task state: every mutation is a
// read-modify-write cycle performed under the advisory file lock from
// lock.go, persisted atomically (write to a ".tmp" sibling, then rename),
// exactly as the teacher's kanban/state.go does it — minus the teacher's
// in-process-only sync.RWMutex, plus the cross-process file lock spec.md
// §4.1 requires.
type Store struct {
	path   string
	bus    *events.Bus
	logger *slog.Logger
}

// New builds a Store backed by the JSON file at path. bus may be nil if
// the caller does not want events published (tests, offline tooling).
// Logs through slog.Default(); use WithLogger to override.
func New(path string, bus *events.Bus) *Store {
	return &Store{path: path, bus: bus, logger: slog.Default()}
}

// WithLogger overrides the Store's logger, returning the same Store for
// chaining at construction time.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Init ensures the parent directory and state file exist, populating a
// fresh KanbanState with a newly generated project id on first creation.
func (s *Store) Init() error {
	lock, err := acquireLock(s.path, s.logger)
	if err != nil {
		return err
	}
	defer lock.release()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("kanban: stat state file: %w", err)
	}

	state := KanbanState{
		ProjectID:   uuid.NewString(),
		Tasks:       []Task{},
		LastUpdated: time.Now().UTC(),
	}
	return s.writeUnlocked(state)
}

// readUnlocked loads the current state without acquiring a lock; callers
// must already hold one, or accept snapshot semantics (see GetAllTasks).
func (s *Store) readUnlocked() (KanbanState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return KanbanState{ProjectID: uuid.NewString(), Tasks: []Task{}}, nil
	}
	if err != nil {
		return KanbanState{}, fmt.Errorf("kanban: read state: %w", err)
	}
	var state KanbanState
	if err := json.Unmarshal(data, &state); err != nil {
		return KanbanState{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return state, nil
}

func (s *Store) writeUnlocked(state KanbanState) error {
	state.LastUpdated = time.Now().UTC()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("kanban: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("kanban: marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("kanban: write tmp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("kanban: rename state: %w", err)
	}
	return nil
}

// withLock runs fn under the advisory file lock against the freshly read
// state, persisting fn's return value if it returns no error.
func (s *Store) withLock(fn func(KanbanState) (KanbanState, error)) error {
	lock, err := acquireLock(s.path, s.logger)
	if err != nil {
		return err
	}
	defer lock.release()

	state, err := s.readUnlocked()
	if err != nil {
		return err
	}
	next, err := fn(state)
	if err != nil {
		return err
	}
	return s.writeUnlocked(next)
}

// GetAllTasks returns an unlocked read of the persisted snapshot.
func (s *Store) GetAllTasks() ([]Task, error) {
	state, err := s.readUnlocked()
	if err != nil {
		return nil, err
	}
	return state.Tasks, nil
}

// GetTasksByStatus filters GetAllTasks.
func (s *Store) GetTasksByStatus(status Status) ([]Task, error) {
	all, err := s.GetAllTasks()
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTask returns a single task by id.
func (s *Store) GetTask(id string) (Task, error) {
	all, err := s.GetAllTasks()
	if err != nil {
		return Task{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, ErrNotFound
}

// TaskInput is the caller-supplied shape for AddTask.
type TaskInput struct {
	Title              string
	Description        string
	AcceptanceCriteria []string
	Priority           Priority
	Epic               string
	Creator            string
	DependsOn          []string
	CreationContext    string
}

// AddTask appends a task with a freshly generated id, retryCount=0, and an
// initial "created" history entry; emits task:created.
func (s *Store) AddTask(in TaskInput) (Task, error) {
	task := Task{
		ID:                 uuid.NewString()[:8],
		Title:              in.Title,
		Description:        in.Description,
		AcceptanceCriteria: in.AcceptanceCriteria,
		Status:             StatusBacklog,
		Priority:           in.Priority,
		Epic:               in.Epic,
		Creator:            in.Creator,
		DependsOn:          in.DependsOn,
		CreationContext:    in.CreationContext,
	}
	err := s.withLock(func(state KanbanState) (KanbanState, error) {
		task.History = append(task.History, TaskHistoryEvent{
			Timestamp: time.Now().UTC(),
			AgentID:   in.Creator,
			Action:    ActionCreated,
		})
		state.Tasks = append(state.Tasks, task)
		return state, nil
	})
	if err != nil {
		return Task{}, err
	}
	s.emit(events.Event{
		Type:    events.TypeTaskCreated,
		AgentID: in.Creator,
		Summary: fmt.Sprintf("task %s created: %s", task.ID, task.Title),
		Data:    map[string]string{"taskId": task.ID},
	})
	return task, nil
}

// TaskPatch carries optional field updates for UpdateTask; nil fields are
// left untouched.
type TaskPatch struct {
	Title              *string
	Description        *string
	AcceptanceCriteria *[]string
	Priority           *Priority
	Epic               *string
	Branch             *string
	Worktree           *string
	RetryCount         *int
	ContextFingerprint *string
	BlockedReason      *string
}

// UpdateTask merges patch fields into task id, appending an "updated"
// history entry naming the changed keys. Fails with ErrNotFound when id is
// unknown.
func (s *Store) UpdateTask(id string, patch TaskPatch, actorID string) (Task, error) {
	var updated Task
	var changed []string
	err := s.withLock(func(state KanbanState) (KanbanState, error) {
		idx := indexOfTask(state.Tasks, id)
		if idx < 0 {
			return state, ErrNotFound
		}
		t := &state.Tasks[idx]
		if patch.Title != nil {
			t.Title = *patch.Title
			changed = append(changed, "title")
		}
		if patch.Description != nil {
			t.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.AcceptanceCriteria != nil {
			t.AcceptanceCriteria = *patch.AcceptanceCriteria
			changed = append(changed, "acceptanceCriteria")
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
			changed = append(changed, "priority")
		}
		if patch.Epic != nil {
			t.Epic = *patch.Epic
			changed = append(changed, "epic")
		}
		if patch.Branch != nil {
			t.Branch = *patch.Branch
			changed = append(changed, "branch")
		}
		if patch.Worktree != nil {
			t.Worktree = *patch.Worktree
			changed = append(changed, "worktree")
		}
		if patch.RetryCount != nil {
			t.RetryCount = *patch.RetryCount
			changed = append(changed, "retryCount")
		}
		if patch.ContextFingerprint != nil {
			t.ContextFingerprint = *patch.ContextFingerprint
			changed = append(changed, "contextFingerprint")
		}
		if patch.BlockedReason != nil {
			t.BlockedReason = *patch.BlockedReason
			changed = append(changed, "blockedReason")
		}
		if len(changed) > 0 {
			t.History = append(t.History, TaskHistoryEvent{
				Timestamp: time.Now().UTC(),
				AgentID:   actorID,
				Action:    ActionUpdated,
				Detail:    fmt.Sprintf("changed: %v", changed),
			})
		}
		updated = *t
		return state, nil
	})
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

// AssignTask sets the task's assignee, appends history, emits task:assigned.
func (s *Store) AssignTask(id, agentID string) (Task, error) {
	var updated Task
	err := s.withLock(func(state KanbanState) (KanbanState, error) {
		idx := indexOfTask(state.Tasks, id)
		if idx < 0 {
			return state, ErrNotFound
		}
		t := &state.Tasks[idx]
		t.Assignee = agentID
		t.History = append(t.History, TaskHistoryEvent{
			Timestamp: time.Now().UTC(),
			AgentID:   agentID,
			Action:    ActionAssigned,
			Detail:    agentID,
		})
		updated = *t
		return state, nil
	})
	if err != nil {
		return Task{}, err
	}
	s.emit(events.Event{
		Type:    events.TypeTaskAssigned,
		AgentID: agentID,
		Summary: fmt.Sprintf("task %s assigned to %s", id, agentID),
		Data:    map[string]string{"taskId": id},
	})
	return updated, nil
}

// MoveTask transitions status, appends a "previous -> new" history entry,
// and emits task:status_changed.
func (s *Store) MoveTask(id string, status Status, actorID, detail string) (Task, error) {
	var updated Task
	var previous Status
	err := s.withLock(func(state KanbanState) (KanbanState, error) {
		idx := indexOfTask(state.Tasks, id)
		if idx < 0 {
			return state, ErrNotFound
		}
		t := &state.Tasks[idx]
		previous = t.Status
		t.Status = status
		histDetail := fmt.Sprintf("%s -> %s", previous, status)
		if detail != "" {
			histDetail = fmt.Sprintf("%s: %s", histDetail, detail)
		}
		t.History = append(t.History, TaskHistoryEvent{
			Timestamp: time.Now().UTC(),
			AgentID:   actorID,
			Action:    ActionStatusChanged,
			Detail:    histDetail,
		})
		if status == StatusBlocked {
			t.BlockedReason = detail
		}
		updated = *t
		return state, nil
	})
	if err != nil {
		return Task{}, err
	}
	if status == StatusBlocked {
		s.logger.Warn("task blocked", "id", id, "previous", previous, "reason", detail)
	} else {
		s.logger.Info("task status changed", "id", id, "previous", previous, "next", status, "actor", actorID)
	}
	s.emit(events.Event{
		Type:    events.TypeTaskStatusChanged,
		AgentID: actorID,
		Summary: fmt.Sprintf("task %s: %s -> %s", id, previous, status),
		Detail:  detail,
		Data:    map[string]string{"taskId": id, "previous": string(previous), "next": string(status)},
	})
	return updated, nil
}

// AddReviewComment appends text to the task's comments and history.
func (s *Store) AddReviewComment(id, text, actorID string) error {
	return s.withLock(func(state KanbanState) (KanbanState, error) {
		idx := indexOfTask(state.Tasks, id)
		if idx < 0 {
			return state, ErrNotFound
		}
		t := &state.Tasks[idx]
		t.ReviewComments = append(t.ReviewComments, text)
		t.History = append(t.History, TaskHistoryEvent{
			Timestamp: time.Now().UTC(),
			AgentID:   actorID,
			Action:    ActionReviewComment,
			Detail:    text,
		})
		return state, nil
	})
}

// AddArtifact appends art to task id's Artifacts, recording an
// artifact_added history entry. Used for by-products that belong to a task
// but aren't themselves board state, such as an executor's forensic log.
func (s *Store) AddArtifact(id string, art Artifact, actorID string) error {
	return s.withLock(func(state KanbanState) (KanbanState, error) {
		idx := indexOfTask(state.Tasks, id)
		if idx < 0 {
			return state, ErrNotFound
		}
		t := &state.Tasks[idx]
		t.Artifacts = append(t.Artifacts, art)
		t.History = append(t.History, TaskHistoryEvent{
			Timestamp: time.Now().UTC(),
			AgentID:   actorID,
			Action:    ActionArtifactAdded,
			Detail:    art.Label,
		})
		return state, nil
	})
}

// AreDependenciesMet reports whether every id in task.DependsOn currently
// resolves to a task with status done. Per the open-question resolution in
// DESIGN.md: blocked dependencies are "not done" and therefore not met;
// they are never reinterpreted as transiently-recoverable.
func (s *Store) AreDependenciesMet(task Task) (bool, error) {
	if len(task.DependsOn) == 0 {
		return true, nil
	}
	all, err := s.GetAllTasks()
	if err != nil {
		return false, err
	}
	byID := make(map[string]Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}
	for _, dep := range task.DependsOn {
		d, ok := byID[dep]
		if !ok || d.Status != StatusDone {
			return false, nil
		}
	}
	return true, nil
}

// SetDependsOn rewrites a task's dependency edges. Narrow and intentionally
// outside TaskPatch: ordinary callers never rewrite dependency edges after
// creation. Only the planner calls this, during two-pass materialization
// when translating parsed indices into stable ids.
func (s *Store) SetDependsOn(id string, deps []string) error {
	return s.withLock(func(state KanbanState) (KanbanState, error) {
		idx := indexOfTask(state.Tasks, id)
		if idx < 0 {
			return state, ErrNotFound
		}
		state.Tasks[idx].DependsOn = deps
		return state, nil
	})
}

func indexOfTask(tasks []Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) emit(ev events.Event) {
	if s.bus == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.bus.Publish(ev)
}
