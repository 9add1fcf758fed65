// Package failure implements the three-stage retry->reassign->block
// pipeline the scheduler invokes for each blocked task, per spec.md §4.9.
package failure

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

// Outcome is the pipeline's result for one task.
type Outcome string

const (
	OutcomeRetry      Outcome = "retry"
	OutcomeReassigned Outcome = "reassigned"
	OutcomeBlocked    Outcome = "blocked"
)

// unrecoverable matches the exact failure reasons that short-circuit to
// permanent block without retry or reassignment (spec.md §7).
var unrecoverable = regexp.MustCompile(`(?i)merge/cleanup failed|would be overwritten by merge|auto-approval merge failed`)

// Engineer is the minimal shape the handler needs to find a distinct
// backend/model for reassignment.
type Engineer struct {
	ID      string
	Backend string
	Model   string
}

// Handler runs the classify -> retry -> reassign -> block pipeline.
type Handler struct {
	Store      *kanban.Store
	Bus        *events.Bus
	MaxRetries int
	Engineers  []Engineer

	// Notify, if set, is called exactly once per task on the transition
	// into permanent block (never on repeated sweeps), giving callers a
	// hook for operator-facing alerts.
	Notify func(task kanban.Task)

	// Sleep is the retry-backoff delay function; overridable in tests.
	Sleep func(time.Duration)

	mu          sync.Mutex
	blockedOnce map[string]struct{}
}

func (h *Handler) sleep(d time.Duration) {
	if h.Sleep != nil {
		h.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Process runs the pipeline for one blocked task and returns the outcome.
func (h *Handler) Process(task kanban.Task) (Outcome, error) {
	reason := latestStatusChangeDetail(task)

	if unrecoverable.MatchString(reason) {
		return h.block(task, reason)
	}

	if task.RetryCount < h.MaxRetries {
		return h.retry(task)
	}

	if eng, ok := h.findAlternate(task.Assignee); ok {
		return h.reassign(task, eng)
	}

	return h.block(task, reason)
}

func (h *Handler) retry(task kanban.Task) (Outcome, error) {
	backoff := time.Duration(1<<uint(task.RetryCount+1)) * time.Second
	h.sleep(backoff)

	next := task.RetryCount + 1
	if _, err := h.Store.UpdateTask(task.ID, kanban.TaskPatch{RetryCount: &next}, "failure-handler"); err != nil {
		return "", err
	}
	if _, err := h.Store.MoveTask(task.ID, kanban.StatusBacklog, "failure-handler", fmt.Sprintf("retry %d", next)); err != nil {
		return "", err
	}
	h.emit(events.TypeTaskStatusChanged, task.ID, fmt.Sprintf("task %s retry %d scheduled", task.ID, next))
	return OutcomeRetry, nil
}

func (h *Handler) reassign(task kanban.Task, eng Engineer) (Outcome, error) {
	zero := 0
	if _, err := h.Store.UpdateTask(task.ID, kanban.TaskPatch{RetryCount: &zero}, "failure-handler"); err != nil {
		return "", err
	}
	if _, err := h.Store.AssignTask(task.ID, ""); err != nil {
		return "", err
	}
	if _, err := h.Store.MoveTask(task.ID, kanban.StatusBacklog, "failure-handler", fmt.Sprintf("reassigned, candidate %s", eng.ID)); err != nil {
		return "", err
	}
	h.emit(events.TypeTaskStatusChanged, task.ID, fmt.Sprintf("task %s reassigned away from %s", task.ID, task.Assignee))
	return OutcomeReassigned, nil
}

func (h *Handler) block(task kanban.Task, reason string) (Outcome, error) {
	h.mu.Lock()
	if h.blockedOnce == nil {
		h.blockedOnce = make(map[string]struct{})
	}
	_, already := h.blockedOnce[task.ID]
	if !already {
		h.blockedOnce[task.ID] = struct{}{}
	}
	h.mu.Unlock()

	if already {
		return OutcomeBlocked, nil
	}

	h.emit(events.TypeAgentError, task.ID, "permanently blocked")
	if h.Notify != nil {
		h.Notify(task)
	}
	return OutcomeBlocked, nil
}

// findAlternate returns an engineer whose backend/model tag differs from
// the original assignee's.
func (h *Handler) findAlternate(originalAssignee string) (Engineer, bool) {
	var original Engineer
	found := false
	for _, e := range h.Engineers {
		if e.ID == originalAssignee {
			original = e
			found = true
			break
		}
	}
	for _, e := range h.Engineers {
		if e.ID == originalAssignee {
			continue
		}
		if !found || e.Backend != original.Backend || e.Model != original.Model {
			return e, true
		}
	}
	return Engineer{}, false
}

func latestStatusChangeDetail(task kanban.Task) string {
	if task.BlockedReason != "" {
		return task.BlockedReason
	}
	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Action == kanban.ActionStatusChanged {
			return task.History[i].Detail
		}
	}
	return ""
}

func (h *Handler) emit(t events.Type, taskID, summary string) {
	if h.Bus == nil {
		return
	}
	h.Bus.Publish(events.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Data:      map[string]string{"taskId": taskID},
	})
}
