// Package kanban is the single source of truth for task state: a locked
// JSON file store with lifecycle helpers. Grounded on the teacher's
// kanban/types.go and kanban/state.go (madhatter5501/Factory), generalized
// from its Ticket/Board/PRD-stage model to the Task/KanbanState model this
// engine's spec defines, and given a real cross-process advisory file lock
// the teacher never had.
package kanban

import "time"

// Status is one column of the kanban board.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Priority orders backlog/assignment candidates.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Rank returns a sort key where lower values are higher priority, defaulting
// unrecognized priorities to the lowest rank.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// HistoryAction tags a TaskHistoryEvent.
type HistoryAction string

const (
	ActionCreated        HistoryAction = "created"
	ActionAssigned       HistoryAction = "assigned"
	ActionStatusChanged  HistoryAction = "status_changed"
	ActionReviewComment  HistoryAction = "review_comment"
	ActionUpdated        HistoryAction = "updated"
	ActionArtifactAdded  HistoryAction = "artifact_added"
)

// TaskHistoryEvent is one audit entry in a Task's history.
type TaskHistoryEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	AgentID   string        `json:"agentId"`
	Action    HistoryAction `json:"action"`
	Detail    string        `json:"detail,omitempty"`
}

// ArtifactKind distinguishes the kinds of Task by-products the HTTP surface
// can serve or point at.
type ArtifactKind string

const (
	ArtifactWorktree ArtifactKind = "worktree"
	ArtifactUI       ArtifactKind = "ui"
	ArtifactFile     ArtifactKind = "file"
)

// Artifact is a user-facing by-product of a task.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	Label       string       `json:"label"`
	Path        string       `json:"path"`
	URL         string       `json:"url,omitempty"`
	ContentType string       `json:"contentType,omitempty"`
	Size        int64        `json:"size,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Task is the unit of work the scheduler drives through the Status
// lifecycle (backlog, in_progress, review, done, blocked) via
// Store.MoveTask.
type Task struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	AcceptanceCriteria []string           `json:"acceptanceCriteria,omitempty"`
	Status             Status             `json:"status"`
	Priority           Priority           `json:"priority"`
	Epic               string             `json:"epic,omitempty"`
	Assignee           string             `json:"assignee,omitempty"`
	Branch             string             `json:"branch,omitempty"`
	Worktree           string             `json:"worktree,omitempty"`
	RetryCount         int                `json:"retryCount"`
	Creator            string             `json:"creator,omitempty"`
	ReviewComments     []string           `json:"reviewComments,omitempty"`
	DependsOn          []string           `json:"dependsOn,omitempty"`
	ContextFingerprint string             `json:"contextFingerprint,omitempty"`
	Artifacts          []Artifact         `json:"artifacts,omitempty"`
	History            []TaskHistoryEvent `json:"history"`

	// BlockedReason and CreationContext are human-facing diagnostics,
	// supplementing the spec's bare fields; grounded on the teacher's
	// ComputeBlockedReason / ComputeCreationContext helpers.
	BlockedReason   string `json:"blockedReason,omitempty"`
	CreationContext string `json:"creationContext,omitempty"`
}

// KanbanState is the persisted root document.
type KanbanState struct {
	ProjectID   string    `json:"projectId"`
	Tasks       []Task    `json:"tasks"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// SystemHealth is a read-only derived view over KanbanState, never
// persisted, adapted from the teacher's ComputeSystemHealth.
type SystemHealth struct {
	TotalTasks    int     `json:"totalTasks"`
	BlockedRatio  float64 `json:"blockedRatio"`
	ThrashingRate float64 `json:"thrashingRate"`
	ReworkRate    float64 `json:"reworkRate"`
}

// ComputeSystemHealth summarizes thrashing/rework/blocked signals from the
// task list, mirroring the teacher's heuristics.
func ComputeSystemHealth(tasks []Task) SystemHealth {
	h := SystemHealth{TotalTasks: len(tasks)}
	if len(tasks) == 0 {
		return h
	}
	var blocked, thrashing, reworked int
	for _, t := range tasks {
		if t.Status == StatusBlocked {
			blocked++
		}
		cycles := countCycles(t.History)
		if cycles > 2 {
			thrashing++
		}
		if cycles > 0 {
			reworked++
		}
	}
	n := float64(len(tasks))
	h.BlockedRatio = float64(blocked) / n
	h.ThrashingRate = float64(thrashing) / n
	h.ReworkRate = float64(reworked) / n
	return h
}

// countCycles counts how many times history shows a review->in_progress
// bounce (a rejection sending the task back for rework).
func countCycles(history []TaskHistoryEvent) int {
	count := 0
	for _, e := range history {
		if e.Action == ActionStatusChanged && e.Detail != "" {
			if containsArrow(e.Detail, string(StatusReview), string(StatusInProgress)) {
				count++
			}
		}
	}
	return count
}

func containsArrow(detail, from, to string) bool {
	want := from + " -> " + to
	return len(detail) >= len(want) && indexOf(detail, want) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
