package roles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/kanban"
	"github.com/arkaledge/orchestrator/internal/watchdog"
	"github.com/arkaledge/orchestrator/internal/worktree"
)

// ReviewerSystemPrompt constrains the reviewer to emit only a verdict.
const ReviewerSystemPrompt = `You are the reviewing engineer. Review the diff for correctness, test coverage, error handling, security, and stack-appropriate quality.
Output ONLY JSON of shape {"verdict": "approved" | "rejected", "comments": string[]}.`

const (
	reviewIdleTimeout  = 120 * time.Second
	reviewTotalTimeout = 600 * time.Second
	maxDiffChars       = 20000
)

type verdict struct {
	Verdict  string   `json:"verdict"`
	Comments []string `json:"comments"`
}

// Reviewer decides approval for one task already in review and executes
// the follow-up merge/reject action.
type Reviewer struct {
	Runtime         agentruntime.Runtime
	Worktree        *worktree.Manager
	Store           *kanban.Store
	Bus             *events.Bus
	AgentID         string
	ContextPreamble string
	AutoMerge       bool
}

// Run implements the full review state machine from spec.md §4.5.
func (r *Reviewer) Run(ctx context.Context, task kanban.Task) (kanban.Task, error) {
	r.emit(events.TypeReviewStarted, task.ID, fmt.Sprintf("review started for task %s by %s", task.ID, r.AgentID))

	diff, err := r.Worktree.GetDiff(ctx, task.Branch)
	if err != nil {
		r.emit(events.TypeAgentError, task.ID, fmt.Sprintf("diff failed for task %s: %v", task.ID, err))
		return r.Store.MoveTask(task.ID, kanban.StatusBlocked, r.AgentID, fmt.Sprintf("failed to diff branch: %v", err))
	}
	if len(diff) > maxDiffChars {
		diff = diff[:maxDiffChars]
	}

	prompt := r.buildPrompt(task, diff)

	stream, err := r.Runtime.Run(ctx, prompt, agentruntime.Options{
		SystemPrompt: ReviewerSystemPrompt,
	})
	if err != nil {
		return r.Store.MoveTask(task.ID, kanban.StatusBlocked, r.AgentID, fmt.Sprintf("backend error: %v", err))
	}

	watched, errc := watchdog.Watch(ctx, stream, reviewIdleTimeout, reviewTotalTimeout)

	var text strings.Builder
	for msg := range watched {
		text.WriteString(msg.Content)
		text.WriteString("\n")
	}
	if err := <-errc; err != nil {
		r.Runtime.Abort()
		var to *watchdog.Timeout
		detail := err.Error()
		if ok := asTimeout(err, &to); ok {
			detail = fmt.Sprintf("Review watchdog timeout/failure: %s", to.Error())
		}
		_, _ = r.Store.MoveTask(task.ID, kanban.StatusBlocked, r.AgentID, detail)
		return r.reject(task, []string{detail})
	}

	var v verdict
	if err := ExtractJSON(text.String(), &v); err != nil {
		raw := strings.TrimSpace(text.String())
		return r.reject(task, []string{raw})
	}

	if strings.EqualFold(v.Verdict, "approved") {
		return r.approve(ctx, task, v.Comments)
	}
	return r.reject(task, v.Comments)
}

func (r *Reviewer) approve(ctx context.Context, task kanban.Task, comments []string) (kanban.Task, error) {
	r.emit(events.TypeReviewApproved, task.ID, fmt.Sprintf("task %s approved", task.ID))

	if !r.AutoMerge {
		return r.Store.MoveTask(task.ID, kanban.StatusDone, r.AgentID, "manual merge required")
	}

	if err := r.Worktree.MergeToMain(ctx, task.Branch); err != nil {
		return r.Store.MoveTask(task.ID, kanban.StatusBlocked, r.AgentID, fmt.Sprintf("Merge/cleanup failed: %v", err))
	}

	hasUIArtifact := false
	for _, a := range task.Artifacts {
		if a.Kind == kanban.ArtifactUI {
			hasUIArtifact = true
			break
		}
	}
	if !hasUIArtifact {
		if err := r.Worktree.RemoveWorktree(ctx, task.ID); err != nil {
			return r.Store.MoveTask(task.ID, kanban.StatusBlocked, r.AgentID, fmt.Sprintf("Merge/cleanup failed: %v", err))
		}
		emptyWorktree := ""
		if _, err := r.Store.UpdateTask(task.ID, kanban.TaskPatch{Worktree: &emptyWorktree}, r.AgentID); err != nil {
			return kanban.Task{}, err
		}
	}

	return r.Store.MoveTask(task.ID, kanban.StatusDone, r.AgentID, "")
}

func (r *Reviewer) reject(task kanban.Task, comments []string) (kanban.Task, error) {
	for _, c := range comments {
		if err := r.Store.AddReviewComment(task.ID, c, r.AgentID); err != nil {
			return kanban.Task{}, err
		}
	}
	updated, err := r.Store.MoveTask(task.ID, kanban.StatusInProgress, r.AgentID, "")
	if err != nil {
		return kanban.Task{}, err
	}
	r.emit(events.TypeReviewRejected, task.ID, fmt.Sprintf("task %s rejected", task.ID))
	return updated, nil
}

func (r *Reviewer) buildPrompt(task kanban.Task, diff string) string {
	var b strings.Builder
	b.WriteString(r.ContextPreamble)
	fmt.Fprintf(&b, "\n\n# Review task %s: %s\n\n%s\n\nAcceptance criteria:\n", task.ID, task.Title, task.Description)
	for _, ac := range task.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", ac)
	}
	fmt.Fprintf(&b, "\nBranch: %s\n\nDiff:\n```diff\n%s\n```\n", task.Branch, diff)
	if len(task.ReviewComments) > 0 {
		b.WriteString("\nPrevious review comments:\n")
		for _, c := range task.ReviewComments {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func asTimeout(err error, target **watchdog.Timeout) bool {
	to, ok := err.(*watchdog.Timeout)
	if ok {
		*target = to
	}
	return ok
}

func (r *Reviewer) emit(t events.Type, taskID, summary string) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(events.Event{
		Type:      t,
		AgentID:   r.AgentID,
		AgentRole: "reviewer",
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Data:      map[string]string{"taskId": taskID},
	})
}
