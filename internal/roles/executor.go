package roles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/kanban"
	"github.com/arkaledge/orchestrator/internal/worktree"
)

// ExecutorSystemPrompt instructs the agent to implement, test, and run
// tests for one task inside its assigned worktree.
const ExecutorSystemPrompt = `You are an implementation engineer working inside an isolated git worktree on one task.
Inspect the project's stack and conventions, implement the task fully, write tests for it, and run those tests before finishing.
Report clearly if a command fails.`

// failurePatterns classifies diagnostics output against the fixed set of
// failure signatures in spec.md §7: non-zero command exit codes, rate/limit
// exhaustion, assertion errors, test-runner failure messages, npm errors.
var failurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)exit code [1-9]\d*`),
	regexp.MustCompile(`(?i)exit status [1-9]\d*`),
	regexp.MustCompile(`(?i)rate limit`),
	regexp.MustCompile(`(?i)\blimit\b.*\bexceed`),
	regexp.MustCompile(`(?i)assertionerror`),
	regexp.MustCompile(`(?i)\bFAIL\b`),
	regexp.MustCompile(`(?i)tests? failed`),
	regexp.MustCompile(`(?i)npm ERR!`),
	regexp.MustCompile(`(?i)panic:`),
	regexp.MustCompile(`(?i)traceback \(most recent call last\)`),
}

// ClassifyDiagnostics reports whether the diagnostics-only log matches any
// known failure signature.
func ClassifyDiagnostics(diagnostics string) (failed bool, reason string) {
	for _, pat := range failurePatterns {
		if m := pat.FindString(diagnostics); m != "" {
			return true, m
		}
	}
	return false, ""
}

// Executor implements one task end-to-end within its worktree.
type Executor struct {
	Runtime    agentruntime.Runtime
	Worktree   *worktree.Manager
	Store      *kanban.Store
	Bus        *events.Bus
	AgentID    string
	MaxRetries int
}

// bounded caps how much forensic text we retain per run.
const maxLogChars = 50_000

// Run drives the self-correction loop for task until success, retry
// exhaustion, or a precondition failure. Returns the final task.
func (e *Executor) Run(ctx context.Context, task kanban.Task) (kanban.Task, error) {
	if task.Worktree == "" || task.Branch == "" {
		return e.Store.MoveTask(task.ID, kanban.StatusBlocked, e.AgentID, "missing worktree metadata")
	}

	e.emit(events.TypeAgentStarted, task.ID, fmt.Sprintf("executor started on task %s", task.ID))

	prompt := e.taskPrompt(task)
	sessionID := ""
	retryCount := task.RetryCount

	for {
		var stream <-chan agentruntime.Message
		var err error
		if sessionID != "" {
			stream, err = e.Runtime.Resume(ctx, sessionID, prompt, agentruntime.Options{
				SystemPrompt: ExecutorSystemPrompt,
				WorkDir:      task.Worktree,
			})
		} else {
			stream, err = e.Runtime.Run(ctx, prompt, agentruntime.Options{
				SystemPrompt: ExecutorSystemPrompt,
				WorkDir:      task.Worktree,
			})
		}
		if err != nil {
			return e.Store.MoveTask(task.ID, kanban.StatusBlocked, e.AgentID, fmt.Sprintf("backend error: %v", err))
		}

		fullLog, diagnostics, nextSession := e.drain(stream)
		if nextSession != "" {
			sessionID = nextSession
		}
		e.recordLog(task, retryCount, fullLog)

		failed, reason := ClassifyDiagnostics(diagnostics)
		if !failed {
			return e.finalizeSuccess(ctx, task)
		}

		if retryCount >= e.MaxRetries {
			return e.Store.MoveTask(task.ID, kanban.StatusBlocked, e.AgentID,
				fmt.Sprintf("Failed after %d retries", retryCount))
		}

		retryCount++
		if _, err := e.Store.UpdateTask(task.ID, kanban.TaskPatch{RetryCount: &retryCount}, e.AgentID); err != nil {
			return kanban.Task{}, err
		}
		tail := tailChars(diagnostics, 4000)
		prompt = fmt.Sprintf("The previous attempt failed: %s\n\nDiagnostics tail:\n%s\n\nFix the issue and ensure tests pass.", reason, tail)
	}
}

// recordLog writes a drained attempt's full log to disk and attaches it to
// task as an artifact, so the bounded forensic log spec.md §4.4 calls for
// has a consumer beyond the diagnostics-only tail already in the retry
// prompt. Write failures here are swallowed, never fatal: a forensic
// by-product must not abort the task loop.
func (e *Executor) recordLog(task kanban.Task, attempt int, fullLog string) {
	if e.Worktree == nil || fullLog == "" {
		return
	}
	path := e.Worktree.LogPath(task.ID, attempt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, []byte(fullLog), 0o644); err != nil {
		return
	}
	_ = e.Store.AddArtifact(task.ID, kanban.Artifact{
		Kind:      kanban.ArtifactFile,
		Label:     fmt.Sprintf("executor log, attempt %d", attempt),
		Path:      path,
		Size:      int64(len(fullLog)),
		Timestamp: time.Now().UTC(),
	}, e.AgentID)
}

func (e *Executor) finalizeSuccess(ctx context.Context, task kanban.Task) (kanban.Task, error) {
	if err := e.enforceCommit(ctx, task); err != nil {
		return e.Store.MoveTask(task.ID, kanban.StatusBlocked, e.AgentID, fmt.Sprintf("Commit required before review: %v", err))
	}

	updated, err := e.Store.MoveTask(task.ID, kanban.StatusReview, e.AgentID, "")
	if err != nil {
		return kanban.Task{}, err
	}
	e.emit(events.TypeAgentCompleted, task.ID, fmt.Sprintf("task %s ready for review", task.ID))
	return updated, nil
}

// enforceCommit implements spec.md §4.4's exact recipe: count commits ahead
// of main; if zero, check for an empty working tree (empty commit) or
// uncommitted changes (add+commit); retry once with a local identity fix on
// failure; re-verify the branch ended up ahead of main.
func (e *Executor) enforceCommit(ctx context.Context, task kanban.Task) error {
	count, err := e.Worktree.CommitCount(ctx, task.Worktree, task.Branch)
	if err != nil {
		return err
	}
	if count == 0 {
		dirty, err := e.Worktree.HasUncommittedChanges(ctx, task.Worktree)
		if err != nil {
			return err
		}
		if dirty {
			if err := e.Worktree.CommitAll(ctx, task.Worktree, fmt.Sprintf("feat(%s): %s", task.ID, task.Title)); err != nil {
				return err
			}
		} else {
			if err := e.Worktree.CommitEmpty(ctx, task.Worktree, fmt.Sprintf("chore(%s): %s", task.ID, task.Title)); err != nil {
				return err
			}
		}
	}

	count, err = e.Worktree.CommitCount(ctx, task.Worktree, task.Branch)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("branch %s is still not ahead of main after commit enforcement", task.Branch)
	}
	return nil
}

func (e *Executor) taskPrompt(task kanban.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.ID, task.Title)
	b.WriteString(task.Description)
	b.WriteString("\n\nAcceptance criteria:\n")
	for _, ac := range task.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", ac)
	}
	fmt.Fprintf(&b, "\nWorktree: %s\nBranch: %s\n", task.Worktree, task.Branch)
	return b.String()
}

// drain consumes stream fully, returning the full text log, a
// diagnostics-only log (tool_result and error kinds), and any sessionId
// captured from message metadata. Both logs are bounded for forensic use.
func (e *Executor) drain(stream <-chan agentruntime.Message) (fullLog, diagnostics, sessionID string) {
	var full, diag strings.Builder
	for msg := range stream {
		full.WriteString(msg.Content)
		full.WriteString("\n")
		if msg.Kind == agentruntime.KindToolResult || msg.Kind == agentruntime.KindError {
			diag.WriteString(msg.Content)
			diag.WriteString("\n")
		}
		if sid, ok := msg.Metadata["sessionId"]; ok && sid != "" {
			sessionID = sid
		}
	}
	return truncate(full.String(), maxLogChars), truncate(diag.String(), maxLogChars), sessionID
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func tailChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (e *Executor) emit(t events.Type, taskID, summary string) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(events.Event{
		Type:      t,
		AgentID:   e.AgentID,
		AgentRole: "engineer",
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Data:      map[string]string{"taskId": taskID},
	})
}
