// Package scheduler is the Scrum Master: a single cooperatively scheduled
// poll loop implementing spec.md §4.6 exactly — blocked sweep, health probe
// pass, termination test, assignment pass, review dispatch pass,
// observability pass, sleep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/config"
	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/failure"
	"github.com/arkaledge/orchestrator/internal/health"
	"github.com/arkaledge/orchestrator/internal/kanban"
	"github.com/arkaledge/orchestrator/internal/roles"
	"github.com/arkaledge/orchestrator/internal/worktree"
)

// Scheduler drives the engine's single control loop. Per spec.md §5, it is
// the sole mutator of its own scheduler-owned state (idle set, active-work
// map, review-claimed set); runtime handles never leak into the kanban.
type Scheduler struct {
	Store      *kanban.Store
	Worktree   *worktree.Manager
	Bus        *events.Bus
	Health     *health.Registry
	Failure    *failure.Handler
	Workflow   config.WorkflowConfig
	Engineers  []config.AgentConfig
	RuntimeFor func(engineerID string) agentruntime.Runtime

	ContextPreamble string
	PollInterval    time.Duration

	// MetricsObserve, if set, receives a fresh task snapshot at the end of
	// every tick, letting an observability surface (httpapi.Server.Observe)
	// stay current without the scheduler importing that package.
	MetricsObserve func([]kanban.Task)

	// Logger defaults to slog.Default() in init if left nil.
	Logger *slog.Logger

	mu           sync.Mutex
	busy         map[string]string // engineerID -> taskID currently worked
	reviewClaims map[string]string // taskID -> reviewerID

	wg sync.WaitGroup

	stopped bool
}

// TickResult summarizes one loop iteration for callers (and tests).
type TickResult struct {
	Done        bool
	AssignedN   int
	ReviewedN   int
	IdleCount   int
	ActiveCount int
}

func (s *Scheduler) init() {
	if s.busy == nil {
		s.busy = make(map[string]string)
	}
	if s.reviewClaims == nil {
		s.reviewClaims = make(map[string]string)
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
}

// Run executes the poll loop until the task set terminates or ctx is
// canceled. On exit, remaining in-flight Executor/Reviewer goroutines are
// drained before returning. Blocks first on Preflight so every engineer's
// liveness is known before the first assignment pass, per spec.md §4.10.
func (s *Scheduler) Run(ctx context.Context) error {
	s.init()
	s.Preflight(ctx)
	for {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if ctx.Err() != nil || stopped {
			break
		}
		result, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		if result.Done {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.PollInterval):
		}
	}
	s.wg.Wait()
	return nil
}

// Stop requests the loop exit at the next tick boundary: Run checks the flag
// before every tick. In-flight work is not canceled here; that is handled by
// the caller's ctx.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Tick runs exactly one loop iteration: blocked sweep, health probe pass,
// termination test, assignment pass, review dispatch pass, observability
// pass.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	s.init()

	if err := s.blockedSweep(); err != nil {
		return TickResult{}, err
	}

	s.healthProbePass(ctx)

	tasks, err := s.Store.GetAllTasks()
	if err != nil {
		return TickResult{}, err
	}

	if done := s.checkTermination(tasks); done {
		return TickResult{Done: true}, nil
	}

	assigned, err := s.assignmentPass(ctx, tasks)
	if err != nil {
		return TickResult{}, err
	}

	reviewed := 0
	if s.Workflow.ReviewRequired {
		reviewed, err = s.reviewDispatchPass(ctx, tasks)
		if err != nil {
			return TickResult{}, err
		}
	} else {
		if err := s.autoApproveReviews(ctx, tasks); err != nil {
			return TickResult{}, err
		}
	}

	if s.MetricsObserve != nil {
		s.MetricsObserve(tasks)
	}

	result := s.observabilityPass(assigned, reviewed)
	return result, nil
}

func (s *Scheduler) blockedSweep() error {
	blocked, err := s.Store.GetTasksByStatus(kanban.StatusBlocked)
	if err != nil {
		return err
	}
	for _, t := range blocked {
		if _, err := s.Failure.Process(t); err != nil {
			return err
		}
	}
	return nil
}

// checkTermination implements spec.md §4.6 step 2: exit if no task is
// non-done, or if the active set equals the stuck set and no work is
// currently in flight.
func (s *Scheduler) checkTermination(tasks []kanban.Task) bool {
	nonDone := 0
	for _, t := range tasks {
		if t.Status != kanban.StatusDone {
			nonDone++
		}
	}
	if nonDone == 0 {
		return true
	}

	stuck := stuckSet(tasks)
	activeIDs := make(map[string]bool)
	for _, t := range tasks {
		if t.Status != kanban.StatusDone {
			activeIDs[t.ID] = true
		}
	}

	if len(activeIDs) != len(stuck) {
		return false
	}
	for id := range activeIDs {
		if !stuck[id] {
			return false
		}
	}

	s.mu.Lock()
	inFlight := len(s.busy)
	s.mu.Unlock()
	return inFlight == 0
}

// stuckSet computes blocked ∪ backlog-with-blocked-dep (transitively): a
// task whose dependency chain terminates at a permanently blocked task can
// never become ready, so it and everything depending on it count as stuck.
func stuckSet(tasks []kanban.Task) map[string]bool {
	stuck := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == kanban.StatusBlocked {
			stuck[t.ID] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, t := range tasks {
			if stuck[t.ID] || t.Status == kanban.StatusDone {
				continue
			}
			for _, dep := range t.DependsOn {
				if stuck[dep] {
					stuck[t.ID] = true
					changed = true
					break
				}
			}
		}
	}
	return stuck
}

// assignmentPass implements spec.md §4.6 step 3.
func (s *Scheduler) assignmentPass(ctx context.Context, tasks []kanban.Task) (int, error) {
	candidates := s.assignmentCandidates(tasks)

	assigned := 0
	for _, task := range candidates {
		met, err := s.Store.AreDependenciesMet(task)
		if err != nil {
			return assigned, err
		}
		if !met {
			continue
		}

		preferred := task.Assignee
		engID, ok := s.pickEngineer(preferred, nil)
		if !ok {
			s.emitInfo(task.ID, "no eligible engineer available this tick")
			continue
		}

		if task.Branch == "" || task.Worktree == "" {
			branch := worktree.BranchName(task.ID, task.Title)
			path, err := s.Worktree.CreateWorktree(ctx, task.ID, branch)
			if err != nil {
				s.Logger.Error("worktree preparation failed", "taskId", task.ID, "error", err)
				if _, moveErr := s.Store.MoveTask(task.ID, kanban.StatusBlocked, "scheduler", fmt.Sprintf("Failed to prepare worktree: %v", err)); moveErr != nil {
					return assigned, moveErr
				}
				continue
			}
			branchCopy, pathCopy := branch, path
			task, err = s.Store.UpdateTask(task.ID, kanban.TaskPatch{Branch: &branchCopy, Worktree: &pathCopy}, "scheduler")
			if err != nil {
				return assigned, err
			}
		}

		if task.Assignee != engID {
			var err error
			task, err = s.Store.AssignTask(task.ID, engID)
			if err != nil {
				return assigned, err
			}
		}
		if task.Status == kanban.StatusBacklog {
			var err error
			task, err = s.Store.MoveTask(task.ID, kanban.StatusInProgress, "scheduler", "")
			if err != nil {
				return assigned, err
			}
		}

		s.Logger.Info("task assigned", "taskId", task.ID, "engineer", engID)
		s.claimBusy(engID, task.ID)
		s.spawnExecutor(ctx, engID, task)
		assigned++
	}
	return assigned, nil
}

// assignmentCandidates gathers backlog tasks plus in_progress tasks that
// are unassigned or whose assignee is idle and unclaimed, sorted by
// priority (high before medium before low).
func (s *Scheduler) assignmentCandidates(tasks []kanban.Task) []kanban.Task {
	var out []kanban.Task
	for _, t := range tasks {
		switch t.Status {
		case kanban.StatusBacklog:
			out = append(out, t)
		case kanban.StatusInProgress:
			if t.Assignee == "" || !s.isClaimed(t.Assignee) {
				out = append(out, t)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

// reviewDispatchPass implements spec.md §4.6 step 4 (review_required=true
// branch): dispatch a reviewer, never the task's own author, for every
// review task not already being reviewed.
func (s *Scheduler) reviewDispatchPass(ctx context.Context, tasks []kanban.Task) (int, error) {
	reviewed := 0
	for _, task := range tasks {
		if task.Status != kanban.StatusReview {
			continue
		}
		s.mu.Lock()
		_, claimed := s.reviewClaims[task.ID]
		s.mu.Unlock()
		if claimed {
			continue
		}

		exclude := map[string]bool{task.Assignee: true}
		revID, ok := s.pickEngineer("", exclude)
		if !ok {
			s.emitInfo(task.ID, "no eligible reviewer available this tick")
			continue
		}

		s.mu.Lock()
		s.reviewClaims[task.ID] = revID
		s.mu.Unlock()
		s.Logger.Info("review dispatched", "taskId", task.ID, "reviewer", revID)
		s.claimBusy(revID, task.ID)
		s.spawnReviewer(ctx, revID, task)
		reviewed++
	}
	return reviewed, nil
}

// autoApproveReviews implements spec.md §4.6 step 4's review_required=false
// branch: every review task is approved without a reviewer dispatch.
func (s *Scheduler) autoApproveReviews(ctx context.Context, tasks []kanban.Task) error {
	for _, task := range tasks {
		if task.Status != kanban.StatusReview {
			continue
		}
		if !s.Workflow.AutoMerge {
			if _, err := s.Store.MoveTask(task.ID, kanban.StatusDone, "scheduler", "manual merge required"); err != nil {
				return err
			}
			continue
		}
		if err := s.Worktree.MergeToMain(ctx, task.Branch); err != nil {
			if _, mErr := s.Store.MoveTask(task.ID, kanban.StatusBlocked, "scheduler", fmt.Sprintf("Auto-approval merge failed: %v", err)); mErr != nil {
				return mErr
			}
			continue
		}
		if _, err := s.Store.MoveTask(task.ID, kanban.StatusDone, "scheduler", ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) observabilityPass(assigned, reviewed int) TickResult {
	s.mu.Lock()
	idle := 0
	for _, e := range s.Engineers {
		if !s.isClaimedLocked(e.ID) {
			idle++
		}
	}
	active := len(s.busy)
	s.mu.Unlock()

	s.Logger.Info("tick summary", "assigned", assigned, "reviewed", reviewed, "idle", idle, "active", active)
	s.emitInfo("", fmt.Sprintf("tick summary: assigned=%d reviewed=%d idle=%d active=%d", assigned, reviewed, idle, active))
	return TickResult{AssignedN: assigned, ReviewedN: reviewed, IdleCount: idle, ActiveCount: active}
}

// pickEngineer implements the engineer selection rule: among idle
// engineers not currently claimed and not marked non-schedulable by the
// Health Registry, prefer id if eligible, otherwise return the first
// eligible one in roster order.
func (s *Scheduler) pickEngineer(preferred string, exclude map[string]bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := func(id string) bool {
		if id == "" {
			return false
		}
		if exclude != nil && exclude[id] {
			return false
		}
		if s.isClaimedLocked(id) {
			return false
		}
		return s.Health.IsSchedulable(id)
	}

	if preferred != "" && eligible(preferred) {
		return preferred, true
	}
	for _, e := range s.Engineers {
		if eligible(e.ID) {
			return e.ID, true
		}
	}
	return "", false
}

func (s *Scheduler) isClaimed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClaimedLocked(id)
}

func (s *Scheduler) isClaimedLocked(id string) bool {
	_, ok := s.busy[id]
	return ok
}

func (s *Scheduler) claimBusy(engID, taskID string) {
	s.mu.Lock()
	s.busy[engID] = taskID
	s.mu.Unlock()
}

func (s *Scheduler) releaseBusy(engID string) {
	s.mu.Lock()
	delete(s.busy, engID)
	s.mu.Unlock()
}

func (s *Scheduler) releaseReviewClaim(taskID string) {
	s.mu.Lock()
	delete(s.reviewClaims, taskID)
	s.mu.Unlock()
}

// Preflight runs a liveness probe against every engineer once, blocking
// until all resolve, per spec.md §4.10's "probe every engineer at
// startup" requirement. Called once at the top of Run, before the first
// assignment pass, so a fresh roster's StatusUnknown engineers are never
// raced against the scheduler handing them task work in the same tick.
func (s *Scheduler) Preflight(ctx context.Context) {
	s.init()
	var wg sync.WaitGroup
	for _, e := range s.Engineers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.probeOne(ctx, id)
		}(e.ID)
	}
	wg.Wait()
}

// healthProbePass implements spec.md §4.10's recovery half: dispatch a
// liveness probe to any engineer whose cooldown has elapsed, skipping
// engineers currently claimed by an executor/reviewer/another probe.
// StatusUnknown engineers are deliberately left to Preflight, not probed
// here, so this pass never competes with the same tick's assignment pass
// for an engineer that has simply never been probed yet.
func (s *Scheduler) healthProbePass(ctx context.Context) {
	for _, e := range s.Engineers {
		if s.isClaimed(e.ID) {
			continue
		}
		if s.Health.Snapshot(e.ID).Status == health.StatusUnknown {
			continue
		}
		if !s.Health.ShouldProbe(e.ID) {
			continue
		}
		s.Health.MarkPendingProbe(e.ID)
		s.claimBusy(e.ID, "")
		s.spawnHealthProbe(ctx, e.ID)
	}
}

// spawnHealthProbe runs one health probe in a goroutine tracked by s.wg.
func (s *Scheduler) spawnHealthProbe(ctx context.Context, engID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseBusy(engID)
		s.probeOne(ctx, engID)
	}()
}

// probeOne runs and resolves a single health probe for engID.
func (s *Scheduler) probeOne(ctx context.Context, engID string) {
	healthy, reason := roles.HealthProbe(ctx, s.RuntimeFor(engID))
	if healthy {
		s.Health.MarkHealthy(engID)
		return
	}
	s.Health.MarkProbeFailure(engID, reason)
	s.Logger.Warn("health probe failed", "engineer", engID, "reason", reason)
	s.emitInfo("", fmt.Sprintf("health probe failed for %s: %s", engID, reason))
}

// spawnExecutor runs an Executor in a goroutine tracked by s.wg; the tick
// loop never awaits it past the tick boundary, per spec.md §5.
func (s *Scheduler) spawnExecutor(ctx context.Context, engID string, task kanban.Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseBusy(engID)

		ex := &roles.Executor{
			Runtime:    s.RuntimeFor(engID),
			Worktree:   s.Worktree,
			Store:      s.Store,
			Bus:        s.Bus,
			AgentID:    engID,
			MaxRetries: s.Workflow.MaxRetries,
		}
		if _, err := ex.Run(ctx, task); err != nil {
			s.Health.MarkRuntimeCrash(engID, err.Error())
			s.emitInfo(task.ID, fmt.Sprintf("executor crashed: %v", err))
			return
		}
		s.Health.MarkHealthy(engID)
	}()
}

// spawnReviewer runs a Reviewer in a goroutine tracked by s.wg.
func (s *Scheduler) spawnReviewer(ctx context.Context, revID string, task kanban.Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseBusy(revID)
		defer s.releaseReviewClaim(task.ID)

		rv := &roles.Reviewer{
			Runtime:         s.RuntimeFor(revID),
			Worktree:        s.Worktree,
			Store:           s.Store,
			Bus:             s.Bus,
			AgentID:         revID,
			ContextPreamble: s.ContextPreamble,
			AutoMerge:       s.Workflow.AutoMerge,
		}
		if _, err := rv.Run(ctx, task); err != nil {
			s.Health.MarkRuntimeCrash(revID, err.Error())
			s.emitInfo(task.ID, fmt.Sprintf("reviewer crashed: %v", err))
			return
		}
		s.Health.MarkHealthy(revID)
	}()
}

func (s *Scheduler) emitInfo(taskID, summary string) {
	if s.Bus == nil {
		return
	}
	data := map[string]string{}
	if taskID != "" {
		data["taskId"] = taskID
	}
	s.Bus.Publish(events.Event{
		Type:      events.TypeAgentMessage,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Data:      data,
	})
}
