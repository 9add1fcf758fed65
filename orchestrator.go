// Package arkaledge wires together the kanban store, worktree manager,
// event bus, health registry, failure pipeline, role implementations, and
// HTTP surface into one running engine. Grounded on the teacher's root
// orchestrator.go (madhatter5501/Factory), which plays the identical
// wiring role for its own Ticket/PRD pipeline; this generalizes that
// wiring to spec.md's Task/KanbanState model and §4.6's scheduler contract.
package arkaledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/audit"
	"github.com/arkaledge/orchestrator/internal/config"
	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/failure"
	"github.com/arkaledge/orchestrator/internal/githubsync"
	"github.com/arkaledge/orchestrator/internal/health"
	"github.com/arkaledge/orchestrator/internal/httpapi"
	"github.com/arkaledge/orchestrator/internal/kanban"
	"github.com/arkaledge/orchestrator/internal/projectcontext"
	"github.com/arkaledge/orchestrator/internal/roles"
	"github.com/arkaledge/orchestrator/internal/scheduler"
	"github.com/arkaledge/orchestrator/internal/worktree"
)

// Orchestrator is one running engine instance bound to a project directory.
type Orchestrator struct {
	cfg config.EngineConfig

	Store     *kanban.Store
	Worktree  *worktree.Manager
	Bus       *events.Bus
	Health    *health.Registry
	Failure   *failure.Handler
	HTTP      *httpapi.Server
	Scheduler *scheduler.Scheduler
	Context   projectcontext.ProjectContext

	// Audit and GitHub are both optional: nil when not configured, and
	// every call against a nil *Sync is a safe no-op.
	Audit  *audit.Mirror
	GitHub *githubsync.Sync

	broker *events.EmbeddedBroker
	logger *slog.Logger
}

// RuntimeFactory resolves an AgentRuntime for an agent id, supplied by the
// caller so cmd/arkaledge can choose SubprocessRuntime in production and
// tests can inject agentruntime.FakeRuntime.
type RuntimeFactory func(agentID string) agentruntime.Runtime

// New constructs an Orchestrator from cfg, initializing persisted state
// under <ProjectDir>/.arkaledge/ as needed.
func New(cfg config.EngineConfig, runtimeFor RuntimeFactory) (*Orchestrator, error) {
	logger := slog.Default()

	bus := events.New()
	var broker *events.EmbeddedBroker
	if cfg.EmbeddedNATS {
		b, err := events.NewEmbeddedBroker(bus)
		if err != nil {
			return nil, fmt.Errorf("arkaledge: embedded broker: %w", err)
		}
		broker = b
	}

	kanbanPath := filepath.Join(cfg.ProjectDir, ".arkaledge", "kanban.json")
	store := kanban.New(kanbanPath, bus).WithLogger(logger)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("arkaledge: kanban init: %w", err)
	}

	wt := worktree.New(cfg.ProjectDir).WithLogger(logger)
	if err := wt.EnsureReady(context.Background()); err != nil {
		return nil, fmt.Errorf("arkaledge: worktree init: %w", err)
	}

	pctx, err := projectcontext.Ensure(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("arkaledge: project context: %w", err)
	}

	registry := health.New()

	engineers := make([]failure.Engineer, 0, len(cfg.Team.Agents))
	for _, a := range cfg.Team.Agents {
		engineers = append(engineers, failure.Engineer{ID: a.ID, Backend: a.Backend, Model: a.Model})
	}
	failureHandler := &failure.Handler{
		Store:      store,
		Bus:        bus,
		MaxRetries: cfg.Team.Workflow.MaxRetries,
		Engineers:  engineers,
	}
	if cfg.DesktopNotify {
		notifier := failure.DesktopNotifier{AppID: "Arkaledge"}
		failureHandler.Notify = notifier.Notify
	}

	httpServer := httpapi.New(cfg.HTTPAddr, store, bus, cfg.ProjectDir, logger)

	sched := &scheduler.Scheduler{
		Store:           store,
		Worktree:        wt,
		Bus:             bus,
		Health:          registry,
		Failure:         failureHandler,
		Workflow:        cfg.Team.Workflow,
		Engineers:       cfg.Team.Agents,
		RuntimeFor:      runtimeFor,
		ContextPreamble: projectcontext.Preamble(pctx),
		PollInterval:    cfg.PollInterval,
		MetricsObserve:  httpServer.Observe,
		Logger:          logger,
	}

	var auditMirror *audit.Mirror
	if cfg.AuditDBPath != "" {
		m, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("arkaledge: audit mirror: %w", err)
		}
		auditMirror = m
	}

	ghSync := githubsync.New(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo)

	eventCh := bus.SubscribeAll(64)
	go mirrorEvents(store, auditMirror, ghSync, eventCh, httpServer.IncEvents)

	return &Orchestrator{
		cfg:       cfg,
		Store:     store,
		Worktree:  wt,
		Bus:       bus,
		Health:    registry,
		Failure:   failureHandler,
		HTTP:      httpServer,
		Scheduler: sched,
		Context:   pctx,
		Audit:     auditMirror,
		GitHub:    ghSync,
		broker:    broker,
		logger:    logger,
	}, nil
}

// mirrorEvents drains the event bus for the lifetime of the engine,
// incrementing the /metrics event counter, mirroring task history into the
// optional audit database, and annotating matching GitHub pull requests
// when a task reaches done. Runs until ch is closed (Bus.Close, on
// Orchestrator.Close).
func mirrorEvents(store *kanban.Store, mirror *audit.Mirror, gh *githubsync.Sync, ch <-chan events.Event, incEvents func()) {
	ctx := context.Background()
	for ev := range ch {
		incEvents()

		taskID := ev.Data["taskId"]
		if taskID == "" {
			continue
		}
		task, err := store.GetTask(taskID)
		if err != nil {
			continue
		}
		if mirror != nil {
			_ = mirror.RecordTask(ctx, task)
		}
		if gh != nil && ev.Type == events.TypeTaskStatusChanged && ev.Data["next"] == string(kanban.StatusDone) {
			branch := worktree.BranchName(task.ID, task.Title)
			_ = gh.AnnotateTaskDone(ctx, branch, task.Title+" completed")
		}
	}
}

// IsResume reports whether the kanban state already has at least one task,
// per spec.md §6: a resume run skips the planner and goes straight to
// scheduling; a fresh run requires an empty state or empty directory.
func (o *Orchestrator) IsResume() (bool, error) {
	tasks, err := o.Store.GetAllTasks()
	if err != nil {
		return false, err
	}
	return len(tasks) > 0, nil
}

// Bootstrap runs the planner once against cfg.SpecText if this is a fresh
// (non-resume) run. plannerRuntime is the backend the planner agent uses.
func (o *Orchestrator) Bootstrap(ctx context.Context, plannerAgentID string, plannerRuntime agentruntime.Runtime) error {
	resume, err := o.IsResume()
	if err != nil {
		return err
	}
	if resume {
		o.logger.Info("resuming existing kanban state, skipping planner")
		return nil
	}

	if _, err := os.Stat(o.cfg.ProjectDir); err != nil {
		return fmt.Errorf("arkaledge: project directory: %w", err)
	}

	planner := &roles.Planner{
		Runtime:         plannerRuntime,
		Store:           o.Store,
		AgentID:         plannerAgentID,
		ContextPreamble: projectcontext.Preamble(o.Context),
	}
	if _, err := planner.Plan(ctx, o.cfg.SpecText, o.cfg.ProjectDir); err != nil {
		return fmt.Errorf("arkaledge: planning: %w", err)
	}
	return nil
}

// Run starts the HTTP surface and the scheduler loop together, blocking
// until ctx is canceled or the scheduler determines the task set is
// complete. Unlike the scheduler's own tick loop (which never awaits
// in-flight work past a tick boundary, see internal/scheduler's design
// notes), joining these two long-lived subsystems at shutdown is exactly
// the barrier errgroup is for: wait for both, keep the first error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error { return o.HTTP.Start(gctx) })

	g.Go(func() error {
		defer cancel() // stop the HTTP server once the task set drains
		o.Bus.Publish(events.Event{Type: events.TypeProjectStarted, Summary: "engine started"})
		err := o.Scheduler.Run(gctx)
		o.Bus.Publish(events.Event{Type: events.TypeProjectCompleted, Summary: "engine finished"})
		return err
	})

	return g.Wait()
}

// Close tears down the embedded broker and bus, if any.
func (o *Orchestrator) Close() {
	if o.broker != nil {
		o.broker.Close()
	}
	if o.Audit != nil {
		_ = o.Audit.Close()
	}
	o.Bus.Close()
}
