package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/config"

	arkaledge "github.com/arkaledge/orchestrator"
)

var specFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start (or resume) the engine against a project directory",
	RunE:  runEngine,
}

func init() {
	runCmd.Flags().StringVar(&specFile, "spec", "", "Path to the product specification (required for a fresh run)")
	rootCmd.AddCommand(runCmd)
}

// teamFileDoc is the on-disk shape of --team, kept separate from
// config.TeamConfig since that package intentionally carries no file
// parsing of its own.
type teamFileDoc struct {
	Agents   []config.AgentConfig   `json:"agents"`
	Workflow *config.WorkflowConfig `json:"workflow,omitempty"`
}

func loadTeam(path string) (config.TeamConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return config.TeamConfig{}, fmt.Errorf("read team file: %w", err)
	}
	var doc teamFileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return config.TeamConfig{}, fmt.Errorf("parse team file: %w", err)
	}
	workflow := config.DefaultWorkflowConfig()
	if doc.Workflow != nil {
		workflow = *doc.Workflow
	}
	return config.TeamConfig{Agents: doc.Agents, Workflow: workflow}, nil
}

func runEngine(c *cobra.Command, args []string) error {
	team, err := loadTeam(teamFile)
	if err != nil {
		return err
	}

	interval, err := time.ParseDuration(pollInterval)
	if err != nil {
		return fmt.Errorf("invalid --poll-interval: %w", err)
	}

	var specText string
	if specFile != "" {
		raw, err := os.ReadFile(specFile)
		if err != nil {
			return fmt.Errorf("read spec: %w", err)
		}
		specText = string(raw)
	}

	cfg := config.EngineConfig{
		Team:          team,
		ProjectDir:    projectDir,
		SpecText:      specText,
		PollInterval:  interval,
		HTTPAddr:      httpAddr,
		DesktopNotify: desktopNotify,
		EmbeddedNATS:  embeddedNATS,
		AuditDBPath:   auditDBPath,
		GitHubToken:   githubToken,
		GitHubOwner:   githubOwner,
		GitHubRepo:    githubRepo,
	}

	runtimes := map[string]agentruntime.Runtime{}
	var plannerID string
	var plannerRuntime agentruntime.Runtime
	for _, a := range team.Agents {
		rt, err := agentruntime.NewSubprocessRuntime(a.Backend, a.Model)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
		runtimes[a.ID] = rt
		if a.Role == config.RoleProductManager && plannerRuntime == nil {
			plannerID = a.ID
			plannerRuntime = rt
		}
	}

	orch, err := arkaledge.New(cfg, func(agentID string) agentruntime.Runtime {
		return runtimes[agentID]
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	if plannerRuntime != nil {
		if err := orch.Bootstrap(c.Context(), plannerID, plannerRuntime); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return orch.Run(ctx)
}
