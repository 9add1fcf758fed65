package cmd

import (
	"github.com/spf13/cobra"
)

var (
	projectDir    string
	teamFile      string
	httpAddr      string
	pollInterval  string
	desktopNotify bool
	embeddedNATS  bool
	auditDBPath   string
	githubToken   string
	githubOwner   string
	githubRepo    string
)

var rootCmd = &cobra.Command{
	Use:   "arkaledge",
	Short: "Autonomous multi-agent engineering orchestrator",
	Long: `arkaledge decomposes a product specification into a kanban of tasks
and drives a team of LLM coding-agent backends through planning,
execution, and review until the board drains.

Examples:
  # Start a fresh run against a spec file
  arkaledge run --project ./myapp --team team.json --spec spec.md

  # Resume a previously started run (planner is skipped automatically)
  arkaledge run --project ./myapp --team team.json

  # Inspect the current board
  arkaledge status --project ./myapp`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "Project directory the engine operates on")
	rootCmd.PersistentFlags().StringVar(&teamFile, "team", "team.json", "Path to team configuration JSON")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http", ":4400", "HTTP observability surface address")
	rootCmd.PersistentFlags().StringVar(&pollInterval, "poll-interval", "2s", "Scheduler poll interval")
	rootCmd.PersistentFlags().BoolVar(&desktopNotify, "desktop-notify", false, "Emit a desktop toast when a task is permanently blocked (Windows only)")
	rootCmd.PersistentFlags().BoolVar(&embeddedNATS, "embedded-nats", false, "Mirror engine events onto an embedded NATS server")
	rootCmd.PersistentFlags().StringVar(&auditDBPath, "audit-db", "", "Path to a SQLite audit mirror database (disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&githubToken, "github-token", "", "GitHub token for PR annotation (disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&githubOwner, "github-owner", "", "GitHub repository owner for PR annotation")
	rootCmd.PersistentFlags().StringVar(&githubRepo, "github-repo", "", "GitHub repository name for PR annotation")
}
