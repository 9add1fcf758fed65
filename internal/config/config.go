// Package config defines the invocation-surface types the engine is built
// with. Parsing these from a file or CLI flags is explicitly out of scope
// (spec.md §1); only the types themselves are ambient surface every
// orchestrator needs, modeled on the teacher's factory.Config /
// DefaultConfig() struct-and-defaults idiom (orchestrator.go).
package config

import "time"

// AgentRole is one of the four roles a team member can hold.
type AgentRole string

const (
	RoleProductManager AgentRole = "product-manager"
	RoleScrumMaster    AgentRole = "scrum-master"
	RoleEngineer       AgentRole = "engineer"
	RoleReviewer       AgentRole = "reviewer"
)

// AgentConfig describes one member of the team.
type AgentConfig struct {
	ID      string
	Role    AgentRole
	Backend string // SDK tag, e.g. "claude", "codex", "goose"
	Model   string
	Tools   []string
}

// WorkflowConfig governs scheduler behavior.
type WorkflowConfig struct {
	Columns        []string
	MaxRetries     int
	ReviewRequired bool
	AutoMerge      bool
}

// DefaultWorkflowConfig mirrors spec.md §6's stated defaults.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Columns:        []string{"backlog", "in_progress", "review", "done", "blocked"},
		MaxRetries:     3,
		ReviewRequired: true,
		AutoMerge:      true,
	}
}

// TeamConfig enumerates agents and the workflow they operate under.
type TeamConfig struct {
	Agents   []AgentConfig
	Workflow WorkflowConfig
}

// EngineConfig is the full invocation surface: team configuration, project
// directory, and spec text, plus ambient engine knobs not named by the
// spec but needed to construct the process (ports, poll interval).
type EngineConfig struct {
	Team          TeamConfig
	ProjectDir    string
	SpecText      string
	PollInterval  time.Duration
	HTTPAddr      string
	DesktopNotify bool
	EmbeddedNATS  bool

	// AuditDBPath, if set, mirrors task history into a SQLite side-database
	// at this path. Empty disables the mirror.
	AuditDBPath string

	// GitHubToken/Owner/Repo, if all set, annotate matching pull requests
	// when a task completes. Empty token disables the integration.
	GitHubToken string
	GitHubOwner string
	GitHubRepo  string
}

// DefaultEngineConfig returns sane defaults: 2s poll interval per spec.md
// §4.6, HTTP surface on :4400 per spec.md §4.11.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Team:         TeamConfig{Workflow: DefaultWorkflowConfig()},
		PollInterval: 2 * time.Second,
		HTTPAddr:     ":4400",
	}
}
