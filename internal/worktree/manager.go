// Package worktree owns every git interaction under the project directory,
// serialized through an internal token queue. Structure (repository
// readiness, sanitization, branch-name generation) is grounded on the
// teacher's git/worktree.go (madhatter5501/Factory); the mutual-exclusion
// discipline and merge strategy instead follow
// aristath-orchestrator/internal/worktree/manager.go's mergeMu pattern and
// --no-ff merge, which match spec.md §4.2 exactly where the teacher's own
// squash-merge does not.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Manager serializes git operations against one project repository.
type Manager struct {
	repoRoot string
	logger   *slog.Logger
	// queue is a capacity-1 buffered channel used as an arrival-order
	// mutual-exclusion token: every public operation pulls a token before
	// doing work and returns it when done, so concurrent callers queue in
	// FIFO order instead of merely racing for a mutex. Generalizes
	// aristath's mergeMu (merge-only) to cover every git operation per
	// spec.md §4.2's "all operations route through an internal serial
	// queue" requirement.
	queue chan struct{}
}

// New builds a Manager rooted at repoRoot (the project directory), logging
// through slog.Default(); use WithLogger to override.
func New(repoRoot string) *Manager {
	m := &Manager{repoRoot: repoRoot, logger: slog.Default(), queue: make(chan struct{}, 1)}
	m.queue <- struct{}{}
	return m
}

// WithLogger overrides the Manager's logger, returning the same Manager for
// chaining at construction time.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

func (m *Manager) acquire() { <-m.queue }
func (m *Manager) release() { m.queue <- struct{}{} }

var unsafeTaskIDChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeTaskID replaces any character outside [A-Za-z0-9_-] with '-'.
func SanitizeTaskID(id string) string {
	return unsafeTaskIDChar.ReplaceAllString(id, "-")
}

var titleCaser = cases.Title(language.English)

var nonSlugChar = regexp.MustCompile(`[^a-z0-9]+`)

// SlugifyTitle lowercases, collapses non-alphanumerics to single hyphens,
// and truncates to 40 characters, trimming a trailing hyphen. Used to build
// branch name "task/<id>-<slug>". Grounded on the teacher's
// GenerateBranchName, which uses golang.org/x/text's cases package for the
// companion title-casing step used elsewhere in prompt rendering.
func SlugifyTitle(title string) string {
	lower := strings.ToLower(titleCaser.String(title))
	slug := nonSlugChar.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return strings.TrimRight(slug, "-")
}

// BranchName builds "task/<sanitized-id>[-<slug>]" for a task id and title.
func BranchName(taskID, title string) string {
	branch := "task/" + SanitizeTaskID(taskID)
	if slug := SlugifyTitle(title); slug != "" {
		branch += "-" + slug
	}
	return branch
}

// WorktreePath returns the worktree directory for a task id under
// <projectDir>/.arkaledge/worktrees/<sanitized-id>.
func (m *Manager) WorktreePath(taskID string) string {
	return filepath.Join(m.repoRoot, ".arkaledge", "worktrees", SanitizeTaskID(taskID))
}

// LogPath returns where an executor attempt's forensic log is written,
// under <projectDir>/.arkaledge/logs/<sanitized-id>/attempt-<n>.log —
// deliberately outside the worktree tree itself so it is never picked up
// by enforceCommit's git add.
func (m *Manager) LogPath(taskID string, attempt int) string {
	return filepath.Join(m.repoRoot, ".arkaledge", "logs", SanitizeTaskID(taskID), fmt.Sprintf("attempt-%d.log", attempt))
}

const mainBranch = "main"
const botIdentityName = "Arkaledge Bot"
const botIdentityEmail = "arkaledge@local"

// EnsureReady makes the project directory a usable git repository: init if
// needed, create an empty initial commit if HEAD is unresolved (configuring
// a local bot identity if none exists), abort any pending merge/rebase, and
// force-checkout main.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.acquire()
	defer m.release()
	return m.ensureReadyLocked(ctx)
}

func (m *Manager) ensureReadyLocked(ctx context.Context) error {
	if !m.isGitRepo() {
		if _, err := m.run(ctx, "init"); err != nil {
			return fmt.Errorf("worktree: git init: %w", err)
		}
	}

	if _, err := m.run(ctx, "rev-parse", "--verify", "HEAD"); err != nil {
		if _, idErr := m.run(ctx, "config", "user.name"); idErr != nil {
			_, _ = m.run(ctx, "config", "user.name", botIdentityName)
			_, _ = m.run(ctx, "config", "user.email", botIdentityEmail)
		}
		if _, err := m.run(ctx, "checkout", "-B", mainBranch); err != nil {
			return fmt.Errorf("worktree: checkout -B main: %w", err)
		}
		if _, err := m.run(ctx, "commit", "--allow-empty", "-m", "chore: initial commit"); err != nil {
			return fmt.Errorf("worktree: initial commit: %w", err)
		}
	}

	// Defensively abort any pending merge/rebase before switching branches.
	_, _ = m.run(ctx, "merge", "--abort")
	_, _ = m.run(ctx, "rebase", "--abort")

	if _, err := m.run(ctx, "checkout", "-f", mainBranch); err != nil {
		return fmt.Errorf("worktree: checkout -f main: %w", err)
	}
	return nil
}

func (m *Manager) isGitRepo() bool {
	_, err := os.Stat(filepath.Join(m.repoRoot, ".git"))
	return err == nil
}

// CreateWorktree prepares the repository, then creates a worktree/branch
// pair for taskID at WorktreePath(taskID). If the branch already exists it
// is checked out into the new worktree; otherwise a new branch is created
// from main. Any pre-existing worktree at the target path is forcibly
// removed first.
func (m *Manager) CreateWorktree(ctx context.Context, taskID, branchName string) (string, error) {
	m.acquire()
	defer m.release()

	if err := m.ensureReadyLocked(ctx); err != nil {
		return "", err
	}

	path := m.WorktreePath(taskID)
	if _, err := os.Stat(path); err == nil {
		if _, rmErr := m.run(ctx, "worktree", "remove", "--force", path); rmErr != nil {
			m.logger.Warn("stale worktree remove failed, falling back to rm", "path", path, "error", rmErr)
			_ = os.RemoveAll(path)
		}
	}

	if m.branchExists(ctx, branchName) {
		if _, err := m.run(ctx, "worktree", "add", path, branchName); err != nil {
			m.logger.Error("worktree add (existing branch) failed", "branch", branchName, "error", err)
			return "", fmt.Errorf("worktree: add existing branch %s: %w", branchName, err)
		}
	} else {
		if _, err := m.run(ctx, "worktree", "add", "-b", branchName, path, mainBranch); err != nil {
			m.logger.Error("worktree add -b failed", "branch", branchName, "error", err)
			return "", fmt.Errorf("worktree: add -b %s: %w", branchName, err)
		}
	}
	m.logger.Info("worktree created", "taskId", taskID, "branch", branchName, "path", path)
	return path, nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// RemoveWorktree forcibly removes the worktree for taskID (falling back to
// filesystem removal) and prunes stale references.
func (m *Manager) RemoveWorktree(ctx context.Context, taskID string) error {
	m.acquire()
	defer m.release()

	path := m.WorktreePath(taskID)
	if _, err := m.run(ctx, "worktree", "remove", "--force", path); err != nil {
		m.logger.Warn("worktree remove failed, falling back to rm", "path", path, "error", err)
		_ = os.RemoveAll(path)
	}
	_, _ = m.run(ctx, "worktree", "prune")
	m.logger.Info("worktree cleaned up", "taskId", taskID)
	return nil
}

// MergeToMain checks out main, then runs "git merge --no-ff <branch> -m
// 'Merge <branch> into main'". On failure it aborts the merge to restore a
// clean index and propagates the error, per spec.md §4.2 exactly
// (not the teacher's squash-merge).
func (m *Manager) MergeToMain(ctx context.Context, branchName string) error {
	m.acquire()
	defer m.release()

	if _, err := m.run(ctx, "checkout", "-f", mainBranch); err != nil {
		return fmt.Errorf("worktree: checkout main before merge: %w", err)
	}
	msg := fmt.Sprintf("Merge %s into main", branchName)
	if _, err := m.run(ctx, "merge", "--no-ff", branchName, "-m", msg); err != nil {
		m.logger.Error("merge failed, aborting", "branch", branchName, "error", err)
		_, _ = m.run(ctx, "merge", "--abort")
		return fmt.Errorf("worktree: merge %s into main: %w", branchName, err)
	}
	m.logger.Info("merge completed", "branch", branchName)
	return nil
}

// GetDiff returns "git diff main...<branch>".
func (m *Manager) GetDiff(ctx context.Context, branchName string) (string, error) {
	m.acquire()
	defer m.release()

	out, err := m.run(ctx, "diff", mainBranch+"..."+branchName)
	if err != nil {
		return "", fmt.Errorf("worktree: diff main...%s: %w", branchName, err)
	}
	return out, nil
}

// CommitCount returns "git rev-list --count main..<branch>" run inside the
// worktree directory, used by the executor's commit-enforcement step.
func (m *Manager) CommitCount(ctx context.Context, worktreePath, branchName string) (int, error) {
	m.acquire()
	defer m.release()

	out, err := m.runIn(ctx, worktreePath, "rev-list", "--count", mainBranch+".."+branchName)
	if err != nil {
		return 0, fmt.Errorf("worktree: rev-list --count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("worktree: parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// HasUncommittedChanges runs "git status --porcelain" in worktreePath.
func (m *Manager) HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error) {
	m.acquire()
	defer m.release()

	out, err := m.runIn(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("worktree: status --porcelain: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages everything and commits in worktreePath with message. If
// the commit fails because no local git identity is configured, the
// identity "Arkaledge Engineer" <botIdentityEmail> is configured locally and
// the commit retried once, per spec.md §4.4's commit-enforcement recipe.
func (m *Manager) CommitAll(ctx context.Context, worktreePath, message string) error {
	m.acquire()
	defer m.release()

	if _, err := m.runIn(ctx, worktreePath, "add", "-A"); err != nil {
		return fmt.Errorf("worktree: git add -A: %w", err)
	}
	_, err := m.runIn(ctx, worktreePath, "commit", "-m", message)
	if err != nil && strings.Contains(err.Error(), "Please tell me who you are") {
		_, _ = m.runIn(ctx, worktreePath, "config", "user.name", "Arkaledge Engineer")
		_, _ = m.runIn(ctx, worktreePath, "config", "user.email", botIdentityEmail)
		_, err = m.runIn(ctx, worktreePath, "commit", "-m", message)
	}
	if err != nil {
		return fmt.Errorf("worktree: commit: %w", err)
	}
	return nil
}

// CommitEmpty creates an explicit empty commit, used when git status shows
// no uncommitted changes and the branch has no commits ahead of main.
func (m *Manager) CommitEmpty(ctx context.Context, worktreePath, message string) error {
	m.acquire()
	defer m.release()

	_, err := m.runIn(ctx, worktreePath, "commit", "--allow-empty", "-m", message)
	if err != nil && strings.Contains(err.Error(), "Please tell me who you are") {
		_, _ = m.runIn(ctx, worktreePath, "config", "user.name", "Arkaledge Engineer")
		_, _ = m.runIn(ctx, worktreePath, "config", "user.email", botIdentityEmail)
		_, err = m.runIn(ctx, worktreePath, "commit", "--allow-empty", "-m", message)
	}
	if err != nil {
		return fmt.Errorf("worktree: empty commit: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	return m.runIn(ctx, m.repoRoot, args...)
}

func (m *Manager) runIn(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
