package projectcontext

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	jsonFileName = "project-context.json"
	mdFileName   = "project-context.md"
)

// Load reads a previously persisted ProjectContext from
// <projectDir>/.arkaledge/project-context.json. Returns ok=false if absent.
func Load(projectDir string) (ctx ProjectContext, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(projectDir, ".arkaledge", jsonFileName))
	if os.IsNotExist(err) {
		return ProjectContext{}, false, nil
	}
	if err != nil {
		return ProjectContext{}, false, err
	}
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ProjectContext{}, false, fmt.Errorf("projectcontext: unmarshal: %w", err)
	}
	return ctx, true, nil
}

// Ensure loads any persisted context and compares its fingerprint against
// a freshly computed one; it rebuilds and persists only on mismatch, per
// spec.md §3's "Rebuilt only when fingerprint changes".
func Ensure(projectDir string) (ProjectContext, error) {
	fp, err := Fingerprint(projectDir)
	if err != nil {
		return ProjectContext{}, err
	}

	if existing, ok, err := Load(projectDir); err == nil && ok && existing.Fingerprint == fp {
		return existing, nil
	}

	ctx, err := Build(projectDir)
	if err != nil {
		return ProjectContext{}, err
	}
	if err := Save(projectDir, ctx); err != nil {
		return ProjectContext{}, err
	}
	return ctx, nil
}

// Save persists ctx as both project-context.json and project-context.md
// under <projectDir>/.arkaledge/.
func Save(projectDir string, ctx ProjectContext) error {
	dir := filepath.Join(projectDir, ".arkaledge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("projectcontext: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("projectcontext: marshal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, jsonFileName), data, 0o644); err != nil {
		return fmt.Errorf("projectcontext: write json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, mdFileName), []byte(renderMarkdown(ctx)), 0o644); err != nil {
		return fmt.Errorf("projectcontext: write md: %w", err)
	}
	return nil
}

func renderMarkdown(ctx ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Project Context\n\n")
	fmt.Fprintf(&b, "- Fingerprint: `%s`\n", ctx.Fingerprint)
	fmt.Fprintf(&b, "- Generated: %s\n", ctx.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "- Primary language: %s\n", ctx.PrimaryLanguage)
	fmt.Fprintf(&b, "- Package manager: %s\n", ctx.PackageManager)
	fmt.Fprintf(&b, "- Test command: `%s`\n", ctx.TestCommand)
	fmt.Fprintf(&b, "- Source files: %d, test files: %d\n\n", ctx.SourceFileCount, ctx.TestFileCount)

	if len(ctx.ImportantFiles) > 0 {
		b.WriteString("## Important files\n\n")
		for _, f := range ctx.ImportantFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if len(ctx.SampleFiles) > 0 {
		b.WriteString("## Sample files\n\n")
		for _, f := range ctx.SampleFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if ctx.AgentsExcerpt != "" {
		fmt.Fprintf(&b, "## AGENTS.md excerpt\n\n%s\n\n", ctx.AgentsExcerpt)
	}
	if ctx.CloudExcerpt != "" {
		fmt.Fprintf(&b, "## CLOUD.md excerpt\n\n%s\n\n", ctx.CloudExcerpt)
	}
	return b.String()
}

// Preamble builds the shared prompt preamble string every planner,
// executor, and reviewer invocation is prefixed with, per spec.md §3.
func Preamble(ctx ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: primary language %s", valueOr(ctx.PrimaryLanguage, "unknown"))
	if ctx.PackageManager != "" {
		fmt.Fprintf(&b, ", package manager %s", ctx.PackageManager)
	}
	if ctx.TestCommand != "" {
		fmt.Fprintf(&b, ", test command `%s`", ctx.TestCommand)
	}
	b.WriteString(".\n")
	if len(ctx.ImportantFiles) > 0 {
		fmt.Fprintf(&b, "Important files: %s\n", strings.Join(ctx.ImportantFiles, ", "))
	}
	if ctx.AgentsExcerpt != "" {
		fmt.Fprintf(&b, "\nAGENTS.md excerpt:\n%s\n", ctx.AgentsExcerpt)
	}
	if ctx.CloudExcerpt != "" {
		fmt.Fprintf(&b, "\nCLOUD.md excerpt:\n%s\n", ctx.CloudExcerpt)
	}
	return b.String()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
