package projectcontext

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	maxImportantFiles = 25
	maxSampleFiles    = 40
	maxExcerptChars   = 2500
)

// ProjectContext is the shared digest every planner/executor/reviewer
// prompt is prefixed with, per spec.md §3.
type ProjectContext struct {
	Fingerprint     string    `json:"fingerprint"`
	GeneratedAt     time.Time `json:"generatedAt"`
	PrimaryLanguage string    `json:"primaryLanguage"`
	PackageManager  string    `json:"packageManager,omitempty"`
	TestCommand     string    `json:"testCommand,omitempty"`
	SourceFileCount int       `json:"sourceFileCount"`
	TestFileCount   int       `json:"testFileCount"`
	ImportantFiles  []string  `json:"importantFiles,omitempty"`
	SampleFiles     []string  `json:"sampleFiles,omitempty"`
	AgentsExcerpt   string    `json:"agentsExcerpt,omitempty"`
	CloudExcerpt    string    `json:"cloudExcerpt,omitempty"`
}

var languageExt = map[string]string{
	".go": "Go", ".ts": "TypeScript", ".tsx": "TypeScript", ".js": "JavaScript",
	".jsx": "JavaScript", ".py": "Python", ".rb": "Ruby", ".rs": "Rust",
	".java": "Java", ".kt": "Kotlin", ".c": "C", ".cpp": "C++", ".cs": "C#",
}

var importantNames = map[string]bool{
	"package.json": true, "go.mod": true, "Cargo.toml": true, "Makefile": true,
	"README.md": true, "AGENTS.md": true, "CLOUD.md": true, "tsconfig.json": true,
	"Dockerfile": true, "docker-compose.yml": true,
}

// Build walks projectDir and produces a fresh ProjectContext. Callers
// should compare the returned Fingerprint against any previously persisted
// one and skip rebuilding the preamble when unchanged (spec.md §3:
// "Rebuilt only when fingerprint changes").
func Build(projectDir string) (ProjectContext, error) {
	fp, err := Fingerprint(projectDir)
	if err != nil {
		return ProjectContext{}, err
	}

	ctx := ProjectContext{Fingerprint: fp, GeneratedAt: time.Now().UTC()}

	langCounts := map[string]int{}
	var important, samples []string

	_ = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if isIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		ext := filepath.Ext(base)

		if lang, ok := languageExt[ext]; ok {
			langCounts[lang]++
			isTest := strings.Contains(base, "_test") || strings.Contains(base, ".test.") || strings.Contains(base, ".spec.")
			if isTest {
				ctx.TestFileCount++
			} else {
				ctx.SourceFileCount++
			}
			if len(samples) < maxSampleFiles {
				if rel, err := filepath.Rel(projectDir, path); err == nil {
					samples = append(samples, rel)
				}
			}
		}

		if importantNames[base] && len(important) < maxImportantFiles {
			if rel, err := filepath.Rel(projectDir, path); err == nil {
				important = append(important, rel)
			}
		}
		return nil
	})

	ctx.PrimaryLanguage = topLanguage(langCounts)
	ctx.PackageManager = detectPackageManager(projectDir)
	ctx.TestCommand = suggestTestCommand(ctx.PrimaryLanguage, ctx.PackageManager)
	sort.Strings(important)
	sort.Strings(samples)
	ctx.ImportantFiles = important
	ctx.SampleFiles = samples
	ctx.AgentsExcerpt = readExcerpt(filepath.Join(projectDir, "AGENTS.md"))
	ctx.CloudExcerpt = readExcerpt(filepath.Join(projectDir, "CLOUD.md"))

	return ctx, nil
}

func topLanguage(counts map[string]int) string {
	best, bestN := "", 0
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	for _, l := range langs {
		if counts[l] > bestN {
			best, bestN = l, counts[l]
		}
	}
	return best
}

func detectPackageManager(projectDir string) string {
	checks := []struct {
		file string
		tag  string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"package-lock.json", "npm"},
		{"go.sum", "go"},
		{"Cargo.lock", "cargo"},
	}
	for _, c := range checks {
		if _, err := os.Stat(filepath.Join(projectDir, c.file)); err == nil {
			return c.tag
		}
	}
	return ""
}

func suggestTestCommand(language, packageManager string) string {
	switch packageManager {
	case "pnpm":
		return "pnpm test"
	case "yarn":
		return "yarn test"
	case "npm":
		return "npm test"
	case "go":
		return "go test ./..."
	case "cargo":
		return "cargo test"
	}
	switch language {
	case "Go":
		return "go test ./..."
	case "Python":
		return "pytest"
	case "Rust":
		return "cargo test"
	}
	return ""
}

// readExcerpt renders raw markdown down to a sanitized plain-text excerpt
// capped at maxExcerptChars, or "" if the file doesn't exist.
func readExcerpt(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return RenderExcerpt(string(data), maxExcerptChars)
}
