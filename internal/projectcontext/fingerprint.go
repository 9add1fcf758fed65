// Package projectcontext builds the once-per-run ProjectContext: a stable
// fingerprint over the project directory's shape plus a digest (primary
// language, package manager, suggested test command, file inventory,
// AGENTS.md/CLOUD.md excerpts) shared as a prompt preamble across every
// planner/executor/reviewer invocation, per spec.md §3. No teacher
// equivalent exists; built fresh in the teacher's file-scanning idiom
// (worktree.Manager's os.Stat/filepath.Walk usage) using the stdlib for
// hashing and walking — no pack library offers directory fingerprinting.
package projectcontext

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// signalFiles are hashed by name, size, and mtime as part of the
// fingerprint; their presence or absence and their modification are what
// should trigger a context rebuild.
var signalFiles = []string{
	"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"go.mod", "go.sum", "Cargo.toml", "Cargo.lock",
	"tsconfig.json", "README.md", "AGENTS.md", "CLOUD.md",
}

const maxInventoryFiles = 5000

// Fingerprint computes a stable hash over root directory entry names, the
// signal files' (name, size, mtime), and a recursive file inventory of up
// to maxInventoryFiles relative paths. Inventory entries contribute their
// path only, so a content edit to a file outside signalFiles does not
// change the fingerprint.
func Fingerprint(projectDir string) (string, error) {
	h := sha256.New()

	rootEntries, err := os.ReadDir(projectDir)
	if err != nil {
		return "", fmt.Errorf("projectcontext: read root: %w", err)
	}
	names := make([]string, 0, len(rootEntries))
	for _, e := range rootEntries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(h, "root:%s\n", n)
	}

	for _, sf := range signalFiles {
		info, err := os.Stat(filepath.Join(projectDir, sf))
		if err != nil {
			fmt.Fprintf(h, "signal:%s:absent\n", sf)
			continue
		}
		fmt.Fprintf(h, "signal:%s:%d:%d\n", sf, info.Size(), info.ModTime().UnixNano())
	}

	count := 0
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if count >= maxInventoryFiles {
			return filepath.SkipAll
		}
		if d.IsDir() && isIgnoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			rel, relErr := filepath.Rel(projectDir, path)
			if relErr == nil {
				fmt.Fprintf(h, "file:%s\n", rel)
				count++
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("projectcontext: walk: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func isIgnoredDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", ".arkaledge", "dist", "build", ".venv", "__pycache__":
		return true
	default:
		return false
	}
}
