package projectcontext

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildDetectsGoProjectAndExcerpts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/x\n\ngo 1.24\n")
	writeFile(t, dir, "go.sum", "")
	writeFile(t, dir, "main.go", "package main\nfunc main() {}\n")
	writeFile(t, dir, "main_test.go", "package main\nfunc TestX(t *testing.T) {}\n")
	writeFile(t, dir, "AGENTS.md", "# Agents\n\nThis project uses **strict** review.\n")

	ctx, err := Build(dir)
	require.NoError(t, err)
	require.Equal(t, "Go", ctx.PrimaryLanguage)
	require.Equal(t, "go", ctx.PackageManager)
	require.Equal(t, "go test ./...", ctx.TestCommand)
	require.Equal(t, 1, ctx.SourceFileCount)
	require.Equal(t, 1, ctx.TestFileCount)
	require.Contains(t, ctx.AgentsExcerpt, "strict review")
	require.NotEmpty(t, ctx.Fingerprint)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "v1")
	fp1, err := Fingerprint(dir)
	require.NoError(t, err)

	writeFile(t, dir, "README.md", "v2 much longer content than before")
	fp2, err := Fingerprint(dir)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestEnsureRebuildsOnlyWhenFingerprintChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "v1")

	first, err := Ensure(dir)
	require.NoError(t, err)

	loaded, ok, err := Load(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.Fingerprint, loaded.Fingerprint)

	second, err := Ensure(dir)
	require.NoError(t, err)
	require.Equal(t, first.GeneratedAt, second.GeneratedAt, "unchanged fingerprint must not trigger a rebuild")

	writeFile(t, dir, "README.md", "v1 but now materially different")
	third, err := Ensure(dir)
	require.NoError(t, err)
	require.NotEqual(t, first.GeneratedAt, third.GeneratedAt)
}

func TestRenderExcerptCapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 5000; i++ {
		long += "a"
	}
	out := RenderExcerpt("# Title\n\n"+long, 2500)
	require.LessOrEqual(t, len(out), 2500)
}
