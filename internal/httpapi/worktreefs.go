package httpapi

import (
	"fmt"
	"html"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arkaledge/orchestrator/internal/worktree"
)

// handleWorktree safely serves a file or directory listing from a task's
// worktree. The teacher has no equivalent (its dashboard only links to
// artifacts recorded in sqlite); this is new surface required by spec.md
// §4.11, guarding against path traversal, NUL bytes, and symlink escape the
// way a static file server must.
func (s *Server) handleWorktree(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if taskID == "" {
		http.Error(w, "missing taskId", http.StatusBadRequest)
		return
	}
	rel := r.PathValue("path")

	root := filepath.Join(s.WorktreeRoot, ".arkaledge", "worktrees", worktree.SanitizeTaskID(taskID))
	full, err := safeJoin(root, rel)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	info, err := os.Lstat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		http.Error(w, "refusing to follow symlink", http.StatusForbidden)
		return
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !withinRoot(rootResolved, resolved) {
		http.Error(w, "path escapes worktree root", http.StatusForbidden)
		return
	}

	info, err = os.Stat(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		if indexInfo, err := os.Stat(filepath.Join(full, "index.html")); err == nil && !indexInfo.IsDir() {
			serveFile(w, filepath.Join(full, "index.html"))
			return
		}
		serveDirListing(w, full, rel)
		return
	}

	serveFile(w, full)
}

// safeJoin joins root and rel, rejecting NUL bytes and any result that
// would resolve outside root.
func safeJoin(root, rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fs.ErrInvalid
	}
	cleanRel := filepath.Clean("/" + rel)
	full := filepath.Join(root, cleanRel)
	if !withinRoot(filepath.Clean(root), full) {
		return "", fs.ErrInvalid
	}
	return full, nil
}

func withinRoot(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

func serveFile(w http.ResponseWriter, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = io.Copy(w, f)
}

// serveDirListing writes a minimal HTML directory listing with escaped
// entry names. Called only when the directory has no index.html, so this
// is always the fallback view, never the primary one.
func serveDirListing(w http.ResponseWriter, dir, rel string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body>\n", html.EscapeString("/"+rel))
	fmt.Fprintf(w, "<h1>%s</h1>\n<ul>\n", html.EscapeString("/"+rel))
	if rel != "" && rel != "." {
		fmt.Fprint(w, `<li><a href="../">../</a></li>`+"\n")
	}
	for _, e := range entries {
		name := e.Name()
		href := html.EscapeString(name)
		if e.IsDir() {
			href += "/"
		}
		fmt.Fprintf(w, `<li><a href="%s">%s</a></li>`+"\n", href, html.EscapeString(name))
	}
	fmt.Fprint(w, "</ul>\n</body></html>\n")
}
