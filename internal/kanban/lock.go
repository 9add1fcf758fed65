package kanban

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory, cross-process exclusive lock on a sidecar file
// (state file + ".lock"), acquired with a bounded retry budget. No library
// anywhere in the retrieved corpus offers OS-level advisory locking; the
// lowest-level ecosystem primitive already present transitively (through
// modernc.org/sqlite's own use of golang.org/x/sys) is promoted to a direct
// dependency here rather than reaching for a hand-rolled os.O_EXCL lockfile
// convention, which would be the actual stdlib-only fallback. See
// DESIGN.md for the full justification.
type fileLock struct {
	f *os.File
}

const (
	lockRetries  = 5
	lockMinSpace = 100 * time.Millisecond
)

// acquireLock opens (creating if needed) path+".lock" and attempts an
// exclusive, non-blocking flock, making up to lockRetries attempts with at
// least lockMinSpace between attempts. Returns ErrLocking if the budget is
// exhausted. logger may be nil, in which case retries are silent.
func acquireLock(path string, logger *slog.Logger) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file: %v", ErrLocking, err)
	}

	var lastErr error
	for attempt := 0; attempt < lockRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(lockMinSpace)
			if logger != nil {
				logger.Warn("kanban lock contended, retrying", "path", lockPath, "attempt", attempt)
			}
		}
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		lastErr = err
	}

	f.Close()
	if logger != nil {
		logger.Error("kanban lock exhausted retry budget", "path", lockPath, "error", lastErr)
	}
	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", ErrLocking, lockRetries, lastErr)
}

// release unlocks and closes the lock file.
func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
