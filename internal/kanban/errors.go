package kanban

import "errors"

// Error kinds per the error handling design table: lock retry exhaustion is
// fatal to the caller, corrupt JSON is its own kind, unknown task ids are
// NotFound.
var (
	ErrNotFound     = errors.New("kanban: task not found")
	ErrStateCorrupt = errors.New("kanban: state file is corrupt")
	ErrLocking      = errors.New("kanban: could not acquire state file lock")
)
