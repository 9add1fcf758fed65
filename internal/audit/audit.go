// Package audit mirrors every TaskHistoryEvent into a SQLite database,
// giving operators a queryable audit trail alongside the kanban store's
// authoritative JSON document. Grounded on the teacher's internal/db
// package (madhatter5501/Factory), which uses modernc.org/sqlite as a
// pure-Go driver for exactly this kind of side-mirror; adapted here from
// the teacher's Ticket/PRD schema to a flat history-event mirror scoped to
// spec.md's Task/TaskHistoryEvent shape. The kanban JSON file remains the
// sole source of truth per spec.md §3 ("Kanban store exclusively owns
// KanbanState serialization"); this mirror is written best-effort and is
// never read back into scheduling decisions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arkaledge/orchestrator/internal/kanban"
)

// Mirror is a write-only SQLite sink for task history events.
type Mirror struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Mirror, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	m := &Mirror{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) migrate() error {
	_, err := m.db.Exec(`
CREATE TABLE IF NOT EXISTS task_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	agent_id TEXT,
	action TEXT NOT NULL,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id);
`)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// RecordTask mirrors every history entry on task that isn't already
// present (matched by task id + timestamp + action, since history entries
// are append-only and never mutated in place).
func (m *Mirror) RecordTask(ctx context.Context, task kanban.Task) error {
	for _, ev := range task.History {
		exists, err := m.has(ctx, task.ID, ev)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		_, err = m.db.ExecContext(ctx,
			`INSERT INTO task_history (task_id, timestamp, agent_id, action, detail) VALUES (?, ?, ?, ?, ?)`,
			task.ID, ev.Timestamp.Format(time.RFC3339Nano), ev.AgentID, string(ev.Action), ev.Detail)
		if err != nil {
			return fmt.Errorf("audit: insert: %w", err)
		}
	}
	return nil
}

func (m *Mirror) has(ctx context.Context, taskID string, ev kanban.TaskHistoryEvent) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM task_history WHERE task_id = ? AND timestamp = ? AND action = ?`,
		taskID, ev.Timestamp.Format(time.RFC3339Nano), string(ev.Action)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("audit: has: %w", err)
	}
	return n > 0, nil
}

// HistoryRow is one persisted audit row, returned by History for
// inspection tooling.
type HistoryRow struct {
	TaskID    string
	Timestamp time.Time
	AgentID   string
	Action    string
	Detail    string
}

// History returns every mirrored row for taskID in insertion order.
func (m *Mirror) History(ctx context.Context, taskID string) ([]HistoryRow, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT task_id, timestamp, agent_id, action, detail FROM task_history WHERE task_id = ? ORDER BY id ASC`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		var ts string
		if err := rows.Scan(&r.TaskID, &ts, &r.AgentID, &r.Action, &r.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (m *Mirror) Close() error {
	return m.db.Close()
}
