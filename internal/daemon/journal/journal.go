// Package journal persists engine events to SQLite so `perch history` can
// answer questions about sessions that are long gone. Writes are best
// effort: a journal failure is logged, never propagated into the engine.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perchtools/perch/internal/tracker"

	_ "modernc.org/sqlite"
)

// Journal is an append-only event log backed by SQLite in WAL mode.
type Journal struct {
	db     *sql.DB
	logger *logrus.Entry
}

// Open opens (or creates) the journal database and initializes the schema.
func Open(logger *logrus.Entry, path string) (*Journal, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(2)

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		type         TEXT NOT NULL,
		agent_id     INTEGER NOT NULL,
		node         TEXT NOT NULL DEFAULT '',
		project_key  TEXT NOT NULL DEFAULT '',
		operation_id TEXT NOT NULL DEFAULT '',
		label        TEXT NOT NULL DEFAULT '',
		activity     TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id, id);
	CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_key, id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one event. Failures are logged and swallowed.
func (j *Journal) Record(ev tracker.Event) {
	_, err := j.db.Exec(
		`INSERT INTO events (type, agent_id, node, project_key, operation_id, label, activity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.AgentID, ev.Node, ev.ProjectKey,
		ev.OperationID, ev.Label, string(ev.Activity),
		ev.Time.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		j.logger.WithError(err).Debug("Journal write failed")
	}
}

// Entry is one journaled event as returned by queries.
type Entry struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	AgentID     int    `json:"agent_id"`
	Node        string `json:"node,omitempty"`
	ProjectKey  string `json:"project_key,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Label       string `json:"label,omitempty"`
	Activity    string `json:"activity,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Recent returns up to limit events, newest first, optionally filtered by
// project key.
func (j *Journal) Recent(projectKey string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, type, agent_id, node, project_key, operation_id, label, activity, created_at
	          FROM events`
	args := []interface{}{}
	if projectKey != "" {
		query += ` WHERE project_key = ?`
		args = append(args, projectKey)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Type, &e.AgentID, &e.Node, &e.ProjectKey,
			&e.OperationID, &e.Label, &e.Activity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
