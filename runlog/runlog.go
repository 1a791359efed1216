// Package runlog records submitted scrape and consolidation runs in
// SQLite so the control surface can list recent activity.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/slotscrape/dbopen"
	"github.com/hazyhaar/slotscrape/idgen"
)

// Schema creates the run_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS run_log (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	action       TEXT NOT NULL,
	stores       TEXT NOT NULL DEFAULT '[]',
	count        INTEGER NOT NULL DEFAULT 0,
	job_id       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_run_log_created ON run_log (created_at);
CREATE INDEX IF NOT EXISTS idx_run_log_job ON run_log (job_id);
`

// Actions recorded by the control surface.
const (
	ActionScrape        = "scrape"
	ActionFormatOffline = "format_offline"
)

// Entry is one run log row.
type Entry struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Action      string     `json:"action"`
	Stores      []string   `json:"selected_stores"`
	Count       int        `json:"count"`
	JobID       string     `json:"job_id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Message     string     `json:"message,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Log is the run log handle.
type Log struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// New returns a Log over db. Call EnsureTable once at startup.
func New(db *sql.DB) *Log {
	return &Log{db: db, newID: idgen.Default, now: time.Now}
}

// EnsureTable creates the run_log table if needed.
func (l *Log) EnsureTable(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("runlog: ensure table: %w", err)
	}
	return nil
}

// Append records e. ID and Timestamp are filled when empty.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Stores == nil {
		e.Stores = []string{}
	}
	if e.Count == 0 {
		e.Count = len(e.Stores)
	}
	names, err := json.Marshal(e.Stores)
	if err != nil {
		return e, fmt.Errorf("runlog: encode stores: %w", err)
	}
	_, err = dbopen.Exec(ctx, l.db,
		`INSERT INTO run_log (id, created_at, action, stores, count, job_id, status, message)
		 VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Action, string(names), e.Count, e.JobID, e.Status, e.Message,
	)
	if err != nil {
		return e, fmt.Errorf("runlog: append: %w", err)
	}
	return e, nil
}

// Finish stamps the outcome of the run bound to jobID.
func (l *Log) Finish(ctx context.Context, jobID, status, message string) error {
	_, err := dbopen.Exec(ctx, l.db,
		`UPDATE run_log SET status = ?, message = ?, completed_at = ? WHERE job_id = ?`,
		status, message, l.now().UnixMilli(), jobID,
	)
	if err != nil {
		return fmt.Errorf("runlog: finish %s: %w", jobID, err)
	}
	return nil
}

// Recent returns the n latest entries, oldest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, created_at, action, stores, count, job_id, status, message, completed_at
		FROM (SELECT * FROM run_log ORDER BY created_at DESC, id DESC LIMIT ?)
		ORDER BY created_at ASC, id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("runlog: recent: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			created   int64
			names     string
			completed sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &created, &e.Action, &names, &e.Count, &e.JobID, &e.Status, &e.Message, &completed); err != nil {
			return nil, fmt.Errorf("runlog: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(created)
		if completed.Valid {
			t := time.UnixMilli(completed.Int64)
			e.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(names), &e.Stores); err != nil {
			return nil, fmt.Errorf("runlog: decode stores of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
