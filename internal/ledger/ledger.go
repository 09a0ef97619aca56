// Package ledger journals runs and cycle outcomes in SQLite.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// ErrNoRun is returned when cycles are recorded before StartRun
var ErrNoRun = errors.New("ledger: no active run")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Entry is one journaled cycle
type Entry struct {
	RunID string `json:"run_id"`
	types.Outcome
}

// Ledger wraps the SQLite connection with thread-safe access
type Ledger struct {
	conn  *sql.DB
	mu    sync.RWMutex
	runID string
}

// Open creates or opens the ledger database at path
func Open(path string) (*Ledger, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, stmt := range pragmas {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	l := &Ledger{conn: conn}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return l, nil
}

// migrate creates the necessary tables if they don't exist.
func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		output_dir TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		iterations INTEGER DEFAULT 0,
		fire_detections INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		caption TEXT NOT NULL,
		is_fire INTEGER NOT NULL,
		keyword TEXT NOT NULL DEFAULT '',
		blip_ns INTEGER NOT NULL,
		http_ns INTEGER NOT NULL,
		alert_sent INTEGER NOT NULL,
		capture_fallback INTEGER NOT NULL,
		evidence_path TEXT NOT NULL DEFAULT '',
		snapshot_path TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, iteration);
	CREATE INDEX IF NOT EXISTS idx_cycles_fire ON cycles(is_fire);
	`
	_, err := l.conn.Exec(schema)
	return err
}

// StartRun opens a new run and makes it the target of RecordCycle
func (l *Ledger) StartRun(outputDir string, startedAt time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	_, err := l.conn.Exec(`
		INSERT INTO runs (id, output_dir, started_at)
		VALUES (?, ?, ?)
	`, id, outputDir, startedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	l.runID = id
	return id, nil
}

// RunID returns the active run id, or "" before StartRun
func (l *Ledger) RunID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.runID
}

// FinishRun stores the final loop state of the active run
func (l *Ledger) FinishRun(state types.LoopState, endedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runID == "" {
		return ErrNoRun
	}
	_, err := l.conn.Exec(`
		UPDATE runs SET ended_at = ?, iterations = ?, fire_detections = ?
		WHERE id = ?
	`, endedAt.UnixNano(), state.Iteration, state.FireDetections, l.runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordCycle appends one outcome to the active run
func (l *Ledger) RecordCycle(o types.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runID == "" {
		return ErrNoRun
	}
	r := o.Record
	_, err := l.conn.Exec(`
		INSERT INTO cycles (run_id, iteration, caption, is_fire, keyword, blip_ns, http_ns,
			alert_sent, capture_fallback, evidence_path, snapshot_path, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.runID, r.Iteration, r.Caption, r.Verdict.IsFire, r.Verdict.Keyword,
		int64(r.BlipTime), int64(r.HTTPLatency), o.AlertSent, o.CaptureFallback,
		o.EvidencePath, o.SnapshotPath, r.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// Cycles returns up to limit cycles of the active run, newest first
func (l *Ledger) Cycles(limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `
		SELECT run_id, iteration, caption, is_fire, keyword, blip_ns, http_ns,
			alert_sent, capture_fallback, evidence_path, snapshot_path, timestamp
		FROM cycles WHERE run_id = ?
		ORDER BY iteration DESC
	`
	args := []interface{}{l.runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			blip, ht int64
			ts       int64
		)
		err := rows.Scan(&e.RunID, &e.Record.Iteration, &e.Record.Caption,
			&e.Record.Verdict.IsFire, &e.Record.Verdict.Keyword, &blip, &ht,
			&e.AlertSent, &e.CaptureFallback, &e.EvidencePath, &e.SnapshotPath, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		e.Record.BlipTime = time.Duration(blip)
		e.Record.HTTPLatency = time.Duration(ht)
		e.Record.Timestamp = time.Unix(0, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DetectionCount returns the number of fire cycles in the active run
func (l *Ledger) DetectionCount() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count int
	err := l.conn.QueryRow(`SELECT COUNT(*) FROM cycles WHERE run_id = ? AND is_fire = 1`, l.runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.conn.Close()
}
