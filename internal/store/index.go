package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"agentos/internal/domain/run"
)

// SQLIndex is the derivative relational projection over the event logs. It
// answers latest-per-key and windowed aggregate queries without replaying
// JSONL; it can always be rebuilt from the logs.
type SQLIndex struct {
	db *sql.DB
}

// NewSQLIndex opens (or creates) the index database.
func NewSQLIndex(dbPath string) (*SQLIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL,
		task_kind   TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		strategy_id TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL,
		latency_ms  INTEGER NOT NULL,
		sealed_at   TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id  TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		task_kind   TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		status      TEXT NOT NULL,
		error_kind  TEXT NOT NULL DEFAULT '',
		latency_ms  INTEGER NOT NULL,
		started_at  TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create attempts table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_kind_sealed ON runs(task_kind, sealed_at DESC)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_strategy_started ON attempts(strategy_id, started_at DESC)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_run_seq ON attempts(run_id, seq)`)

	return &SQLIndex{db: db}, nil
}

// Close closes the underlying database.
func (x *SQLIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

func (x *SQLIndex) RecordAttempt(ctx context.Context, attempt run.Attempt, kind run.TaskKind) error {
	_, err := x.db.ExecContext(ctx, `INSERT OR REPLACE INTO attempts
		(attempt_id, run_id, strategy_id, task_kind, seq, status, error_kind, latency_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.AttemptID, attempt.RunID, attempt.StrategyID, string(kind), attempt.Seq,
		string(attempt.Status), string(attempt.ErrorKind), attempt.Telemetry.LatencyMS,
		attempt.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index attempt %s: %w", attempt.AttemptID, err)
	}
	return nil
}

func (x *SQLIndex) RecordSummary(ctx context.Context, summary run.Summary, kind run.TaskKind) error {
	_, err := x.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(run_id, task_id, task_kind, outcome, strategy_id, attempts, latency_ms, sealed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.TaskID, string(kind), string(summary.Outcome),
		summary.ChosenStrategy, summary.AttemptsCount, summary.TotalLatencyMS,
		summary.SealedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index run %s: %w", summary.RunID, err)
	}
	return nil
}

func (x *SQLIndex) LatestRun(ctx context.Context, kind run.TaskKind) (*run.Summary, error) {
	row := x.db.QueryRowContext(ctx, `SELECT run_id, task_id, outcome, strategy_id, attempts, latency_ms, sealed_at
		FROM runs WHERE task_kind = ? ORDER BY sealed_at DESC LIMIT 1`, string(kind))
	summary, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return summary, err
}

func (x *SQLIndex) RecentRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := x.db.QueryContext(ctx, `SELECT run_id, task_id, outcome, strategy_id, attempts, latency_ms, sealed_at
		FROM runs ORDER BY sealed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []run.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*run.Summary, error) {
	var s run.Summary
	var outcome, sealedAt string
	if err := row.Scan(&s.RunID, &s.TaskID, &outcome, &s.ChosenStrategy, &s.AttemptsCount, &s.TotalLatencyMS, &sealedAt); err != nil {
		return nil, err
	}
	s.Outcome = run.Outcome(outcome)
	if t, err := time.Parse(time.RFC3339Nano, sealedAt); err == nil {
		s.SealedAt = t
	}
	return &s, nil
}

// StrategyWindows aggregates attempt outcomes per (strategy, task_kind)
// within the query window. p95 latency uses the discrete rank over the
// window's attempt latencies.
func (x *SQLIndex) StrategyWindows(ctx context.Context, q run.IndexQuery) ([]run.StrategyWindow, error) {
	where, args := windowFilter(q)
	rows, err := x.db.QueryContext(ctx, `SELECT strategy_id, task_kind,
			COUNT(*) AS samples,
			SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END) AS successes,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failures,
			SUM(CASE WHEN seq > 0 THEN 1 ELSE 0 END) AS fallback_runs,
			MAX(started_at) AS last_seen
		FROM attempts `+where+`
		GROUP BY strategy_id, task_kind
		ORDER BY strategy_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query strategy windows: %w", err)
	}
	defer rows.Close()

	var windows []run.StrategyWindow
	for rows.Next() {
		var w run.StrategyWindow
		var kind, lastSeen string
		if err := rows.Scan(&w.StrategyID, &kind, &w.Samples, &w.Successes, &w.Failures, &w.FallbackRuns, &lastSeen); err != nil {
			return nil, err
		}
		w.TaskKind = run.TaskKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
			w.LastSeen = t
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range windows {
		p95, err := x.p95Latency(ctx, windows[i].StrategyID, q)
		if err != nil {
			return nil, err
		}
		windows[i].P95LatencyMS = p95
	}
	return windows, nil
}

func (x *SQLIndex) p95Latency(ctx context.Context, strategyID string, q run.IndexQuery) (int64, error) {
	sub := run.IndexQuery{StrategyID: strategyID, TaskKind: q.TaskKind, Since: q.Since, Until: q.Until}
	where, args := windowFilter(sub)
	row := x.db.QueryRowContext(ctx, `SELECT latency_ms FROM attempts `+where+`
		ORDER BY latency_ms
		LIMIT 1 OFFSET (SELECT CAST(COUNT(*) * 95 / 100 AS INTEGER) FROM attempts `+where+`)`,
		append(append([]any{}, args...), args...)...)
	var p95 int64
	if err := row.Scan(&p95); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("query p95 latency: %w", err)
	}
	return p95, nil
}

func (x *SQLIndex) Hotspots(ctx context.Context, q run.IndexQuery) ([]run.Hotspot, error) {
	where, args := windowFilter(q)
	if where == "" {
		where = "WHERE status = 'failed'"
	} else {
		where += " AND status = 'failed'"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := x.db.QueryContext(ctx, `SELECT strategy_id, error_kind, COUNT(*) AS cnt
		FROM attempts `+where+`
		GROUP BY strategy_id, error_kind
		ORDER BY cnt DESC, strategy_id
		LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query hotspots: %w", err)
	}
	defer rows.Close()

	var hotspots []run.Hotspot
	for rows.Next() {
		var h run.Hotspot
		var kind string
		if err := rows.Scan(&h.StrategyID, &kind, &h.Count); err != nil {
			return nil, err
		}
		h.ErrorKind = run.ErrorKind(kind)
		hotspots = append(hotspots, h)
	}
	return hotspots, rows.Err()
}

func windowFilter(q run.IndexQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.StrategyID != "" {
		clauses = append(clauses, "strategy_id = ?")
		args = append(args, q.StrategyID)
	}
	if q.TaskKind != "" {
		clauses = append(clauses, "task_kind = ?")
		args = append(args, string(q.TaskKind))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "started_at < ?")
		args = append(args, q.Until.UTC().Format(time.RFC3339Nano))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
