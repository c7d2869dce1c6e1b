// Package usage provides the sqlite-backed usage-accounting ledger and
// worker episode store of spec.md §4.9.5 and §4.8 step 3 — the one
// persisted store spec.md §6.4's file layout doesn't enumerate, so it is
// free to use a real embedded database, grounded on the teacher's
// internal/persistence SQLiteStore.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/loomwork/loom/internal/resilience"
)

// Store is a sqlite-backed ledger of resilient-client call outcomes and
// worker episode records.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a sqlite database at dbPath, enabling WAL mode
// and a busy timeout, matching the teacher's NewSQLiteStore.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("usage: creating parent directories: %w", err)
			}
		}
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	if dbPath == ":memory:" {
		connStr = "file::memory:?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("usage: opening database: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms REAL NOT NULL DEFAULT 0,
		retries INTEGER NOT NULL DEFAULT 0,
		failover_used INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		ts REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_model ON usage_records(model);

	CREATE TABLE IF NOT EXISTS episodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		ts REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_agent ON episodes(agent_id, ts);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one resilience.UsageRecord. It satisfies
// resilience.UsageRecorder, letting the resilient client write straight to
// this durable ledger instead of (or alongside) the in-memory recorder.
func (s *Store) Record(rec resilience.UsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records
		 (provider, model, prompt_tokens, completion_tokens, total_tokens, latency_ms, retries, failover_used, success, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Provider, rec.Model, rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.LatencyMS, rec.Retries, boolToInt(rec.FailoverUsed), boolToInt(rec.Success), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("usage: recording call: %w", err)
	}
	return nil
}

// Summary recomputes resilience.Summary from the durable ledger, mirroring
// resilience.MemoryUsageRecorder.Summary for callers that want the durable
// view (e.g. the admin HTTP surface after a daemon restart).
func (s *Store) Summary(ctx context.Context) (resilience.Summary, error) {
	out := resilience.Summary{ByModel: make(map[string]resilience.ModelSummary)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(retries), 0),
		       COALESCE(SUM(failover_used), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM usage_records`)
	var successes int
	if err := row.Scan(&out.TotalCalls, &successes, &out.RetryCount, &out.FailoverCount, &out.AvgLatencyMS); err != nil {
		return out, fmt.Errorf("usage: summarizing totals: %w", err)
	}
	out.Successes = successes
	out.Failures = out.TotalCalls - successes

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(latency_ms), 0)
		FROM usage_records GROUP BY model`)
	if err != nil {
		return out, fmt.Errorf("usage: summarizing by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var ms resilience.ModelSummary
		var modelSuccesses int
		if err := rows.Scan(&model, &ms.Calls, &modelSuccesses, &ms.AvgLatencyMS); err != nil {
			return out, fmt.Errorf("usage: scanning model row: %w", err)
		}
		ms.Successes = modelSuccesses
		ms.Failures = ms.Calls - modelSuccesses
		out.ByModel[model] = ms
	}
	return out, rows.Err()
}

// RecordEpisode persists an opaque worker episode record, per spec.md §4.8
// step 3's "persist an episode record (opaque to the core)".
func (s *Store) RecordEpisode(ctx context.Context, agentID, taskID, payloadJSON string, ts float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (agent_id, task_id, payload, ts) VALUES (?, ?, ?, ?)`,
		agentID, taskID, payloadJSON, ts,
	)
	if err != nil {
		return fmt.Errorf("usage: recording episode: %w", err)
	}
	return nil
}

// Episode is one worker episode row.
type Episode struct {
	AgentID string
	TaskID  string
	Payload string
	Ts      float64
}

// EpisodesForAgent returns agentID's episode history, most recent first.
func (s *Store) EpisodesForAgent(ctx context.Context, agentID string, limit int) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, task_id, payload, ts FROM episodes WHERE agent_id = ? ORDER BY ts DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("usage: listing episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		if err := rows.Scan(&e.AgentID, &e.TaskID, &e.Payload, &e.Ts); err != nil {
			return nil, fmt.Errorf("usage: scanning episode row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
