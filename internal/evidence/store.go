package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/swarmgate/internal/model"
)

// Store is the read-optimized evidence database for the emergence analyzer
// and post-run audit. It mirrors the JSONL chain; the chain stays
// authoritative for integrity disputes.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) a sqlite evidence database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("evidence: open database: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing database handle and runs migrations.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS decision_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		target TEXT NOT NULL,
		tool TEXT NOT NULL,
		outcome TEXT NOT NULL,
		decision_context JSON NOT NULL,
		emitted_signals JSON,
		run_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		tainted INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_decision_records_run ON decision_records(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_decision_records_action ON decision_records(action_id);

	CREATE TABLE IF NOT EXISTS kill_events (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		triggered_at DATETIME NOT NULL,
		bus_done_at DATETIME,
		process_done_at DATETIME,
		orch_done_at DATETIME,
		halted_at DATETIME,
		satisfied INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		unresolved JSON
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("evidence: migrate: %w", err)
	}
	return nil
}

// InsertRecord stores one decision record. Records are append-only and one
// action may contribute several: a sensitive action records a paused verdict
// while authorization is pending and an allow record once it executed.
func (s *Store) InsertRecord(ctx context.Context, rec model.DecisionRecord) error {
	dc, _ := json.Marshal(rec.DecisionContext)
	es, _ := json.Marshal(rec.EmittedSignals)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_records (
			action_id, agent_id, target, tool, outcome,
			decision_context, emitted_signals, run_id, timestamp, tainted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ActionID, rec.AgentID, rec.Target, rec.Tool, string(rec.Outcome),
		string(dc), string(es), string(rec.RunID),
		rec.Timestamp.UTC().Format(time.RFC3339Nano), boolInt(rec.Tainted),
	)
	if err != nil {
		return fmt.Errorf("evidence: insert record: %w", err)
	}
	return nil
}

// ListByRun returns the records for a run in timestamp order.
func (s *Store) ListByRun(ctx context.Context, run model.RunID) ([]model.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, agent_id, target, tool, outcome,
		       decision_context, emitted_signals, run_id, timestamp, tainted
		FROM decision_records
		WHERE run_id = ?
		ORDER BY timestamp ASC, id ASC`, string(run))
	if err != nil {
		return nil, fmt.Errorf("evidence: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.DecisionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: iterate records: %w", err)
	}
	return records, nil
}

// CountTainted returns how many records in a run carry the integrity flag.
func (s *Store) CountTainted(ctx context.Context, run model.RunID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decision_records WHERE run_id = ? AND tainted = 1`,
		string(run)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("evidence: count tainted: %w", err)
	}
	return n, nil
}

// InsertKillEvent stores a finalized kill event for post-run audit.
func (s *Store) InsertKillEvent(ctx context.Context, ev model.KillEvent) error {
	unresolved, _ := json.Marshal(ev.Unresolved)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kill_events (
			id, source, triggered_at, bus_done_at, process_done_at,
			orch_done_at, halted_at, satisfied, timed_out, unresolved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Source), fmtTime(&ev.TriggeredAt),
		fmtTime(ev.BusDoneAt), fmtTime(ev.ProcessDoneAt), fmtTime(ev.OrchDoneAt),
		fmtTime(ev.HaltedAt), boolInt(ev.Satisfied), boolInt(ev.TimedOut),
		string(unresolved),
	)
	if err != nil {
		return fmt.Errorf("evidence: insert kill event: %w", err)
	}
	return nil
}

// ListKillEvents returns all stored kill events, newest first.
func (s *Store) ListKillEvents(ctx context.Context) ([]model.KillEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, triggered_at, bus_done_at, process_done_at,
		       orch_done_at, halted_at, satisfied, timed_out, unresolved
		FROM kill_events ORDER BY triggered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("evidence: query kill events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.KillEvent
	for rows.Next() {
		var ev model.KillEvent
		var source, triggeredAt, unresolved string
		var busDone, procDone, orchDone, haltedAt sql.NullString
		var satisfied, timedOut int
		if err := rows.Scan(&ev.ID, &source, &triggeredAt, &busDone, &procDone,
			&orchDone, &haltedAt, &satisfied, &timedOut, &unresolved); err != nil {
			return nil, fmt.Errorf("evidence: scan kill event: %w", err)
		}
		ev.Source = model.KillSource(source)
		ev.TriggeredAt = parseTime(triggeredAt)
		ev.BusDoneAt = parseNullTime(busDone)
		ev.ProcessDoneAt = parseNullTime(procDone)
		ev.OrchDoneAt = parseNullTime(orchDone)
		ev.HaltedAt = parseNullTime(haltedAt)
		ev.Satisfied = satisfied == 1
		ev.TimedOut = timedOut == 1
		if unresolved != "" {
			_ = json.Unmarshal([]byte(unresolved), &ev.Unresolved)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: iterate kill events: %w", err)
	}
	return events, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.DecisionRecord, error) {
	var rec model.DecisionRecord
	var outcome, dc, run, ts string
	var es sql.NullString
	var tainted int

	if err := row.Scan(&rec.ActionID, &rec.AgentID, &rec.Target, &rec.Tool,
		&outcome, &dc, &es, &run, &ts, &tainted); err != nil {
		return rec, fmt.Errorf("evidence: scan record: %w", err)
	}

	rec.Outcome = model.Verdict(outcome)
	rec.RunID = model.RunID(run)
	rec.Timestamp = parseTime(ts)
	rec.Tainted = tainted == 1
	_ = json.Unmarshal([]byte(dc), &rec.DecisionContext)
	if es.Valid && es.String != "" {
		_ = json.Unmarshal([]byte(es.String), &rec.EmittedSignals)
	}
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
