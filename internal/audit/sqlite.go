package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS audit_records (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    ts         TEXT NOT NULL,
    run_id     TEXT NOT NULL DEFAULT '',
    segment    TEXT NOT NULL DEFAULT '',
    action     TEXT NOT NULL,
    actor      TEXT NOT NULL DEFAULT '',
    diff       TEXT NOT NULL DEFAULT '{}',
    prev_hash  TEXT NOT NULL DEFAULT '',
    hash       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_records_ts ON audit_records(ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action);
`,
	},
	{
		version: 2,
		sql:     `CREATE INDEX IF NOT EXISTS idx_audit_records_run ON audit_records(run_id, segment);`,
	},
}

// SQLiteSink persists audit records in a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteSink) Record(ctx context.Context, rec Record) error {
	diff := []byte("{}")
	if rec.Diff != nil {
		var err error
		if diff, err = json.Marshal(rec.Diff); err != nil {
			return fmt.Errorf("encode diff: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_records(id, ts, run_id, segment, action, actor, diff, prev_hash, hash)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.RunID, rec.Segment,
		string(rec.Action), rec.Actor, string(diff), rec.PrevHash, rec.Hash,
	)
	return err
}

// Tail returns up to limit of the newest records, oldest first.
func (s *SQLiteSink) Tail(ctx context.Context, limit int) ([]Record, error) {
	return s.Query(ctx, Query{Limit: limit})
}

// Query filters stored records. Results are oldest first.
type Query struct {
	Action  Action
	RunID   string
	Segment string
	Limit   int
}

func (s *SQLiteSink) Query(ctx context.Context, q Query) ([]Record, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	var where []string
	var args []any
	if q.Action != "" {
		where = append(where, `action = ?`)
		args = append(args, string(q.Action))
	}
	if q.RunID != "" {
		where = append(where, `run_id = ?`)
		args = append(args, q.RunID)
	}
	if q.Segment != "" {
		where = append(where, `segment = ?`)
		args = append(args, q.Segment)
	}
	query := `SELECT id, ts, run_id, segment, action, actor, diff, prev_hash, hash FROM audit_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts, action, diff string
		if err := rows.Scan(&rec.ID, &ts, &rec.RunID, &rec.Segment, &action, &rec.Actor, &diff, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, err
		}
		rec.Action = Action(action)
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if diff != "" && diff != "{}" {
			if err := json.Unmarshal([]byte(diff), &rec.Diff); err != nil {
				return nil, fmt.Errorf("decode diff of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
